package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Backend names.
const (
	BackendREST   = "rest"
	BackendGoogle = "google"
)

// EnvPrefix prefixes environment overrides, e.g. TASKSYNC_STORE_URL.
const EnvPrefix = "TASKSYNC"

// Settings are the user-tunable options.
type Settings struct {
	Backend      string        `mapstructure:"backend"`
	StoreURL     string        `mapstructure:"store_url"`
	ClientID     string        `mapstructure:"client_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		Backend:      BackendREST,
		StoreURL:     "http://localhost:8787",
		ClientID:     "tasksync-cli",
		Timeout:      5 * time.Second,
		PollInterval: 15 * time.Second,
	}
}

// LoadSettings reads path (if present) over the defaults and applies
// TASKSYNC_* environment overrides.
func LoadSettings(path string) (Settings, error) {
	def := DefaultSettings()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("backend", def.Backend)
	v.SetDefault("store_url", def.StoreURL)
	v.SetDefault("client_id", def.ClientID)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings for values no backend can use.
func (s Settings) Validate() error {
	switch s.Backend {
	case BackendREST, BackendGoogle:
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", s.Backend, BackendREST, BackendGoogle)
	}
	if s.Backend == BackendREST && s.StoreURL == "" {
		return errors.New("store_url is required for the rest backend")
	}
	if s.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if s.PollInterval <= 0 {
		return errors.New("poll_interval must be positive")
	}
	return nil
}

type settingsFile struct {
	Backend      string `yaml:"backend"`
	StoreURL     string `yaml:"store_url"`
	ClientID     string `yaml:"client_id"`
	Timeout      string `yaml:"timeout"`
	PollInterval string `yaml:"poll_interval"`
}

// WriteSettings writes s to path as YAML. An existing file is kept unless
// overwrite is set.
func WriteSettings(path string, s Settings, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(settingsFile{
		Backend:      s.Backend,
		StoreURL:     s.StoreURL,
		ClientID:     s.ClientID,
		Timeout:      s.Timeout.String(),
		PollInterval: s.PollInterval.String(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
