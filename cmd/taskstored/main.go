// Package main is the entry point for the taskstored daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"tasksync/internal/taskstore"
)

// Version is the daemon version. Set at build time.
var Version = "0.1.0"

type serveOptions struct {
	addr      string
	database  string
	heartbeat time.Duration
	verbose   bool
}

func main() {
	root := &cobra.Command{
		Use:           "taskstored",
		Short:         "Self-hosted task store for tasksync",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the task store HTTP API",
		Long: `Serve the task store: identity endpoints, row-scoped task CRUD,
a server-sent change stream and Prometheus metrics.

Example:
  taskstored serve --addr :8787 --db ./tasks.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.addr, "addr", ":8787", "listen address")
	cmd.Flags().StringVar(&opts.database, "db", "tasks.db", "path to SQLite database")
	cmd.Flags().DurationVar(&opts.heartbeat, "heartbeat", taskstore.DefaultHeartbeat, "change stream keep-alive interval")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every request")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("opening database", "path", opts.database)
	db, err := taskstore.Open(opts.database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	srv := taskstore.NewServer(taskstore.NewStore(db), taskstore.Options{
		Logger:    logger,
		Heartbeat: opts.heartbeat,
	})
	httpServer := &http.Server{
		Addr:              opts.addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", opts.addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Change streams never finish on their own; close them after the grace period.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return httpServer.Close()
	}
	return nil
}
