package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"tasksync/internal/service"
	"tasksync/internal/task"
)

const eventBuffer = 16

// Subscribe opens the server-sent change stream. The server registers the
// stream before it answers, so changes committed after Subscribe returns
// are delivered.
func (c *Client) Subscribe(ctx context.Context) (service.Subscription, error) {
	authed, err := c.client()
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.endpoint(streamPath), nil)
	if err != nil {
		cancel()
		return nil, &task.StoreError{Op: "subscribe", Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := authed.Do(req)
	if err != nil {
		cancel()
		return nil, c.wrapError("subscribe", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		cancel()
		return nil, c.statusFailure("subscribe", resp)
	}

	sub := &stream{
		events: make(chan task.Change, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.subs.Add(sub)

	go func() {
		defer close(sub.done)
		defer close(sub.events)
		defer resp.Body.Close()
		defer c.subs.Remove(sub)

		err := readEvents(streamCtx, resp.Body, sub.events)
		if err != nil && streamCtx.Err() == nil {
			c.logger.Warn("change stream ended", "error", err)
		}
	}()

	return sub, nil
}

type stream struct {
	events chan task.Change
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *stream) Events() <-chan task.Change {
	return s.events
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

// readEvents parses a text/event-stream body and forwards every change
// event until the body ends or ctx is cancelled.
func readEvents(ctx context.Context, body io.Reader, out chan<- task.Change) error {
	scanner := bufio.NewScanner(body)
	var (
		event string
		data  []string
	)

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if len(data) > 0 && (event == "" || event == "change") {
				var change task.Change
				if err := json.Unmarshal([]byte(strings.Join(data, "\n")), &change); err == nil {
					select {
					case out <- change:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
			event, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("stream closed by server")
}
