package googletasks

import (
	"context"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"tasksync/internal/service"
	"tasksync/internal/task"
)

// Subscribe watches the default list by polling. Google Tasks has no push
// channel for tasks, so a change is reported whenever the list fingerprint
// differs from the previous poll.
func (c *Client) Subscribe(ctx context.Context) (service.Subscription, error) {
	initial, err := c.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	pollCtx, cancel := context.WithCancel(ctx)
	sub := &poller{
		events: make(chan task.Change, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	c.subs.Add(sub)

	go func() {
		defer close(sub.done)
		defer close(sub.events)
		defer c.subs.Remove(sub)
		c.poll(pollCtx, fingerprint(initial), sub.events)
	}()

	return sub, nil
}

func (c *Client) poll(ctx context.Context, last uint64, out chan<- task.Change) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		current, err := c.ListTasks(ctx)
		if err != nil {
			if task.IsAuth(err) {
				c.logger.Warn("stopping change polling", "error", err)
				return
			}
			c.logger.Debug("change poll failed", "error", err)
			continue
		}

		sum := fingerprint(current)
		if sum == last {
			continue
		}
		last = sum

		select {
		case out <- task.Change{Kind: task.ChangeUpdate}:
		case <-ctx.Done():
			return
		}
	}
}

// fingerprint summarizes every field a reload would observe.
func fingerprint(tasks []task.Task) uint64 {
	h := fnv.New64a()
	for _, t := range tasks {
		io.WriteString(h, t.ID)
		io.WriteString(h, "\x00")
		io.WriteString(h, t.Title)
		io.WriteString(h, "\x00")
		io.WriteString(h, t.CreatedAt.Format(time.RFC3339Nano))
		if t.IsDone {
			io.WriteString(h, "\x01")
		} else {
			io.WriteString(h, "\x00")
		}
	}
	return h.Sum64()
}

type poller struct {
	events chan task.Change
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (p *poller) Events() <-chan task.Change {
	return p.events
}

func (p *poller) Close() error {
	p.once.Do(func() {
		p.cancel()
		<-p.done
	})
	return nil
}
