package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mkotake/fleetview/internal/model"
)

// errHealthTimeout marks a stream cycled by the silence watchdog rather than
// by a transport failure.
var errHealthTimeout = errors.New("no events within health timeout")

// eventStreamPath is the well-known long-lived stream endpoint every backend
// serves.
const eventStreamPath = "/event"

// conn owns one backend subscription: the stream-read loop, its reconnect
// cycle, and the mutable connection state. Only its own goroutine writes the
// state; snapshots go out through snapshot().
type conn struct {
	mgr       *Manager
	port      int
	directory string
	cancel    context.CancelFunc

	mu          sync.Mutex
	status      model.ConnStatus
	failures    int
	lastEventAt time.Time
}

func (c *conn) snapshot() model.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.ConnState{
		Port:         c.port,
		Directory:    c.directory,
		Status:       c.status,
		FailureCount: c.failures,
		LastEventAt:  c.lastEventAt,
	}
}

func (c *conn) setStatus(status model.ConnStatus) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *conn) markEvent(now time.Time) {
	c.mu.Lock()
	c.lastEventAt = now
	c.mu.Unlock()
}

func (c *conn) resetFailures() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

func (c *conn) bumpFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	return c.failures
}

// run cycles Connecting -> Open -> Reconnecting until ctx is canceled.
// Stream failures are absorbed into backoff; nothing propagates.
func (c *conn) run(ctx context.Context) {
	for {
		c.setStatus(model.ConnConnecting)
		err := c.streamOnce(ctx)
		if ctx.Err() != nil {
			c.setStatus(model.ConnClosed)
			return
		}
		switch {
		case errors.Is(err, errHealthTimeout):
			fmt.Fprintf(os.Stderr, "fleetview: port %d silent past health timeout, cycling\n", c.port)
		case err != nil:
			fmt.Fprintf(os.Stderr, "fleetview: stream port %d: %v\n", c.port, err)
		}

		failures := c.bumpFailures()
		c.setStatus(model.ConnReconnecting)
		if err := sleepWithContext(ctx, c.mgr.policy.NextDelay(failures-1)); err != nil {
			c.setStatus(model.ConnClosed)
			return
		}
	}
}

// streamOnce opens the event stream and reads frames until it drops, the
// health watchdog fires, or ctx is canceled. A frame parsed before
// cancellation is still dispatched.
func (c *conn) streamOnce(ctx context.Context) error {
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, model.BaseURLForPort(c.port)+eventStreamPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.mgr.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream: http %d", resp.StatusCode)
	}

	c.setStatus(model.ConnOpen)
	c.resetFailures()
	c.markEvent(time.Now().UTC())
	c.mgr.publish(model.AggregatedEvent{
		Directory: c.directory,
		Port:      c.port,
		Payload:   model.Event{Type: model.EventServerConnected},
	})
	c.seedSessions(ctx)

	// silence past the health timeout kills this attempt and cycles the
	// normal reconnect path
	watchdog := time.AfterFunc(c.mgr.cfg.HealthTimeout, cancelAttempt)
	defer watchdog.Stop()

	err = readEventStream(resp.Body, func(data string) {
		watchdog.Reset(c.mgr.cfg.HealthTimeout)
		c.handleFrame(data)
	})
	// the attempt context dying while the parent lives means the watchdog
	// fired, whatever error the aborted read surfaced as
	if attemptCtx.Err() != nil && ctx.Err() == nil {
		return errHealthTimeout
	}
	return err
}

// seedSessions replays the backend's current session list as upsert events so
// the synchronizer holds sessions created before this stream opened. Upserts
// are idempotent, so re-seeding on every reconnect is harmless. Failure is
// absorbed; the live stream still catches everything going forward.
func (c *conn) seedSessions(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, c.mgr.cfg.UnaryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, model.BaseURLForPort(c.port)+"/session", nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.mgr.httpClient.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return
	}

	var sessions []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return
	}
	for _, info := range sessions {
		ev := model.Event{
			Type:       model.EventSessionUpdated,
			Properties: model.Properties{Info: info},
		}
		if sid := affinitySessionID(ev); sid != "" {
			c.mgr.learnSession(sid, c.port)
		}
		c.mgr.publish(model.AggregatedEvent{Directory: c.directory, Port: c.port, Payload: ev})
	}
}

func (c *conn) handleFrame(data string) {
	var ev model.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil || ev.Type == "" {
		fmt.Fprintf(os.Stderr, "fleetview: drop malformed frame from port %d\n", c.port)
		return
	}
	c.markEvent(time.Now().UTC())
	if sid := affinitySessionID(ev); sid != "" {
		c.mgr.learnSession(sid, c.port)
	}
	c.mgr.publish(model.AggregatedEvent{Directory: c.directory, Port: c.port, Payload: ev})
}

// affinitySessionID pulls a session identifier out of any payload that
// carries one. This is the only way session->port affinity is ever learned.
func affinitySessionID(ev model.Event) string {
	if id := ev.Properties.SessionID; id != "" {
		return id
	}
	if part := ev.Properties.Part; part != nil && part.SessionID != "" {
		return part.SessionID
	}
	if len(ev.Properties.Info) == 0 {
		return ""
	}
	var info struct {
		ID        string `json:"id"`
		SessionID string `json:"sessionID"`
	}
	if err := json.Unmarshal(ev.Properties.Info, &info); err != nil {
		return ""
	}
	if strings.HasPrefix(ev.Type, "session.") {
		return info.ID
	}
	return info.SessionID
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
