// Package connmgr maintains one event-stream subscription per discovered
// backend server and merges their events into a single tagged feed.
//
// The manager polls the discovery provider on a fixed interval, opens a
// subscription for every server it has not seen, retires subscriptions whose
// server disappeared from a successful poll, and keeps two best-effort
// routing caches: directory -> ports (replaced wholesale each poll) and
// session -> port (learned opportunistically from event payloads). A failed
// discovery call carries no information and never tears anything down.
package connmgr

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkotake/fleetview/internal/backoff"
	"github.com/mkotake/fleetview/internal/config"
	"github.com/mkotake/fleetview/internal/discovery"
	"github.com/mkotake/fleetview/internal/model"
)

type subscriber struct {
	id string
	fn func(model.AggregatedEvent)
}

type Manager struct {
	cfg        config.Config
	provider   discovery.Provider
	policy     backoff.Policy
	httpClient *http.Client

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	conns       map[int]*conn
	dirToPorts  map[string][]int
	sessionPort map[string]int
	subscribers []subscriber

	wg sync.WaitGroup
}

func New(cfg config.Config, provider discovery.Provider) *Manager {
	return &Manager{
		cfg:         cfg,
		provider:    provider,
		policy:      backoff.Policy{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		httpClient:  &http.Client{},
		conns:       map[int]*conn{},
		dirToPorts:  map[string][]int{},
		sessionPort: map[string]int{},
	}
}

// WithHTTPClient overrides the stream transport. Test hook.
func (m *Manager) WithHTTPClient(client *http.Client) *Manager {
	if client != nil {
		m.httpClient = client
	}
	return m
}

// Start begins periodic discovery. Idempotent while running.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel

	m.wg.Add(1)
	go m.discoverLoop(runCtx)
}

// Stop aborts every open subscription and the discovery loop, then waits for
// them to wind down. Safe to call when not started.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()

	m.mu.Lock()
	m.conns = map[int]*conn{}
	m.dirToPorts = map[string][]int{}
	m.sessionPort = map[string]int{}
	m.mu.Unlock()
}

// OnEvent registers a listener for every aggregated event. The returned
// function unregisters it; safe to call from inside the callback.
func (m *Manager) OnEvent(fn func(model.AggregatedEvent)) func() {
	id := uuid.NewString()
	m.mu.Lock()
	m.subscribers = append(m.subscribers, subscriber{id: id, fn: fn})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subscribers {
			if sub.id == id {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				return
			}
		}
	}
}

// publish delivers one event to a snapshot of the subscriber list, so a
// callback may unregister itself mid-dispatch.
func (m *Manager) publish(ev model.AggregatedEvent) {
	m.mu.RLock()
	subs := append([]subscriber(nil), m.subscribers...)
	m.mu.RUnlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}

func (m *Manager) learnSession(sessionID string, port int) {
	m.mu.Lock()
	m.sessionPort[sessionID] = port
	m.mu.Unlock()
}

// PortsForDirectory returns the ports serving a directory, preferred first.
// Absence is a valid answer.
func (m *Manager) PortsForDirectory(directory string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.dirToPorts[directory]...)
}

// PortForSession returns the port last seen emitting events for a session.
func (m *Manager) PortForSession(sessionID string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	port, ok := m.sessionPort[sessionID]
	if !ok {
		return 0, false
	}
	// a cached port whose connection is gone is a miss, not an error
	if _, live := m.conns[port]; !live {
		return 0, false
	}
	return port, true
}

// BaseURLForSession resolves session affinity first, then the directory
// mapping. Empty string when neither cache has an answer.
func (m *Manager) BaseURLForSession(sessionID, directory string) string {
	if sessionID != "" {
		if port, ok := m.PortForSession(sessionID); ok {
			return model.BaseURLForPort(port)
		}
	}
	if ports := m.PortsForDirectory(directory); len(ports) > 0 {
		return model.BaseURLForPort(ports[0])
	}
	return ""
}

// States reports a snapshot of every live subscription, ordered by port.
func (m *Manager) States() []model.ConnState {
	m.mu.RLock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	out := make([]model.ConnState, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

func (m *Manager) discoverLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.DiscoverInterval)
	defer ticker.Stop()

	m.discoverOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.discoverOnce(ctx)
		}
	}
}

// discoverOnce runs one poll. A provider error means "no information": skip
// the tick, touch nothing. A successful result, empty included, is
// authoritative and reconciles connections and the directory table.
func (m *Manager) discoverOnce(ctx context.Context) {
	servers, err := m.provider.Discover(ctx)
	if err != nil {
		return
	}
	m.reconcile(ctx, servers)
}

func (m *Manager) reconcile(ctx context.Context, servers []model.ServerInfo) {
	dirToPorts := map[string][]int{}
	seen := map[int]string{}
	for _, srv := range servers {
		if srv.Port <= 0 {
			continue
		}
		if _, dup := seen[srv.Port]; dup {
			continue
		}
		seen[srv.Port] = srv.Directory
		dirToPorts[srv.Directory] = append(dirToPorts[srv.Directory], srv.Port)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}

	// wholesale replace: the table is rebuilt from scratch every poll
	m.dirToPorts = dirToPorts

	for port, c := range m.conns {
		if _, ok := seen[port]; ok {
			continue
		}
		c.cancel()
		delete(m.conns, port)
		for sid, p := range m.sessionPort {
			if p == port {
				delete(m.sessionPort, sid)
			}
		}
	}

	for port, directory := range seen {
		if _, ok := m.conns[port]; ok {
			continue
		}
		connCtx, cancel := context.WithCancel(ctx)
		c := &conn{
			mgr:       m,
			port:      port,
			directory: directory,
			cancel:    cancel,
			status:    model.ConnConnecting,
		}
		m.conns[port] = c
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			c.run(connCtx)
		}()
	}
}
