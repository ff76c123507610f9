package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkotake/fleetview/internal/config"
	"github.com/mkotake/fleetview/internal/discovery"
	"github.com/mkotake/fleetview/internal/model"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.DiscoverInterval = 20 * time.Millisecond
	cfg.HealthTimeout = 2 * time.Second
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 10 * time.Millisecond
	return cfg
}

func mustDecodeEvent(t *testing.T, data string) model.Event {
	t.Helper()
	var ev model.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	return ev
}

// sseServer serves a fixed set of frames on /event, then keeps the stream
// open until the client goes away.
type sseServer struct {
	ts       *httptest.Server
	port     int
	frames   []string
	connects atomic.Int32
	hangup   bool // close the stream after writing frames
}

func newSSEServer(t *testing.T, hangup bool, frames ...string) *sseServer {
	t.Helper()
	srv := &sseServer{frames: frames, hangup: hangup}
	srv.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/event" {
			http.NotFound(w, r)
			return
		}
		srv.connects.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, frame := range srv.frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
		if srv.hangup {
			return
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.ts.Close)

	_, portStr, err := net.SplitHostPort(srv.ts.Listener.Addr().String())
	require.NoError(t, err)
	_, err = fmt.Sscanf(portStr, "%d", &srv.port)
	require.NoError(t, err)
	return srv
}

// flipProvider is a discovery provider whose answer can change mid-test.
type flipProvider struct {
	mu      sync.Mutex
	servers []model.ServerInfo
	err     error
}

func (p *flipProvider) Discover(context.Context) ([]model.ServerInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	return append([]model.ServerInfo(nil), p.servers...), nil
}

func (p *flipProvider) set(servers []model.ServerInfo, err error) {
	p.mu.Lock()
	p.servers = servers
	p.err = err
	p.mu.Unlock()
}

type eventSink struct {
	mu     sync.Mutex
	events []model.AggregatedEvent
}

func (s *eventSink) add(ev model.AggregatedEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) byType(typ string) []model.AggregatedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AggregatedEvent
	for _, ev := range s.events {
		if ev.Payload.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestManagerAggregatesAndTagsByOrigin(t *testing.T) {
	t.Parallel()

	srvA := newSSEServer(t, false, `{"type":"session.status","properties":{"sessionID":"ses_a","status":"busy"}}`)
	srvB := newSSEServer(t, false, `{"type":"session.status","properties":{"sessionID":"ses_b","status":"idle"}}`)

	provider := &flipProvider{servers: []model.ServerInfo{
		{Port: srvA.port, Directory: "/proj-a"},
		{Port: srvB.port, Directory: "/proj-b"},
	}}

	mgr := New(testConfig(), provider)
	sink := &eventSink{}
	mgr.OnEvent(sink.add)

	mgr.Start(context.Background())
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		return len(sink.byType(model.EventSessionStatus)) == 2
	}, 3*time.Second, 10*time.Millisecond)

	for _, ev := range sink.byType(model.EventSessionStatus) {
		switch ev.Payload.Properties.SessionID {
		case "ses_a":
			assert.Equal(t, "/proj-a", ev.Directory)
			assert.Equal(t, srvA.port, ev.Port)
		case "ses_b":
			assert.Equal(t, "/proj-b", ev.Directory)
			assert.Equal(t, srvB.port, ev.Port)
		default:
			t.Fatalf("unexpected session %q", ev.Payload.Properties.SessionID)
		}
	}

	// affinity learned opportunistically from the status events
	port, ok := mgr.PortForSession("ses_a")
	require.True(t, ok)
	assert.Equal(t, srvA.port, port)

	assert.Equal(t, []int{srvA.port}, mgr.PortsForDirectory("/proj-a"))
	assert.Empty(t, mgr.PortsForDirectory("/proj-unknown"))
	assert.Equal(t, model.BaseURLForPort(srvB.port), mgr.BaseURLForSession("ses_b", "/proj-a"))
}

func TestManagerRetiresConnectionsOnConfirmedEmptyDiscovery(t *testing.T) {
	t.Parallel()

	srv := newSSEServer(t, false, `{"type":"session.status","properties":{"sessionID":"ses_1","status":"busy"}}`)
	provider := &flipProvider{servers: []model.ServerInfo{{Port: srv.port, Directory: "/proj-a"}}}

	mgr := New(testConfig(), provider)
	mgr.Start(context.Background())
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		_, ok := mgr.PortForSession("ses_1")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	// successful empty poll is authoritative: prune everything
	provider.set(nil, nil)

	require.Eventually(t, func() bool {
		return len(mgr.States()) == 0
	}, 3*time.Second, 10*time.Millisecond)

	_, ok := mgr.PortForSession("ses_1")
	assert.False(t, ok)
	assert.Empty(t, mgr.PortsForDirectory("/proj-a"))
}

func TestManagerKeepsConnectionsOnDiscoveryFailure(t *testing.T) {
	t.Parallel()

	srv := newSSEServer(t, false, `{"type":"session.status","properties":{"sessionID":"ses_1","status":"busy"}}`)
	provider := &flipProvider{servers: []model.ServerInfo{{Port: srv.port, Directory: "/proj-a"}}}

	mgr := New(testConfig(), provider)
	mgr.Start(context.Background())
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		states := mgr.States()
		return len(states) == 1 && states[0].Status == model.ConnOpen
	}, 3*time.Second, 10*time.Millisecond)

	// failed poll carries no information: nothing is torn down
	provider.set(nil, errors.New("discovery transport down"))
	time.Sleep(100 * time.Millisecond)

	states := mgr.States()
	require.Len(t, states, 1)
	assert.Equal(t, model.ConnOpen, states[0].Status)
	assert.Equal(t, []int{srv.port}, mgr.PortsForDirectory("/proj-a"))
}

func TestManagerReconnectsAfterStreamDrop(t *testing.T) {
	t.Parallel()

	srv := newSSEServer(t, true, `{"type":"session.status","properties":{"sessionID":"ses_1","status":"busy"}}`)
	provider := &flipProvider{servers: []model.ServerInfo{{Port: srv.port, Directory: "/proj-a"}}}

	mgr := New(testConfig(), provider)
	mgr.Start(context.Background())
	defer mgr.Stop()

	// the server hangs up after each frame; the manager keeps cycling the
	// reconnect path and routing entries survive the drops
	require.Eventually(t, func() bool {
		return srv.connects.Load() >= 3
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, []int{srv.port}, mgr.PortsForDirectory("/proj-a"))
	port, ok := mgr.PortForSession("ses_1")
	require.True(t, ok)
	assert.Equal(t, srv.port, port)
}

func TestManagerCyclesSilentStreamPastHealthTimeout(t *testing.T) {
	t.Parallel()

	// the server emits one frame and then keeps the stream open in silence;
	// only the watchdog can cycle it
	srv := newSSEServer(t, false, `{"type":"session.status","properties":{"sessionID":"ses_1","status":"busy"}}`)
	provider := &flipProvider{servers: []model.ServerInfo{{Port: srv.port, Directory: "/proj-a"}}}

	cfg := testConfig()
	cfg.HealthTimeout = 150 * time.Millisecond

	mgr := New(cfg, provider)
	mgr.Start(context.Background())
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		return srv.connects.Load() >= 3
	}, 5*time.Second, 10*time.Millisecond)

	// routing entries survive every cycle
	assert.Equal(t, []int{srv.port}, mgr.PortsForDirectory("/proj-a"))
	port, ok := mgr.PortForSession("ses_1")
	require.True(t, ok)
	assert.Equal(t, srv.port, port)

	// a successful reopen clears the failure count
	require.Eventually(t, func() bool {
		states := mgr.States()
		return len(states) == 1 &&
			states[0].Status == model.ConnOpen &&
			states[0].FailureCount == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestManagerDropsMalformedFrames(t *testing.T) {
	t.Parallel()

	srv := newSSEServer(t, false,
		`{not json at all`,
		`{"no_type_field":true}`,
		`{"type":"session.status","properties":{"sessionID":"ses_ok","status":"busy"}}`,
	)
	provider := &flipProvider{servers: []model.ServerInfo{{Port: srv.port, Directory: "/proj-a"}}}

	mgr := New(testConfig(), provider)
	sink := &eventSink{}
	mgr.OnEvent(sink.add)
	mgr.Start(context.Background())
	defer mgr.Stop()

	require.Eventually(t, func() bool {
		return len(sink.byType(model.EventSessionStatus)) == 1
	}, 3*time.Second, 10*time.Millisecond)

	assert.Equal(t, "ses_ok", sink.byType(model.EventSessionStatus)[0].Payload.Properties.SessionID)
}

func TestManagerSeedsSessionsOnConnect(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session":
			_ = json.NewEncoder(w).Encode([]model.Session{{ID: "ses_old_1"}, {ID: "ses_old_2"}})
		case "/event":
			w.Header().Set("Content-Type", "text/event-stream")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(ts.Close)

	var port int
	_, portStr, err := net.SplitHostPort(ts.Listener.Addr().String())
	require.NoError(t, err)
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)

	provider := &flipProvider{servers: []model.ServerInfo{{Port: port, Directory: "/proj-a"}}}
	mgr := New(testConfig(), provider)
	sink := &eventSink{}
	mgr.OnEvent(sink.add)
	mgr.Start(context.Background())
	defer mgr.Stop()

	// sessions that existed before the stream opened arrive as upserts
	require.Eventually(t, func() bool {
		return len(sink.byType(model.EventSessionUpdated)) >= 2
	}, 3*time.Second, 10*time.Millisecond)

	seeded := sink.byType(model.EventSessionUpdated)
	ids := map[string]bool{}
	for _, ev := range seeded {
		var sess model.Session
		require.NoError(t, json.Unmarshal(ev.Payload.Properties.Info, &sess))
		ids[sess.ID] = true
		assert.Equal(t, "/proj-a", ev.Directory)
	}
	assert.True(t, ids["ses_old_1"])
	assert.True(t, ids["ses_old_2"])

	// affinity learned from the seed too
	gotPort, ok := mgr.PortForSession("ses_old_1")
	require.True(t, ok)
	assert.Equal(t, port, gotPort)
}

func TestOnEventUnsubscribe(t *testing.T) {
	t.Parallel()

	mgr := New(testConfig(), discovery.Static())
	var calls atomic.Int32
	unsubscribe := mgr.OnEvent(func(model.AggregatedEvent) { calls.Add(1) })

	mgr.publish(model.AggregatedEvent{Payload: model.Event{Type: "x"}})
	unsubscribe()
	mgr.publish(model.AggregatedEvent{Payload: model.Event{Type: "x"}})

	assert.Equal(t, int32(1), calls.Load())
}

func TestUnsubscribeDuringDispatchIsSafe(t *testing.T) {
	t.Parallel()

	mgr := New(testConfig(), discovery.Static())
	var unsubscribe func()
	var calls atomic.Int32
	unsubscribe = mgr.OnEvent(func(model.AggregatedEvent) {
		calls.Add(1)
		unsubscribe()
	})

	mgr.publish(model.AggregatedEvent{Payload: model.Event{Type: "x"}})
	mgr.publish(model.AggregatedEvent{Payload: model.Event{Type: "x"}})

	assert.Equal(t, int32(1), calls.Load())
}

func TestStartIdempotentAndStopSafe(t *testing.T) {
	t.Parallel()

	mgr := New(testConfig(), discovery.Static())
	mgr.Stop() // never started

	mgr.Start(context.Background())
	mgr.Start(context.Background()) // no additional effect
	mgr.Stop()
	mgr.Stop() // already stopped
}
