// Package statesync maintains the aggregated per-directory view of sessions,
// messages and parts built from the merged backend event feed.
//
// Dispatch is the sole mutation entry point and never fails: unknown event
// types are ignored, malformed payloads are skipped, and state for a
// directory is created on first reference. Every per-identifier collection
// stays sorted by identifier, which makes upserts idempotent and display
// order deterministic regardless of cross-server event interleaving.
package statesync

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/mkotake/fleetview/internal/model"
)

type directoryState struct {
	ready        bool
	sessions     []model.Session
	status       map[string]model.SessionStatus
	lastActivity map[string]time.Time
	messages     map[string][]model.Message // sessionID -> sorted by message id
	parts        map[string][]model.Part    // messageID -> sorted by part id
	todos        map[string][]model.Todo    // sessionID
	diffs        map[string][]model.FileDiff
}

func newDirectoryState() *directoryState {
	return &directoryState{
		status:       map[string]model.SessionStatus{},
		lastActivity: map[string]time.Time{},
		messages:     map[string][]model.Message{},
		parts:        map[string][]model.Part{},
		todos:        map[string][]model.Todo{},
		diffs:        map[string][]model.FileDiff{},
	}
}

type State struct {
	mu   sync.RWMutex
	dirs map[string]*directoryState
	now  func() time.Time
}

func New() *State {
	return &State{
		dirs: map[string]*directoryState{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the activity timestamp source. Test hook.
func (s *State) WithClock(now func() time.Time) *State {
	if now != nil {
		s.now = now
	}
	return s
}

// dir auto-vivifies: events for directories never explicitly initialized must
// not be dropped. Callers hold s.mu.
func (s *State) dir(directory string) *directoryState {
	d, ok := s.dirs[directory]
	if !ok {
		d = newDirectoryState()
		s.dirs[directory] = d
	}
	return d
}

// Dispatch applies one event to the directory's state. It never fails;
// events the synchronizer cannot use are dropped field by field.
func (s *State) Dispatch(directory string, ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.dir(directory)
	switch ev.Type {
	case model.EventServerConnected:
		d.ready = true
	case model.EventSessionCreated, model.EventSessionUpdated:
		s.applySessionUpsert(d, ev.Properties.Info)
	case model.EventSessionDeleted:
		id := sessionIDFromInfo(ev.Properties)
		removeSession(d, id)
	case model.EventSessionStatus:
		if id := ev.Properties.SessionID; id != "" {
			d.status[id] = NormalizeStatus(ev.Properties.Status)
			d.lastActivity[id] = s.now()
		}
	case model.EventMessageUpdated:
		var msg model.Message
		if err := json.Unmarshal(ev.Properties.Info, &msg); err != nil {
			return
		}
		if msg.ID == "" || msg.SessionID == "" {
			return
		}
		d.messages[msg.SessionID] = upsertByID(d.messages[msg.SessionID], messageID, msg)
	case model.EventMessageRemoved:
		sid, mid := ev.Properties.SessionID, ev.Properties.MessageID
		if sid == "" || mid == "" {
			return
		}
		d.messages[sid] = removeByID(d.messages[sid], messageID, mid)
		delete(d.parts, mid)
	case model.EventMessagePartUpdated:
		// no foreign-key check: a part may arrive before its message
		part := ev.Properties.Part
		if part == nil || part.ID == "" || part.MessageID == "" {
			return
		}
		d.parts[part.MessageID] = upsertByID(d.parts[part.MessageID], partID, *part)
	case model.EventMessagePartRemoved:
		mid, pid := ev.Properties.MessageID, ev.Properties.PartID
		if mid == "" || pid == "" {
			return
		}
		d.parts[mid] = removeByID(d.parts[mid], partID, pid)
	case model.EventTodoUpdated:
		if id := ev.Properties.SessionID; id != "" {
			d.todos[id] = append([]model.Todo(nil), ev.Properties.Todos...)
		}
	case model.EventSessionDiff:
		if id := ev.Properties.SessionID; id != "" {
			d.diffs[id] = append([]model.FileDiff(nil), ev.Properties.Diffs...)
		}
	default:
		// provider.updated, project.updated and friends: observed, not materialized
	}
}

// applySessionUpsert handles the archival rule: an upsert carrying a non-zero
// archive time is a removal, not an update.
func (s *State) applySessionUpsert(d *directoryState, info json.RawMessage) {
	var sess model.Session
	if err := json.Unmarshal(info, &sess); err != nil {
		return
	}
	if sess.ID == "" {
		return
	}
	if sess.Time.Archived != 0 {
		removeSession(d, sess.ID)
		return
	}
	d.sessions = upsertByID(d.sessions, sessionID, sess)
}

func removeSession(d *directoryState, id string) {
	if id == "" {
		return
	}
	d.sessions = removeByID(d.sessions, sessionID, id)
	for _, msg := range d.messages[id] {
		delete(d.parts, msg.ID)
	}
	delete(d.messages, id)
	delete(d.status, id)
	delete(d.lastActivity, id)
	delete(d.todos, id)
	delete(d.diffs, id)
}

func sessionIDFromInfo(props model.Properties) string {
	var sess model.Session
	if err := json.Unmarshal(props.Info, &sess); err == nil && sess.ID != "" {
		return sess.ID
	}
	return props.SessionID
}

func sessionID(s model.Session) string { return s.ID }
func messageID(m model.Message) string { return m.ID }
func partID(p model.Part) string       { return p.ID }

// --- read accessors; all return copies so callers never alias live state ---

// Directories lists every directory that has received at least one event.
func (s *State) Directories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.dirs))
	for dir := range s.dirs {
		out = append(out, dir)
	}
	return out
}

// Ready reports whether the directory's stream has connected at least once.
func (s *State) Ready(directory string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[directory]
	return ok && d.ready
}

// Sessions returns the directory's sessions sorted by id.
func (s *State) Sessions(directory string) []model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[directory]
	if !ok {
		return nil
	}
	return append([]model.Session(nil), d.sessions...)
}

// Session looks up one session by id.
func (s *State) Session(directory, id string) (model.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[directory]
	if !ok {
		return model.Session{}, false
	}
	return findByID(d.sessions, sessionID, id)
}

// SessionStatus returns the canonical status for a session. Sessions with no
// status event yet read as completed.
func (s *State) SessionStatus(directory, id string) model.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.dirs[directory]; ok {
		if status, ok := d.status[id]; ok {
			return status
		}
	}
	return model.StatusCompleted
}

// LastActivity returns when the session's status last changed. Zero time if
// never.
func (s *State) LastActivity(directory, id string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.dirs[directory]; ok {
		return d.lastActivity[id]
	}
	return time.Time{}
}

// Messages returns the session's messages sorted by id.
func (s *State) Messages(directory, sessionID string) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[directory]
	if !ok {
		return nil
	}
	return append([]model.Message(nil), d.messages[sessionID]...)
}

// PartsForMessage returns the message's parts sorted by id. Orphaned parts
// (message never seen) are still returned.
func (s *State) PartsForMessage(directory, messageID string) []model.Part {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[directory]
	if !ok {
		return nil
	}
	return append([]model.Part(nil), d.parts[messageID]...)
}

// Todos returns the session's current task list.
func (s *State) Todos(directory, sessionID string) []model.Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[directory]
	if !ok {
		return nil
	}
	return append([]model.Todo(nil), d.todos[sessionID]...)
}

// Diffs returns the session's current file diff summary.
func (s *State) Diffs(directory, sessionID string) []model.FileDiff {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dirs[directory]
	if !ok {
		return nil
	}
	return append([]model.FileDiff(nil), d.diffs[sessionID]...)
}
