package model

import "time"

// SessionStatus is the canonical activity state kept per session.
// Every heterogeneous status shape a backend emits normalizes to one of these.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
)

// ConnStatus is the lifecycle state of one backend subscription.
type ConnStatus string

const (
	ConnConnecting   ConnStatus = "connecting"
	ConnOpen         ConnStatus = "open"
	ConnReconnecting ConnStatus = "reconnecting"
	ConnClosed       ConnStatus = "closed"
)

// ServerInfo identifies one reachable backend server in a discovery poll.
// Directories are not guaranteed unique; first-seen wins for routing.
type ServerInfo struct {
	Port      int
	Directory string
}

// ConnState is a point-in-time snapshot of one subscription, exposed for
// status reporting. The connection manager owns the mutable original.
type ConnState struct {
	Port         int
	Directory    string
	Status       ConnStatus
	FailureCount int
	LastEventAt  time.Time
}

// SessionTime carries the backend's millisecond timestamps. A non-zero
// Archived means the session was archived and must leave the collection.
type SessionTime struct {
	Created  int64 `json:"created"`
	Updated  int64 `json:"updated"`
	Archived int64 `json:"archived,omitempty"`
}

// Session is an aggregated chat session. IDs are lexicographically sortable
// (ULID-like); collections keyed by ID rely on that ordering.
type Session struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"projectID,omitempty"`
	Directory string      `json:"directory,omitempty"`
	ParentID  string      `json:"parentID,omitempty"`
	Title     string      `json:"title,omitempty"`
	Version   string      `json:"version,omitempty"`
	Time      SessionTime `json:"time"`
}

// Message is one turn within a session.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Role      string `json:"role,omitempty"`
	ModelID   string `json:"modelID,omitempty"`
	Created   int64  `json:"created,omitempty"`
}

// Part is one fragment of a message (text, tool call, step marker).
type Part struct {
	ID        string `json:"id"`
	MessageID string `json:"messageID"`
	SessionID string `json:"sessionID,omitempty"`
	Type      string `json:"type,omitempty"`
	Text      string `json:"text,omitempty"`
	Tool      string `json:"tool,omitempty"`
}

// Todo is one entry of a session's task list.
type Todo struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
}

// FileDiff summarizes one changed file reported for a session.
type FileDiff struct {
	File      string `json:"file"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
}

// Event type names as emitted on the backend stream. The synchronizer
// dispatches on these; unknown types are observed but not materialized.
const (
	EventSessionCreated     = "session.created"
	EventSessionUpdated     = "session.updated"
	EventSessionDeleted     = "session.deleted"
	EventSessionStatus      = "session.status"
	EventSessionDiff        = "session.diff"
	EventMessageUpdated     = "message.updated"
	EventMessageRemoved     = "message.removed"
	EventMessagePartUpdated = "message.part.updated"
	EventMessagePartRemoved = "message.part.removed"
	EventTodoUpdated        = "todo.updated"
	EventServerConnected    = "server.connected"
)
