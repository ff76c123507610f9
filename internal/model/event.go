package model

import "encoding/json"

// Event is one decoded frame from a backend's event stream.
type Event struct {
	Type       string     `json:"type"`
	Properties Properties `json:"properties"`
}

// Properties is the union of payload fields across all event types. Handlers
// read only the fields their type defines; everything else stays zero.
// Info and Status stay raw because their shape depends on the event type
// (Info is a Session or Message; Status is a string, bool or tagged object).
type Properties struct {
	SessionID string          `json:"sessionID,omitempty"`
	MessageID string          `json:"messageID,omitempty"`
	PartID    string          `json:"partID,omitempty"`
	Info      json.RawMessage `json:"info,omitempty"`
	Part      *Part           `json:"part,omitempty"`
	Status    json.RawMessage `json:"status,omitempty"`
	Todos     []Todo          `json:"todos,omitempty"`
	Diffs     []FileDiff      `json:"diffs,omitempty"`
}

// AggregatedEvent is one event tagged with its origin. Directory and Port are
// stamped from the owning server's discovery record, never trusted from the
// event body.
type AggregatedEvent struct {
	Directory string `json:"directory"`
	Port      int    `json:"port"`
	Payload   Event  `json:"payload"`
}
