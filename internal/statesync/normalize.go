package statesync

import (
	"encoding/json"
	"strings"

	"github.com/mkotake/fleetview/internal/model"
)

// runningWords are the status spellings, legacy and current, that mean the
// session is still working. Anything else reads as completed: a stale "idle"
// beats a stuck "running" indicator.
var runningWords = map[string]struct{}{
	"running": {},
	"busy":    {},
	"retry":   {},
	"active":  {},
	"pending": {},
	"working": {},
	"queued":  {},
}

// NormalizeStatus maps every status payload shape a backend has ever emitted
// to exactly running or completed. Shapes: bare string, boolean "is running"
// flag, tagged object {"type": ...}, null, or garbage. Total; never fails.
func NormalizeStatus(raw json.RawMessage) model.SessionStatus {
	if len(raw) == 0 {
		return model.StatusCompleted
	}

	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		if flag {
			return model.StatusRunning
		}
		return model.StatusCompleted
	}

	var word string
	if err := json.Unmarshal(raw, &word); err == nil {
		return statusFromWord(word)
	}

	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tagged); err == nil {
		return statusFromWord(tagged.Type)
	}

	return model.StatusCompleted
}

func statusFromWord(word string) model.SessionStatus {
	if _, ok := runningWords[strings.ToLower(strings.TrimSpace(word))]; ok {
		return model.StatusRunning
	}
	return model.StatusCompleted
}
