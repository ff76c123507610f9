// Package router picks the backend a write request must go to.
package router

import "github.com/mkotake/fleetview/internal/config"

// Tables is the read-only view of the connection manager's routing caches.
type Tables interface {
	PortsForDirectory(directory string) []int
	PortForSession(sessionID string) (int, bool)
	BaseURLForSession(sessionID, directory string) string
}

// Router resolves write targets. Session affinity wins over the directory
// mapping, which wins over the fixed fallback. Resolution never blocks and
// never fails; a routing miss is a defined path, not an error.
type Router struct {
	tables   Tables
	fallback string
}

func New(tables Tables, cfg config.Config) *Router {
	fallback := cfg.FallbackBaseURL
	if fallback == "" {
		fallback = config.DefaultBaseURL
	}
	return &Router{tables: tables, fallback: fallback}
}

// ResolveBaseURL returns the base address for a write against the given
// directory, honoring session affinity when sessionID is non-empty. A cached
// session mapping whose port is no longer connected reads as a miss and falls
// through to the directory mapping.
func (r *Router) ResolveBaseURL(directory, sessionID string) string {
	if url := r.tables.BaseURLForSession(sessionID, directory); url != "" {
		return url
	}
	return r.fallback
}
