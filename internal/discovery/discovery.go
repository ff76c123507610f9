// Package discovery finds backend agent servers running on the local host.
package discovery

import (
	"context"

	"github.com/mkotake/fleetview/internal/model"
)

// Provider returns the current set of reachable backend servers. An error
// means "no information this tick", not "no servers"; callers must not tear
// down existing connections because of it.
type Provider interface {
	Discover(ctx context.Context) ([]model.ServerInfo, error)
}

// Func adapts a plain function to Provider.
type Func func(ctx context.Context) ([]model.ServerInfo, error)

func (f Func) Discover(ctx context.Context) ([]model.ServerInfo, error) {
	return f(ctx)
}

// Static returns a provider that always reports the same servers. Used by
// tests and by explicit --server configuration.
func Static(servers ...model.ServerInfo) Provider {
	return Func(func(context.Context) ([]model.ServerInfo, error) {
		out := make([]model.ServerInfo, len(servers))
		copy(out, servers)
		return out, nil
	})
}
