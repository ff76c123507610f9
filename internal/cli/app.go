package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mkotake/fleetview/internal/apiclient"
	"github.com/mkotake/fleetview/internal/config"
	"github.com/mkotake/fleetview/internal/connmgr"
	"github.com/mkotake/fleetview/internal/journal"
	"github.com/mkotake/fleetview/internal/model"
	"github.com/mkotake/fleetview/internal/router"
	"github.com/mkotake/fleetview/internal/statesync"
)

// app holds the wired core: manager feeding the synchronizer and journal,
// router reading the manager's tables, API client writing through the router.
type app struct {
	cfg     config.Config
	mgr     *connmgr.Manager
	state   *statesync.State
	router  *router.Router
	client  *apiclient.Client
	journal *journal.Journal
}

func (o *options) wireApp(ctx context.Context) (*app, func(), error) {
	cfg := o.config()
	provider, err := o.provider()
	if err != nil {
		return nil, nil, err
	}

	mgr := connmgr.New(cfg, provider)
	state := statesync.New()
	mgr.OnEvent(func(ev model.AggregatedEvent) { state.Dispatch(ev.Directory, ev.Payload) })

	a := &app{
		cfg:    cfg,
		mgr:    mgr,
		state:  state,
		router: router.New(mgr, cfg),
	}
	a.client = apiclient.New(a.router)

	if !o.NoJournal {
		j, err := journal.Open(ctx, cfg.JournalPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open journal: %w", err)
		}
		if pruned, err := j.PruneBefore(ctx, time.Now().Add(-cfg.JournalRetention)); err != nil {
			fmt.Fprintf(os.Stderr, "fleetview: journal prune: %v\n", err)
		} else if pruned > 0 {
			fmt.Fprintf(os.Stderr, "fleetview: pruned %d journal entries\n", pruned)
		}
		mgr.OnEvent(j.Record)
		a.journal = j
	}

	cleanup := func() {
		mgr.Stop()
		if a.journal != nil {
			_ = a.journal.Close()
		}
	}
	return a, cleanup, nil
}

// startAndSettle starts the manager and gives discovery and the streams a
// moment to seed state before a one-shot command reads it.
func (a *app) startAndSettle(ctx context.Context, wait time.Duration) {
	a.mgr.Start(ctx)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
