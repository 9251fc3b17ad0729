package main

import (
	"context"
	"os"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

type stopper struct {
	name string
	fn   func(context.Context) error
}

// waitDrain sleeps for the drain period. A signal on force cuts it short.
func waitDrain(L log.Logger, drain time.Duration, force <-chan os.Signal) {
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", int(drain.Seconds()))
	t := time.NewTimer(drain)
	defer t.Stop()
	select {
	case <-t.C:
		L.Info(context.Background(), "drain period complete")
	case <-force:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
}

// stopAll runs each stopper in order with an equal slice of budget.
// Nil stoppers are skipped. It returns the names of stoppers that failed.
func stopAll(L log.Logger, budget time.Duration, stops []stopper) []string {
	var live []stopper
	for _, s := range stops {
		if s.fn != nil {
			live = append(live, s)
		}
	}
	if len(live) == 0 {
		return nil
	}

	perComponent := budget / time.Duration(len(live))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	var failed []string
	for _, s := range live {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
			failed = append(failed, s.name)
		}
		ccancel()
	}
	return failed
}
