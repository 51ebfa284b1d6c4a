package agent

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

var errStartupLink = errors.New("link did not come up during startup")

func (a *Agent) run(ctx context.Context) error {
	if !a.link.Start(ctx) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.link.Escalate("link startup timed out")
		return errStartupLink
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if a.pusher != nil {
			defer a.pusher.Close()
		}
		return a.scheduler.Run(gctx)
	})
	if a.cfg.Status.ProbeListenAddr != "" {
		g.Go(func() error {
			return a.runProbeListener(gctx)
		})
	}
	if a.status != nil {
		g.Go(func() error {
			return a.status.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) shutdown() {
	if a.telemetry != nil {
		a.telemetry.Close()
	}
	a.logger.Debug("agent health", "snapshot", a.health.Snapshot())
}
