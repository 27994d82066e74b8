// Package app wires configuration into the running pipeline and owns the
// process lifecycle: feeds in, evaluation, and mode-dependent execution.
package app

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// App is the assembled daemon.
type App struct {
	deps   *Dependencies
	logger *slog.Logger
}

// New creates the App over wired dependencies.
func New(deps *Dependencies) *App {
	return &App{
		deps:   deps,
		logger: deps.Logger.With(slog.String("component", "app")),
	}
}

// Run starts the feeds and the candidate pipeline and blocks until ctx is
// cancelled or a feed fails fatally.
func (a *App) Run(ctx context.Context) error {
	if a.deps.ExecStore != nil {
		if err := a.deps.Orch.SeedStats(ctx); err != nil {
			a.logger.Warn("seeding stats failed, starting from zero", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("starting",
		slog.String("mode", a.deps.Config.Mode),
		slog.Int("feeds", a.deps.Feeds.Size()),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.deps.Feeds.Run(ctx) })
	g.Go(func() error { return a.consume(ctx) })

	err := g.Wait()
	a.deps.Orch.EmergencyStop()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases wired resources.
func (a *App) Close() {
	a.deps.Feeds.Close()
	a.deps.Close()
}
