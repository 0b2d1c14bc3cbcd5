package main

import (
	"context"

	"github.com/desertthunder/universal/internal/server"
	"github.com/desertthunder/universal/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Serve runs the sync schedule beside the callback, health and metrics
// endpoints until the context is cancelled.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}

	sched, err := tasks.NewScheduler(r.engine, r.config.Sync.Schedule, r.logger)
	if err != nil {
		return err
	}

	router, _ := server.NewRouter(server.Deps{
		Auth:     r.creds,
		DB:       r.store.DB(),
		Gatherer: r.metrics,
		Logger:   r.logger,
	})
	addr := cmd.String("addr")
	if addr == "" {
		addr = r.config.Server.Addr()
	}
	srv := server.New(addr, router, r.logger)
	if _, err := srv.Start(); err != nil {
		return err
	}

	if cmd.Bool("sync-on-start") {
		if _, err := sched.RunNow(ctx); err != nil {
			r.logger.Warn("initial sync had errors", "error", err)
		}
	}
	sched.Start()
	r.logger.Info("scheduler started", "schedule", r.config.Sync.Schedule, "next", sched.Next())

	select {
	case <-ctx.Done():
	case err = <-srv.Err():
	}

	sched.Stop()
	if serr := srv.Shutdown(ctx); serr != nil && err == nil {
		err = serr
	}
	r.logger.Info("stopped", "runs", sched.Runs())
	return err
}
