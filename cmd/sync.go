package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/universal/internal/shared"
	"github.com/desertthunder/universal/internal/tasks"
	"github.com/samber/lo"
	"github.com/urfave/cli/v3"
)

// errSyncFailures marks a run where some sources failed; the report is still printed.
var errSyncFailures = errors.New("some sources failed to sync")

// Sync reconciles one playlist, or all of them with --all.
func (r *Runner) Sync(ctx context.Context, cmd *cli.Command) error {
	all := cmd.Bool("all")
	if !all && cmd.StringArg("playlist") == "" {
		return fmt.Errorf("%w: a playlist id or --all", shared.ErrMissingArgument)
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	progress, stop := r.progress()
	var (
		reports []*tasks.SyncReport
		runErr  error
	)
	if all {
		reports, runErr = r.engine.SyncAll(ctx, progress)
	} else {
		var id int64
		if id, runErr = idArg(cmd, "playlist"); runErr == nil {
			var report *tasks.SyncReport
			if report, runErr = r.engine.Sync(ctx, id, progress); report != nil {
				reports = append(reports, report)
			}
		}
	}
	stop()

	if len(reports) > 0 {
		var err error
		if all {
			err = r.printer.SyncReports(reports)
		} else {
			err = r.printer.SyncReport(reports[0])
		}
		if err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}

	failed := lo.SumBy(reports, func(rep *tasks.SyncReport) int { return len(rep.Failed()) })
	if failed > 0 {
		return fmt.Errorf("%w: %d sources", errSyncFailures, failed)
	}
	return nil
}
