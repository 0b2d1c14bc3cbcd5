package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// SourceAdd attaches a provider playlist to a universal playlist.
func (r *Runner) SourceAdd(ctx context.Context, cmd *cli.Command) error {
	playlistID, err := idArg(cmd, "playlist")
	if err != nil {
		return err
	}
	ref, err := stringArg(cmd, "reference")
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	src, err := r.engine.AddSource(ctx, playlistID, cmd.String("provider"), ref)
	if err != nil {
		return err
	}
	return r.printer.Source(playlistID, src)
}

// SourceRemove detaches a source and drops the tracks only it contributed.
func (r *Runner) SourceRemove(ctx context.Context, cmd *cli.Command) error {
	playlistID, err := idArg(cmd, "playlist")
	if err != nil {
		return err
	}
	sourceID, err := idArg(cmd, "source")
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	removed, err := r.engine.RemoveSource(ctx, playlistID, sourceID)
	if err != nil {
		return err
	}
	return r.printer.Message("removed source %d from playlist %d (%d tracks removed)", sourceID, playlistID, removed)
}
