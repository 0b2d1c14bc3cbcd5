package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// BlacklistAdd removes a track from a playlist and keeps it out.
func (r *Runner) BlacklistAdd(ctx context.Context, cmd *cli.Command) error {
	playlistID, trackID, err := r.playlistTrack(ctx, cmd)
	if err != nil {
		return err
	}
	if err := r.engine.BlacklistTrack(ctx, playlistID, trackID, cmd.String("reason")); err != nil {
		return err
	}
	return r.printer.Message("blacklisted track %d on playlist %d", trackID, playlistID)
}

// BlacklistRemove allows a track again.
func (r *Runner) BlacklistRemove(ctx context.Context, cmd *cli.Command) error {
	playlistID, trackID, err := r.playlistTrack(ctx, cmd)
	if err != nil {
		return err
	}
	if err := r.engine.WhitelistTrack(ctx, playlistID, trackID); err != nil {
		return err
	}
	return r.printer.Message("track %d allowed on playlist %d; it returns on the next sync", trackID, playlistID)
}

// BlacklistList lists the playlist's excluded tracks.
func (r *Runner) BlacklistList(ctx context.Context, cmd *cli.Command) error {
	playlistID, err := idArg(cmd, "playlist")
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}
	entries, err := r.engine.Blacklist(ctx, playlistID)
	if err != nil {
		return err
	}
	return r.printer.Blacklist(entries)
}

func (r *Runner) playlistTrack(ctx context.Context, cmd *cli.Command) (int64, int64, error) {
	playlistID, err := idArg(cmd, "playlist")
	if err != nil {
		return 0, 0, err
	}
	trackID, err := idArg(cmd, "track")
	if err != nil {
		return 0, 0, err
	}
	return playlistID, trackID, r.open(ctx)
}
