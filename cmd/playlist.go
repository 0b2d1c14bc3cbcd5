package main

import (
	"context"
	"strings"

	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/tasks"
	"github.com/urfave/cli/v3"
)

// PlaylistCreate creates a universal playlist and any requested mirrors.
func (r *Runner) PlaylistCreate(ctx context.Context, cmd *cli.Command) error {
	title, err := stringArg(cmd, "title")
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}
	user, err := r.user(ctx, cmd)
	if err != nil {
		return err
	}

	vis := services.Private
	if cmd.Bool("public") {
		vis = services.Public
	}
	var mirrors []tasks.MirrorRequest
	for _, p := range cmd.StringSlice("mirror") {
		mirrors = append(mirrors, tasks.MirrorRequest{Provider: strings.ToLower(p), Visibility: vis})
	}

	progress, stop := r.progress()
	res, err := r.engine.CreatePlaylist(ctx, user.ID, title, cmd.String("description"), mirrors, progress)
	stop()
	if err != nil {
		return err
	}
	return r.printer.PlaylistResult("created", res)
}

// PlaylistList lists the user's playlists.
func (r *Runner) PlaylistList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	user, err := r.user(ctx, cmd)
	if err != nil {
		return err
	}
	playlists, err := r.engine.Playlists(ctx, user.ID)
	if err != nil {
		return err
	}
	return r.printer.Playlists(playlists)
}

// PlaylistShow renders a playlist with its sources and mirrors.
func (r *Runner) PlaylistShow(ctx context.Context, cmd *cli.Command) error {
	id, err := idArg(cmd, "playlist")
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}
	ov, err := r.engine.Describe(ctx, id)
	if err != nil {
		return err
	}
	return r.printer.Overview(ov)
}

// PlaylistTracks lists one page of the playlist's tracks.
func (r *Runner) PlaylistTracks(ctx context.Context, cmd *cli.Command) error {
	id, err := idArg(cmd, "playlist")
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}
	page, err := r.engine.ListTracks(ctx, id, int(cmd.Int("offset")), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	return r.printer.TrackPage(page)
}

// PlaylistDelete removes the playlist's mirrors on their providers, then the playlist.
func (r *Runner) PlaylistDelete(ctx context.Context, cmd *cli.Command) error {
	id, err := idArg(cmd, "playlist")
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}

	progress, stop := r.progress()
	res, err := r.engine.DeletePlaylist(ctx, id, progress)
	stop()
	if err != nil {
		return err
	}
	return r.printer.PlaylistResult("deleted", res)
}
