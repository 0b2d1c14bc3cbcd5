// submodule cmd contains command definitions
package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func userFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "user",
		Aliases: []string{"u"},
		Usage:   "Username acting on the playlist (defaults to the only user)",
		Sources: cli.EnvVars("UNIVERSAL_USER"),
	}
}

// app assembles the root command.
func (r *Runner) app() *cli.Command {
	return &cli.Command{
		Name:    "universal",
		Usage:   "Keep universal playlists in sync with their Spotify and YouTube sources",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("UNIVERSAL_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output JSON",
			},
			&cli.StringFlag{
				Name:  "format",
				Usage: "Output format: text, json, markdown or csv",
			},
		},
		Before:   r.before,
		After:    r.close,
		Commands: r.register(),
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, userCommand, authCommand, playlistCommand, sourceCommand, syncCommand, blacklistCommand, serveCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create the config file if missing and migrate the database",
		Action: r.Setup,
	}
}

func userCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "user",
		Usage: "Manage users",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a user with one empty credential per provider",
				Arguments: []cli.Argument{&cli.StringArg{Name: "username"}},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "Contact email", Required: true},
				},
				Action: r.UserCreate,
			},
			{
				Name:   "list",
				Usage:  "List users",
				Action: r.UserList,
			},
		},
	}
}

func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage provider authorization",
		Commands: []*cli.Command{
			{
				Name:      "login",
				Usage:     "Authorize a provider in the browser",
				Arguments: []cli.Argument{&cli.StringArg{Name: "provider"}},
				Flags: []cli.Flag{
					userFlag(),
					&cli.BoolFlag{Name: "no-browser", Usage: "Print the consent URL instead of opening it"},
					&cli.DurationFlag{Name: "timeout", Usage: "How long to wait for the callback", Value: 2 * time.Minute},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show provider authorization for a user",
				Flags:  []cli.Flag{userFlag()},
				Action: r.AuthStatus,
			},
			{
				Name:      "logout",
				Usage:     "Forget a provider credential",
				Arguments: []cli.Argument{&cli.StringArg{Name: "provider"}},
				Flags:     []cli.Flag{userFlag()},
				Action:    r.AuthLogout,
			},
		},
	}
}

func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"pl"},
		Usage:   "Manage universal playlists",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a playlist, optionally mirrored on providers",
				Arguments: []cli.Argument{&cli.StringArg{Name: "title"}},
				Flags: []cli.Flag{
					userFlag(),
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "Playlist description"},
					&cli.StringSliceFlag{Name: "mirror", Usage: "Provider to create a copy on (repeatable)"},
					&cli.BoolFlag{Name: "public", Usage: "Make mirrors public"},
				},
				Action: r.PlaylistCreate,
			},
			{
				Name:   "list",
				Usage:  "List a user's playlists",
				Flags:  []cli.Flag{userFlag()},
				Action: r.PlaylistList,
			},
			{
				Name:      "show",
				Usage:     "Show a playlist with its sources and mirrors",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Action:    r.PlaylistShow,
			},
			{
				Name:      "tracks",
				Usage:     "List a playlist's tracks in order",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "offset", Usage: "Tracks to skip"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "Maximum tracks to list", Value: 50},
				},
				Action: r.PlaylistTracks,
			},
			{
				Name:      "delete",
				Usage:     "Delete a playlist and its provider mirrors",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Action:    r.PlaylistDelete,
			},
		},
	}
}

func sourceCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "source",
		Usage: "Attach and detach provider playlists",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Attach a provider playlist by URL, URI or id",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "playlist"},
					&cli.StringArg{Name: "reference"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "Provider of a bare id (detected from URLs)"},
				},
				Action: r.SourceAdd,
			},
			{
				Name:  "remove",
				Usage: "Detach a source, removing the tracks only it contributed",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "playlist"},
					&cli.StringArg{Name: "source"},
				},
				Action: r.SourceRemove,
			},
		},
	}
}

func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "sync",
		Usage:     "Reconcile a playlist (or every playlist) with its sources",
		Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Aliases: []string{"a"}, Usage: "Sync every playlist"},
		},
		Action: r.Sync,
	}
}

func blacklistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "blacklist",
		Usage: "Keep tracks out of a playlist",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Remove a track and keep it out of future syncs",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "playlist"},
					&cli.StringArg{Name: "track"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Usage: "Why the track is excluded"},
				},
				Action: r.BlacklistAdd,
			},
			{
				Name:  "remove",
				Usage: "Allow a track again; the next sync restores it",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "playlist"},
					&cli.StringArg{Name: "track"},
				},
				Action: r.BlacklistRemove,
			},
			{
				Name:      "list",
				Usage:     "List a playlist's excluded tracks",
				Arguments: []cli.Argument{&cli.StringArg{Name: "playlist"}},
				Action:    r.BlacklistList,
			},
		},
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run scheduled syncs with the callback, health and metrics endpoints",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (defaults to server.host:server.port)"},
			&cli.BoolFlag{Name: "sync-on-start", Usage: "Sync every playlist once before waiting for the schedule"},
		},
		Action: r.Serve,
	}
}
