package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// UserCreate provisions a user with one empty credential row per provider.
func (r *Runner) UserCreate(ctx context.Context, cmd *cli.Command) error {
	username, err := stringArg(cmd, "username")
	if err != nil {
		return err
	}
	if err := r.open(ctx); err != nil {
		return err
	}
	user, err := r.creds.ProvisionUser(ctx, username, cmd.String("email"))
	if err != nil {
		return err
	}
	return r.printer.Message("created user %s (#%d)", user.Username, user.ID)
}

// UserList lists every user.
func (r *Runner) UserList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	users, err := r.store.Users.List(ctx)
	if err != nil {
		return err
	}
	return r.printer.Users(users)
}
