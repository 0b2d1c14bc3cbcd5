package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/universal/internal/server"
	"github.com/desertthunder/universal/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthLogin runs the authorization code flow for one provider: it serves the
// callback locally, opens the consent page and waits for the redirect.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	provider, err := stringArg(cmd, "provider")
	if err != nil {
		return err
	}
	provider = strings.ToLower(provider)
	if err := r.open(ctx); err != nil {
		return err
	}
	user, err := r.user(ctx, cmd)
	if err != nil {
		return err
	}

	authURL, err := r.creds.Start(ctx, user.ID, provider)
	if err != nil {
		return err
	}

	router, callbacks := server.NewRouter(server.Deps{Auth: r.creds, Logger: r.logger})
	srv := server.New(r.config.Server.Addr(), router, r.logger)
	addr, err := srv.Start()
	if err != nil {
		return fmt.Errorf("failed to start callback server: %w", err)
	}
	defer func() {
		if err := srv.Shutdown(ctx); err != nil {
			r.logger.Warn("error shutting down callback server", "error", err)
		}
	}()
	r.logger.Debug("waiting for callback", "addr", addr, "user", user.Username, "provider", provider)

	if cmd.Bool("no-browser") {
		fmt.Fprintf(r.status, "Open this URL in your browser:\n%s\n\n", authURL)
	} else {
		fmt.Fprintf(r.status, "→ Opening browser for %s authorization...\n", provider)
		if err := r.openBrowser(ctx, authURL); err != nil {
			r.logger.Warn("failed to open browser automatically", "error", err)
			fmt.Fprintf(r.status, "⚠ Could not open browser automatically.\nPlease open this URL in your browser:\n%s\n\n", authURL)
		}
	}

	timeout := cmd.Duration("timeout")
	fmt.Fprintf(r.status, "→ Waiting for authorization (%s timeout)...\n", timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case res := <-callbacks.Results():
			if res.Provider != provider {
				continue
			}
			if res.Err != nil {
				return fmt.Errorf("authorization failed: %w", res.Err)
			}
			name := res.Account.Username
			if name == "" {
				name = "unknown account"
			}
			return r.printer.Message("authorized %s for %s as %s", provider, user.Username, name)
		case err := <-srv.Err():
			return fmt.Errorf("callback server stopped: %w", err)
		case <-timer.C:
			return fmt.Errorf("%w: no callback within %s", shared.ErrAuthExchange, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AuthStatus shows each provider's authorization state for a user.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(ctx); err != nil {
		return err
	}
	user, err := r.user(ctx, cmd)
	if err != nil {
		return err
	}
	statuses, err := r.creds.Statuses(ctx, user.ID)
	if err != nil {
		return err
	}
	return r.printer.Statuses(statuses)
}

// AuthLogout clears the stored credential for one provider.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	provider, err := stringArg(cmd, "provider")
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
	if err := r.creds.Forget(ctx, user.ID, strings.ToLower(provider)); err != nil {
		return err
	}
	return r.printer.Message("forgot %s credential for %s", provider, user.Username)
}
