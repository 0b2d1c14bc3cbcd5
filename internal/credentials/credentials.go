// Package credentials manages the per-user, per-provider OAuth credential lifecycle.
//
// Tokens live only in the services table. Every call to [Store.Token] reads the
// row again, refreshes it when it is about to expire, and writes the result back.
// Refreshes are serialized per (user, provider) so concurrent callers never spend
// the same refresh token twice.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/repositories"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// CallbackParams are the query parameters a provider redirects back with.
type CallbackParams struct {
	State string
	Code  string
	Error string
}

// Status summarizes one credential row for display.
type Status struct {
	Provider   string    `json:"provider"`
	Username   string    `json:"username"`
	Authorized bool      `json:"authorized"`
	Expiry     time.Time `json:"expiry,omitzero"`
}

// Store issues valid access tokens and runs the authorization flow.
type Store struct {
	repos    *repositories.Store
	registry *services.Registry
	margin   time.Duration
	stateTTL time.Duration
	logger   *log.Logger
	group    singleflight.Group
	now      func() time.Time
}

// New creates a credential [Store].
func New(repos *repositories.Store, registry *services.Registry, cfg shared.SyncConfig, logger *log.Logger) *Store {
	return &Store{
		repos:    repos,
		registry: registry,
		margin:   cfg.ExpiryMargin(),
		stateTTL: cfg.StateTTL(),
		logger:   shared.WithLogger(logger, "component", "credentials"),
		now:      time.Now,
	}
}

// Registry returns the provider registry the store resolves names against.
func (s *Store) Registry() *services.Registry {
	return s.registry
}

// ProvisionUser creates a user with one empty credential row per registered provider.
func (s *Store) ProvisionUser(ctx context.Context, username, email string) (*models.User, error) {
	user := &models.User{Username: username, Email: email}
	err := s.repos.Atomic(ctx, func(r *repositories.Repos) error {
		if err := r.Users.Create(ctx, user); err != nil {
			return err
		}
		for _, name := range s.registry.Names() {
			if _, err := r.Services.Ensure(ctx, user.ID, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("provisioned user", "user", user.Username, "id", user.ID)
	return user, nil
}

// EnsureServices adds credential rows for providers registered after the user was created.
func (s *Store) EnsureServices(ctx context.Context, userID int64) error {
	for _, name := range s.registry.Names() {
		if _, err := s.repos.Services.Ensure(ctx, userID, name); err != nil {
			return err
		}
	}
	return nil
}

// Token returns a valid access token for (user, provider), refreshing it when
// it expires within the configured margin.
//
// A missing credential, or a refresh the provider rejects, returns
// [shared.ErrUnauthenticated]; in the latter case the stored credential is cleared.
func (s *Store) Token(ctx context.Context, userID int64, provider string) (*oauth2.Token, error) {
	p, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}

	acct, err := s.repos.Services.Get(ctx, userID, provider)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("%w: user %d has no %s account", shared.ErrUnauthenticated, userID, provider)
	} else if err != nil {
		return nil, err
	}

	tok, err := s.decode(ctx, acct)
	if err != nil {
		return nil, err
	}
	if !s.expiring(tok) {
		return tok, nil
	}
	return s.refresh(ctx, userID, p, tok)
}

// Do calls fn with a client for (user, provider). If fn reports
// [shared.ErrUnauthenticated], the token is refreshed and fn runs exactly once more.
func (s *Store) Do(ctx context.Context, userID int64, provider string, fn func(services.Client) error) error {
	p, err := s.registry.Get(provider)
	if err != nil {
		return err
	}

	tok, err := s.Token(ctx, userID, provider)
	if err != nil {
		return err
	}
	client, err := p.Client(ctx, tok)
	if err != nil {
		return err
	}

	err = fn(client)
	if !errors.Is(err, shared.ErrUnauthenticated) {
		return err
	}

	s.logger.Debug("access token rejected, refreshing", "user", userID, "provider", provider)
	tok, err = s.refresh(ctx, userID, p, tok)
	if err != nil {
		return err
	}
	if client, err = p.Client(ctx, tok); err != nil {
		return err
	}
	return fn(client)
}

// Forget clears the stored credential for (user, provider).
func (s *Store) Forget(ctx context.Context, userID int64, provider string) error {
	acct, err := s.repos.Services.Get(ctx, userID, provider)
	if err != nil {
		return err
	}
	return s.repos.Services.ClearCredential(ctx, acct.ID)
}

// Statuses lists the user's credential rows without exposing tokens.
func (s *Store) Statuses(ctx context.Context, userID int64) ([]Status, error) {
	accts, err := s.repos.Services.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(accts))
	for _, a := range accts {
		st := Status{Provider: a.Provider, Username: a.Username, Authorized: a.Authorized()}
		if st.Authorized {
			var tok oauth2.Token
			if json.Unmarshal([]byte(a.Credential.String), &tok) == nil {
				st.Expiry = tok.Expiry
			}
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) expiring(tok *oauth2.Token) bool {
	if tok.Expiry.IsZero() {
		return false
	}
	return tok.Expiry.Sub(s.now()) <= s.margin
}

// decode parses the stored credential. An unreadable blob is cleared.
func (s *Store) decode(ctx context.Context, acct *models.ServiceAccount) (*oauth2.Token, error) {
	if !acct.Authorized() {
		return nil, fmt.Errorf("%w: no %s credential for user %d", shared.ErrUnauthenticated, acct.Provider, acct.UserID)
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(acct.Credential.String), &tok); err != nil || tok.AccessToken == "" {
		s.logger.Warn("discarding unreadable credential", "user", acct.UserID, "provider", acct.Provider)
		if cerr := s.repos.Services.ClearCredential(ctx, acct.ID); cerr != nil {
			return nil, cerr
		}
		return nil, fmt.Errorf("%w: stored %s credential is unreadable", shared.ErrUnauthenticated, acct.Provider)
	}
	return &tok, nil
}

// refresh runs at most one refresh grant per (user, provider) at a time.
// Callers waiting on an in-flight refresh share its result. A caller arriving
// after a refresh completed finds a token different from stale and reuses it.
func (s *Store) refresh(ctx context.Context, userID int64, p services.Provider, stale *oauth2.Token) (*oauth2.Token, error) {
	key := fmt.Sprintf("%d:%s", userID, p.Name())
	v, err, _ := s.group.Do(key, func() (any, error) {
		acct, err := s.repos.Services.Get(ctx, userID, p.Name())
		if err != nil {
			return nil, err
		}
		current, err := s.decode(ctx, acct)
		if err != nil {
			return nil, err
		}
		if current.AccessToken != stale.AccessToken && !s.expiring(current) {
			return current, nil
		}

		fresh, err := p.Refresh(ctx, current)
		if err != nil {
			if errors.Is(err, shared.ErrUnauthenticated) {
				s.logger.Warn("refresh rejected, clearing credential", "user", userID, "provider", p.Name(), "error", err)
				if cerr := s.repos.Services.ClearCredential(ctx, acct.ID); cerr != nil {
					return nil, errors.Join(err, cerr)
				}
			}
			return nil, err
		}

		blob, err := json.Marshal(fresh)
		if err != nil {
			return nil, fmt.Errorf("failed to encode token: %w", err)
		}
		if err := s.repos.Services.SaveCredential(ctx, acct.ID, string(blob), ""); err != nil {
			return nil, err
		}
		s.logger.Debug("refreshed token", "user", userID, "provider", p.Name(), "expiry", fresh.Expiry)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*oauth2.Token), nil
}
