package credentials

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"

	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/shared"
)

// Start begins the authorization flow: it binds a fresh state value to the
// user's credential row and returns the provider's consent URL.
func (s *Store) Start(ctx context.Context, userID int64, provider string) (string, error) {
	p, err := s.registry.Get(provider)
	if err != nil {
		return "", err
	}
	acct, err := s.repos.Services.Ensure(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	state := shared.NewState()
	if err := s.repos.Services.SetState(ctx, acct.ID, state, s.now()); err != nil {
		return "", err
	}
	return p.AuthorizationURL(state), nil
}

// Complete finishes a flow started by [Store.Start] for a known user.
func (s *Store) Complete(ctx context.Context, userID int64, provider string, params CallbackParams) (*models.ServiceAccount, error) {
	acct, err := s.repos.Services.Get(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthExchange, err)
	}
	return s.complete(ctx, acct, params)
}

// CompleteByState finishes a flow when only the callback is known; the user is
// the owner of the pending state.
func (s *Store) CompleteByState(ctx context.Context, provider string, params CallbackParams) (*models.ServiceAccount, error) {
	if _, err := s.registry.Get(provider); err != nil {
		return nil, err
	}
	if params.State == "" {
		return nil, fmt.Errorf("%w: missing state", shared.ErrAuthExchange)
	}
	acct, err := s.repos.Services.GetByState(ctx, provider, params.State)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown or consumed state", shared.ErrAuthExchange)
	}
	return s.complete(ctx, acct, params)
}

func (s *Store) complete(ctx context.Context, acct *models.ServiceAccount, params CallbackParams) (*models.ServiceAccount, error) {
	p, err := s.registry.Get(acct.Provider)
	if err != nil {
		return nil, err
	}
	if err := s.checkState(acct, params); err != nil {
		if acct.OAuthState.Valid {
			// A state is single use, whatever the outcome.
			_ = s.repos.Services.ClearState(ctx, acct.ID)
		}
		return nil, err
	}
	if err := s.repos.Services.ClearState(ctx, acct.ID); err != nil {
		return nil, err
	}

	tok, err := p.Exchange(ctx, params.Code)
	if err != nil {
		return nil, err
	}

	username := ""
	if client, err := p.Client(ctx, tok); err == nil {
		if username, err = client.Whoami(ctx); err != nil {
			s.logger.Warn("could not resolve provider username", "provider", acct.Provider, "error", err)
		}
	}

	blob, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode token: %v", shared.ErrAuthExchange, err)
	}
	if err := s.repos.Services.SaveCredential(ctx, acct.ID, string(blob), username); err != nil {
		return nil, err
	}
	s.logger.Info("authorized", "user", acct.UserID, "provider", acct.Provider, "username", username)

	return s.repos.Services.Get(ctx, acct.UserID, acct.Provider)
}

func (s *Store) checkState(acct *models.ServiceAccount, params CallbackParams) error {
	switch {
	case params.Error != "":
		return fmt.Errorf("%w: provider returned %q", shared.ErrAuthExchange, params.Error)
	case !acct.OAuthState.Valid || acct.OAuthState.String == "":
		return fmt.Errorf("%w: no authorization pending for %s", shared.ErrAuthExchange, acct.Provider)
	case subtle.ConstantTimeCompare([]byte(acct.OAuthState.String), []byte(params.State)) != 1:
		return fmt.Errorf("%w: state mismatch", shared.ErrAuthExchange)
	case s.stateTTL > 0 && acct.StateIssuedAt.Valid && s.now().Sub(acct.StateIssuedAt.Time) > s.stateTTL:
		return fmt.Errorf("%w: state expired", shared.ErrAuthExchange)
	case params.Code == "":
		return fmt.Errorf("%w: missing authorization code", shared.ErrAuthExchange)
	}
	return nil
}
