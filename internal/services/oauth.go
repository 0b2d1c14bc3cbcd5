package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/desertthunder/universal/internal/shared"
	"golang.org/x/oauth2"
)

// oauthFlow carries the authorization-code flow shared by every provider.
type oauthFlow struct {
	name   string
	config *oauth2.Config
	http   *http.Client
	opts   []oauth2.AuthCodeOption
}

func (f *oauthFlow) AuthorizationURL(state string) string {
	return f.config.AuthCodeURL(state, f.opts...)
}

func (f *oauthFlow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: %s: empty authorization code", shared.ErrAuthExchange, f.name)
	}
	tok, err := f.config.Exchange(withHTTPClient(ctx, f.http), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrAuthExchange, f.name, err)
	}
	return tok, nil
}

func (f *oauthFlow) Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if token == nil || token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s: no refresh token", shared.ErrUnauthenticated, f.name)
	}

	// Dropping the access token forces the source to hit the token endpoint.
	src := f.config.TokenSource(withHTTPClient(ctx, f.http), &oauth2.Token{RefreshToken: token.RefreshToken})
	tok, err := src.Token()
	if err == nil {
		return tok, nil
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
		return nil, fmt.Errorf("%w: %s refresh rejected: %v", shared.ErrUnauthenticated, f.name, err)
	}
	return nil, transportError(ctx, f.name, err)
}

// httpClient returns an authorized client for token.
func (f *oauthFlow) httpClient(ctx context.Context, token *oauth2.Token) *http.Client {
	return oauth2.NewClient(withHTTPClient(ctx, f.http), oauth2.StaticTokenSource(token))
}
