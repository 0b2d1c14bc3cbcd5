package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/repositories"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
	tu "github.com/desertthunder/universal/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fixture struct {
	store *Store
	fake  *tu.FakeProvider
	repos *repositories.Store
	user  *models.User
}

func setup(t *testing.T) *fixture {
	t.Helper()
	repos := tu.NewStore(t)
	fake := tu.NewFakeProvider(services.Spotify)
	s := New(repos, services.NewRegistry(fake), shared.DefaultConfig().Sync, shared.NewLogger(io.Discard))

	user, err := s.ProvisionUser(context.Background(), "alice", "alice@example.com")
	require.NoError(t, err)
	return &fixture{store: s, fake: fake, repos: repos, user: user}
}

func (f *fixture) saveToken(t *testing.T, tok *oauth2.Token) {
	t.Helper()
	ctx := context.Background()
	acct, err := f.repos.Services.Get(ctx, f.user.ID, services.Spotify)
	require.NoError(t, err)
	blob, err := json.Marshal(tok)
	require.NoError(t, err)
	require.NoError(t, f.repos.Services.SaveCredential(ctx, acct.ID, string(blob), ""))
}

func (f *fixture) storedToken(t *testing.T) *oauth2.Token {
	t.Helper()
	acct, err := f.repos.Services.Get(context.Background(), f.user.ID, services.Spotify)
	require.NoError(t, err)
	if !acct.Authorized() {
		return nil
	}
	var tok oauth2.Token
	require.NoError(t, json.Unmarshal([]byte(acct.Credential.String), &tok))
	return &tok
}

func stateFrom(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestProvisionUser(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	accts, err := f.repos.Services.ListForUser(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.Equal(t, services.Spotify, accts[0].Provider)
	assert.False(t, accts[0].Authorized())

	f.store.Registry().Register(tu.NewFakeProvider(services.YouTube))
	require.NoError(t, f.store.EnsureServices(ctx, f.user.ID))
	accts, err = f.repos.Services.ListForUser(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, accts, 2)

	_, err = f.store.ProvisionUser(ctx, "alice", "other@example.com")
	assert.ErrorIs(t, err, shared.ErrDataIntegrity)
}

func TestToken(t *testing.T) {
	ctx := context.Background()

	t.Run("No Credential", func(t *testing.T) {
		f := setup(t)
		_, err := f.store.Token(ctx, f.user.ID, services.Spotify)
		assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	})

	t.Run("Unknown User", func(t *testing.T) {
		f := setup(t)
		_, err := f.store.Token(ctx, f.user.ID+100, services.Spotify)
		assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	})

	t.Run("Unknown Provider", func(t *testing.T) {
		f := setup(t)
		_, err := f.store.Token(ctx, f.user.ID, "tidal")
		assert.ErrorIs(t, err, shared.ErrUnknownProvider)
	})

	t.Run("Fresh Token Is Returned As Is", func(t *testing.T) {
		f := setup(t)
		f.saveToken(t, &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})

		tok, err := f.store.Token(ctx, f.user.ID, services.Spotify)
		require.NoError(t, err)
		assert.Equal(t, "a1", tok.AccessToken)
		assert.Zero(t, f.fake.Refreshes())
	})

	t.Run("Expiring Token Is Refreshed And Persisted", func(t *testing.T) {
		f := setup(t)
		f.saveToken(t, &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(30 * time.Second)})

		tok, err := f.store.Token(ctx, f.user.ID, services.Spotify)
		require.NoError(t, err)
		assert.Equal(t, "spotify-refreshed-1", tok.AccessToken)
		assert.Equal(t, 1, f.fake.Refreshes())

		stored := f.storedToken(t)
		require.NotNil(t, stored)
		assert.Equal(t, "spotify-refreshed-1", stored.AccessToken)
		assert.Equal(t, "r1", stored.RefreshToken)
	})

	t.Run("Rejected Refresh Clears Credential", func(t *testing.T) {
		f := setup(t)
		f.saveToken(t, &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute)})
		f.fake.RefreshErr = fmt.Errorf("%w: invalid_grant", shared.ErrUnauthenticated)

		_, err := f.store.Token(ctx, f.user.ID, services.Spotify)
		assert.ErrorIs(t, err, shared.ErrUnauthenticated)
		assert.Nil(t, f.storedToken(t))
	})

	t.Run("Unavailable Refresh Keeps Credential", func(t *testing.T) {
		f := setup(t)
		f.saveToken(t, &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute)})
		f.fake.RefreshErr = fmt.Errorf("%w: timeout", shared.ErrProviderUnavailable)

		_, err := f.store.Token(ctx, f.user.ID, services.Spotify)
		assert.ErrorIs(t, err, shared.ErrProviderUnavailable)
		stored := f.storedToken(t)
		require.NotNil(t, stored)
		assert.Equal(t, "a1", stored.AccessToken)
	})

	t.Run("Unreadable Credential Is Discarded", func(t *testing.T) {
		f := setup(t)
		acct, err := f.repos.Services.Get(ctx, f.user.ID, services.Spotify)
		require.NoError(t, err)
		require.NoError(t, f.repos.Services.SaveCredential(ctx, acct.ID, "{not json", ""))

		_, err = f.store.Token(ctx, f.user.ID, services.Spotify)
		assert.ErrorIs(t, err, shared.ErrUnauthenticated)
		assert.Nil(t, f.storedToken(t))
	})

	t.Run("Concurrent Refreshes Are Serialized", func(t *testing.T) {
		f := setup(t)
		f.fake.RefreshDelay = 50 * time.Millisecond
		f.saveToken(t, &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(10 * time.Second)})

		const n = 8
		tokens := make([]string, n)
		errs := make([]error, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok, err := f.store.Token(ctx, f.user.ID, services.Spotify)
				errs[i] = err
				if tok != nil {
					tokens[i] = tok.AccessToken
				}
			}()
		}
		wg.Wait()

		for i := range n {
			require.NoError(t, errs[i])
			assert.Equal(t, "spotify-refreshed-1", tokens[i])
		}
		assert.Equal(t, 1, f.fake.Refreshes())
	})
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("Retries Once After Refresh", func(t *testing.T) {
		f := setup(t)
		f.saveToken(t, &oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})
		f.fake.SetPlaylist("pl-1", "Mix")
		f.fake.Reject("stale")

		var seen []string
		err := f.store.Do(ctx, f.user.ID, services.Spotify, func(c services.Client) error {
			seen = append(seen, c.(*tu.FakeClient).Token())
			_, err := c.ListTracks(ctx, "pl-1")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"stale", "spotify-refreshed-1"}, seen)
		assert.Equal(t, 1, f.fake.Refreshes())
		assert.Equal(t, "spotify-refreshed-1", f.storedToken(t).AccessToken)
	})

	t.Run("Surfaces Unauthenticated After One Retry", func(t *testing.T) {
		f := setup(t)
		f.saveToken(t, &oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})
		f.fake.SetPlaylist("pl-1", "Mix")
		f.fake.Reject("stale")
		f.fake.Reject("spotify-refreshed-1")

		calls := 0
		err := f.store.Do(ctx, f.user.ID, services.Spotify, func(c services.Client) error {
			calls++
			_, err := c.ListTracks(ctx, "pl-1")
			return err
		})
		assert.ErrorIs(t, err, shared.ErrUnauthenticated)
		assert.Equal(t, 2, calls)
		assert.Equal(t, 1, f.fake.Refreshes())
	})

	t.Run("Other Errors Are Not Retried", func(t *testing.T) {
		f := setup(t)
		f.saveToken(t, &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)})
		f.fake.Fail("list", fmt.Errorf("%w: 403", shared.ErrProviderRejected))

		calls := 0
		err := f.store.Do(ctx, f.user.ID, services.Spotify, func(c services.Client) error {
			calls++
			_, err := c.ListTracks(ctx, "pl-1")
			return err
		})
		assert.ErrorIs(t, err, shared.ErrProviderRejected)
		assert.Equal(t, 1, calls)
		assert.Zero(t, f.fake.Refreshes())
	})

	t.Run("No Credential", func(t *testing.T) {
		f := setup(t)
		err := f.store.Do(ctx, f.user.ID, services.Spotify, func(services.Client) error {
			t.Fatal("fn must not run without a credential")
			return nil
		})
		assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	})
}

func TestAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("Start And Complete By State", func(t *testing.T) {
		f := setup(t)
		authURL, err := f.store.Start(ctx, f.user.ID, services.Spotify)
		require.NoError(t, err)
		state := stateFrom(t, authURL)
		require.NotEmpty(t, state)

		acct, err := f.store.CompleteByState(ctx, services.Spotify, CallbackParams{State: state, Code: "c1"})
		require.NoError(t, err)
		assert.Equal(t, f.user.ID, acct.UserID)
		assert.True(t, acct.Authorized())
		assert.Equal(t, "spotify-user", acct.Username)
		assert.False(t, acct.OAuthState.Valid)

		tok, err := f.store.Token(ctx, f.user.ID, services.Spotify)
		require.NoError(t, err)
		assert.Equal(t, "spotify-access-c1", tok.AccessToken)

		_, err = f.store.CompleteByState(ctx, services.Spotify, CallbackParams{State: state, Code: "c2"})
		assert.ErrorIs(t, err, shared.ErrAuthExchange, "state is single use")
	})

	t.Run("Complete For Known User", func(t *testing.T) {
		f := setup(t)
		authURL, err := f.store.Start(ctx, f.user.ID, services.Spotify)
		require.NoError(t, err)

		_, err = f.store.Complete(ctx, f.user.ID, services.Spotify, CallbackParams{State: stateFrom(t, authURL), Code: "c1"})
		require.NoError(t, err)

		statuses, err := f.store.Statuses(ctx, f.user.ID)
		require.NoError(t, err)
		require.Len(t, statuses, 1)
		assert.True(t, statuses[0].Authorized)
		assert.Equal(t, "spotify-user", statuses[0].Username)
		assert.False(t, statuses[0].Expiry.IsZero())

		require.NoError(t, f.store.Forget(ctx, f.user.ID, services.Spotify))
		_, err = f.store.Token(ctx, f.user.ID, services.Spotify)
		assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	})

	t.Run("Rejections", func(t *testing.T) {
		tests := []struct {
			name   string
			params func(state string) CallbackParams
			clock  time.Duration
		}{
			{"State Mismatch", func(string) CallbackParams { return CallbackParams{State: "forged", Code: "c1"} }, 0},
			{"Provider Error", func(s string) CallbackParams { return CallbackParams{State: s, Error: "access_denied"} }, 0},
			{"Missing Code", func(s string) CallbackParams { return CallbackParams{State: s} }, 0},
			{"Bad Code", func(s string) CallbackParams { return CallbackParams{State: s, Code: "bad"} }, 0},
			{"Expired State", func(s string) CallbackParams { return CallbackParams{State: s, Code: "c1"} }, time.Hour},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := setup(t)
				authURL, err := f.store.Start(ctx, f.user.ID, services.Spotify)
				require.NoError(t, err)
				if tt.clock > 0 {
					f.store.now = func() time.Time { return time.Now().Add(tt.clock) }
				}

				_, err = f.store.Complete(ctx, f.user.ID, services.Spotify, tt.params(stateFrom(t, authURL)))
				assert.ErrorIs(t, err, shared.ErrAuthExchange)
				assert.Nil(t, f.storedToken(t))
			})
		}
	})

	t.Run("No Pending Flow", func(t *testing.T) {
		f := setup(t)
		_, err := f.store.Complete(ctx, f.user.ID, services.Spotify, CallbackParams{State: "x", Code: "c1"})
		assert.ErrorIs(t, err, shared.ErrAuthExchange)

		_, err = f.store.CompleteByState(ctx, services.Spotify, CallbackParams{Code: "c1"})
		assert.ErrorIs(t, err, shared.ErrAuthExchange)

		_, err = f.store.CompleteByState(ctx, "tidal", CallbackParams{State: "x", Code: "c1"})
		assert.ErrorIs(t, err, shared.ErrUnknownProvider)
	})
}
