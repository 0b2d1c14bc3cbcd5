package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/desertthunder/universal/internal/credentials"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
	tu "github.com/desertthunder/universal/internal/testing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	creds  *credentials.Store
	fake   *tu.FakeProvider
	router *BasicRouter
	cb     *CallbackHandler
	userID int64
}

func setup(t *testing.T) *fixture {
	t.Helper()
	logger := shared.NewLogger(io.Discard)
	store := tu.NewStore(t)
	fake := tu.NewFakeProvider(services.Spotify)
	creds := credentials.New(store, services.NewRegistry(fake), shared.DefaultConfig().Sync, logger)

	user, err := creds.ProvisionUser(context.Background(), "alice", "alice@example.com")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "universal_test_total", Help: "test"}))

	router, cb := NewRouter(Deps{Auth: creds, DB: store.DB(), Gatherer: reg, Logger: logger})
	return &fixture{creds: creds, fake: fake, router: router, cb: cb, userID: user.ID}
}

func (f *fixture) start(t *testing.T) string {
	t.Helper()
	authURL, err := f.creds.Start(context.Background(), f.userID, services.Spotify)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

type pingFunc func(context.Context) error

func (p pingFunc) PingContext(ctx context.Context) error { return p(ctx) }

func TestCallback(t *testing.T) {
	t.Run("completes authorization by state", func(t *testing.T) {
		f := setup(t)
		state := f.start(t)

		rec := f.get("/callback/spotify?state=" + state + "&code=ok")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Authorization successful")
		assert.Contains(t, rec.Body.String(), "spotify-user")

		res := <-f.cb.Results()
		require.NoError(t, res.Err)
		assert.Equal(t, services.Spotify, res.Provider)
		assert.True(t, res.Account.Authorized())

		tok, err := f.creds.Token(context.Background(), f.userID, services.Spotify)
		require.NoError(t, err)
		assert.Equal(t, "spotify-access-ok", tok.AccessToken)
	})

	t.Run("state is single use", func(t *testing.T) {
		f := setup(t)
		state := f.start(t)

		require.Equal(t, http.StatusOK, f.get("/callback/spotify?state="+state+"&code=ok").Code)
		<-f.cb.Results()

		rec := f.get("/callback/spotify?state=" + state + "&code=ok")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		res := <-f.cb.Results()
		assert.True(t, errors.Is(res.Err, shared.ErrAuthExchange))
	})

	tests := []struct {
		name   string
		path   func(state string) string
		status int
	}{
		{"unknown state", func(string) string { return "/callback/spotify?state=nope&code=ok" }, http.StatusBadRequest},
		{"missing state", func(string) string { return "/callback/spotify?code=ok" }, http.StatusBadRequest},
		{"provider error", func(s string) string { return "/callback/spotify?state=" + s + "&error=access_denied" }, http.StatusBadRequest},
		{"bad code", func(s string) string { return "/callback/spotify?state=" + s + "&code=bad" }, http.StatusBadRequest},
		{"unknown provider", func(s string) string { return "/callback/tidal?state=" + s + "&code=ok" }, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			rec := f.get(tt.path(f.start(t)))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), "Authorization failed")

			tok, err := f.creds.Token(context.Background(), f.userID, services.Spotify)
			assert.Nil(t, tok)
			assert.True(t, errors.Is(err, shared.ErrUnauthenticated))
		})
	}

	t.Run("escapes error text", func(t *testing.T) {
		f := setup(t)
		rec := f.get("/callback/spotify?state=" + f.start(t) + "&error=%3Cscript%3E")
		assert.NotContains(t, rec.Body.String(), "<script>")
	})

	t.Run("rejects other methods", func(t *testing.T) {
		f := setup(t)
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/callback/spotify", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		rec := setup(t).get("/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("unavailable", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h := HealthHandler(pingFunc(func(context.Context) error { return errors.New("database is locked") }))
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "database is locked")
	})
}

func TestMetrics(t *testing.T) {
	rec := setup(t).get("/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "universal_test_total 0")
}

func TestRouter(t *testing.T) {
	t.Run("middleware order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}
		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle("get", "/x", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "handler")
		}))

		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, []string{"first", "second", "handler"}, order)
	})

	t.Run("recovers panics", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recover(shared.NewLogger(io.Discard)))
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestServer(t *testing.T) {
	f := setup(t)
	srv := New("127.0.0.1:0", f.router, shared.NewLogger(io.Discard))
	addr, err := srv.Start()
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "ok"))

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.NoError(t, <-srv.Err())
}
