// package testing contains shared testing utilities: an in-memory store and
// scriptable provider doubles.
package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/universal/internal/repositories"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
	"golang.org/x/oauth2"
)

// NewStore opens a migrated in-memory database.
func NewStore(t *testing.T) *repositories.Store {
	t.Helper()
	return NewFileStore(t, ":memory:")
}

// NewFileStore opens a migrated database at path.
func NewFileStore(t *testing.T, path string) *repositories.Store {
	t.Helper()
	db, err := shared.NewDatabase(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(context.Background(), db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return repositories.NewStore(db)
}

// FakePlaylist is the remote state of one playlist on a [FakeProvider].
type FakePlaylist struct {
	Title      string
	Artwork    string
	Href       string
	Tracks     []services.RawTrack
	Accessible bool
}

// FakeProvider is an in-memory [services.Provider]. Remote playlists, failures
// and token behaviour are scripted by tests.
type FakeProvider struct {
	name string

	mu        sync.Mutex
	playlists map[string]*FakePlaylist
	failures  map[string]error
	rejected  map[string]bool
	calls     map[string]int
	refreshes int
	created   int

	// RefreshErr is returned by Refresh when set.
	RefreshErr error
	// RefreshDelay widens the window for concurrent refresh tests.
	RefreshDelay time.Duration
}

// NewFakeProvider creates a provider double named name.
func NewFakeProvider(name string) *FakeProvider {
	return &FakeProvider{
		name:      name,
		playlists: map[string]*FakePlaylist{},
		failures:  map[string]error{},
		rejected:  map[string]bool{},
		calls:     map[string]int{},
	}
}

// Track builds a raw track on this provider with one artist.
func (p *FakeProvider) Track(id, title string) services.RawTrack {
	return services.RawTrack{
		Provider: p.name,
		ID:       id,
		Title:    title,
		Href:     "https://" + p.name + ".example/track/" + id,
		Artists:  []services.RawArtist{{ID: "artist-" + id, Name: "Artist " + id}},
	}
}

// SetPlaylist replaces the remote playlist id with an accessible one holding tracks.
func (p *FakeProvider) SetPlaylist(id, title string, tracks ...services.RawTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playlists[id] = &FakePlaylist{Title: title, Tracks: tracks, Accessible: true}
}

// SetAccessible marks the remote playlist as followed or not.
func (p *FakeProvider) SetAccessible(id string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, found := p.playlists[id]; found {
		pl.Accessible = ok
	}
}

// Fail makes op fail with err. op is "list", "verify", "info", "create", "delete"
// or "whoami", optionally suffixed with ":<playlist id>". A nil err clears it.
func (p *FakeProvider) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, op)
		return
	}
	p.failures[op] = err
}

// Reject makes every call with the access token fail as unauthenticated.
func (p *FakeProvider) Reject(accessToken string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejected[accessToken] = true
}

// Calls returns how many times op was invoked.
func (p *FakeProvider) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

// Refreshes returns how many refresh grants were performed.
func (p *FakeProvider) Refreshes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

// Playlist returns the remote playlist, if any.
func (p *FakeProvider) Playlist(id string) (*FakePlaylist, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.playlists[id]
	return pl, ok
}

func (p *FakeProvider) Name() string { return p.name }

func (p *FakeProvider) AuthorizationURL(state string) string {
	return "https://" + p.name + ".example/authorize?state=" + state
}

// Exchange accepts any code except "bad".
func (p *FakeProvider) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if code == "" || code == "bad" {
		return nil, fmt.Errorf("%w: %s: invalid code", shared.ErrAuthExchange, p.name)
	}
	return &oauth2.Token{
		AccessToken:  p.name + "-access-" + code,
		RefreshToken: p.name + "-refresh",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

func (p *FakeProvider) Refresh(_ context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	if p.RefreshDelay > 0 {
		time.Sleep(p.RefreshDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.RefreshErr != nil {
		return nil, p.RefreshErr
	}
	p.refreshes++
	return &oauth2.Token{
		AccessToken:  fmt.Sprintf("%s-refreshed-%d", p.name, p.refreshes),
		RefreshToken: token.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour),
	}, nil
}

// ResolveReference accepts "https://<name>.example/playlist/<id>" or a bare id without spaces or slashes.
func (p *FakeProvider) ResolveReference(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if rest, ok := strings.CutPrefix(input, "https://"+p.name+".example/playlist/"); ok {
		input = rest
	}
	if input == "" || strings.ContainsAny(input, " /:") {
		return "", false
	}
	return input, true
}

func (p *FakeProvider) Client(_ context.Context, token *oauth2.Token) (services.Client, error) {
	if token == nil {
		return nil, shared.ErrUnauthenticated
	}
	return &FakeClient{provider: p, token: token.AccessToken}, nil
}

// FakeClient is the [services.Client] returned by [FakeProvider].
type FakeClient struct {
	provider *FakeProvider
	token    string
}

// Token returns the access token the client was created with.
func (c *FakeClient) Token() string { return c.token }

// enter records the call and returns any scripted failure. Callers hold p.mu.
func (c *FakeClient) enter(op, id string) error {
	p := c.provider
	p.calls[op]++
	if p.rejected[c.token] {
		return fmt.Errorf("%w: %s: token rejected", shared.ErrUnauthenticated, p.name)
	}
	if err, ok := p.failures[op+":"+id]; ok {
		return err
	}
	return p.failures[op]
}

func (c *FakeClient) Whoami(context.Context) (string, error) {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if err := c.enter("whoami", ""); err != nil {
		return "", err
	}
	return c.provider.name + "-user", nil
}

func (c *FakeClient) VerifyAccessible(_ context.Context, id string) (bool, error) {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if err := c.enter("verify", id); err != nil {
		return false, err
	}
	pl, ok := c.provider.playlists[id]
	return ok && pl.Accessible, nil
}

func (c *FakeClient) ListTracks(_ context.Context, id string) ([]services.RawTrack, error) {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if err := c.enter("list", id); err != nil {
		return nil, err
	}
	pl, ok := c.provider.playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s playlist %s", shared.ErrNotFound, c.provider.name, id)
	}
	return append([]services.RawTrack(nil), pl.Tracks...), nil
}

func (c *FakeClient) PlaylistInfo(_ context.Context, id string) (*services.PlaylistInfo, error) {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if err := c.enter("info", id); err != nil {
		return nil, err
	}
	pl, ok := c.provider.playlists[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s playlist %s", shared.ErrNotFound, c.provider.name, id)
	}
	return &services.PlaylistInfo{ID: id, Title: pl.Title, Artwork: pl.Artwork, Href: pl.Href}, nil
}

func (c *FakeClient) CreatePlaylist(_ context.Context, title, _ string, _ services.Visibility) (string, error) {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if err := c.enter("create", ""); err != nil {
		return "", err
	}
	c.provider.created++
	id := fmt.Sprintf("%s-created-%d", c.provider.name, c.provider.created)
	c.provider.playlists[id] = &FakePlaylist{Title: title, Accessible: true}
	return id, nil
}

func (c *FakeClient) DeletePlaylist(_ context.Context, id string) error {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	if err := c.enter("delete", id); err != nil {
		return err
	}
	if _, ok := c.provider.playlists[id]; !ok {
		return fmt.Errorf("%w: %s playlist %s", shared.ErrNotFound, c.provider.name, id)
	}
	delete(c.provider.playlists, id)
	return nil
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
