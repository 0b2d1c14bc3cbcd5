package services

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/universal/internal/shared"
	"github.com/samber/lo"
	"golang.org/x/oauth2"
)

// Provider names as they appear in canonical keys and configuration.
const (
	Spotify = "spotify"
	YouTube = "youtube"
)

// Visibility of a playlist created on a provider.
type Visibility string

const (
	Public   Visibility = "public"
	Private  Visibility = "private"
	Unlisted Visibility = "unlisted"
)

// Provider is the authorization half of a streaming service adapter.
//
// Implementations are safe for concurrent use. Every token-bound call goes
// through a [Client] obtained from [Provider.Client].
type Provider interface {
	Name() string
	// AuthorizationURL returns the consent URL that will redirect back with state.
	AuthorizationURL(state string) string
	// Exchange trades an authorization code for a token.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	// Refresh obtains a new access token. A revoked or rejected refresh token
	// returns [shared.ErrUnauthenticated]; transport failures return
	// [shared.ErrProviderUnavailable].
	Refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error)
	// ResolveReference extracts a native playlist id from an id, URI or URL.
	ResolveReference(input string) (string, bool)
	Client(ctx context.Context, token *oauth2.Token) (Client, error)
}

// Client performs playlist operations with a fixed access token.
type Client interface {
	// Whoami returns the provider-side display name of the token owner.
	Whoami(ctx context.Context) (string, error)
	VerifyAccessible(ctx context.Context, playlistID string) (bool, error)
	// ListTracks returns the playlist's current tracks in provider order.
	ListTracks(ctx context.Context, playlistID string) ([]RawTrack, error)
	PlaylistInfo(ctx context.Context, playlistID string) (*PlaylistInfo, error)
	CreatePlaylist(ctx context.Context, title, description string, vis Visibility) (string, error)
	DeletePlaylist(ctx context.Context, playlistID string) error
}

// RawArtist is an artist as reported by a provider.
type RawArtist struct {
	ID      string
	Name    string
	Artwork string
	Href    string
}

// RawAlbum is an album as reported by a provider.
type RawAlbum struct {
	ID      string
	Title   string
	Artwork string
	Href    string
	Artists []RawArtist
}

// RawTrack is a track as reported by a provider, before normalization.
type RawTrack struct {
	Provider string
	ID       string
	Title    string
	Artwork  string
	Href     string
	Artists  []RawArtist
	Album    *RawAlbum
}

// PlaylistInfo is the provider-side metadata of a playlist.
type PlaylistInfo struct {
	ID      string
	Title   string
	Artwork string
	Href    string
}

// Registry maps provider names to adapters.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(ps))}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds or replaces the adapter for p.Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the named adapter or [shared.ErrUnknownProvider].
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.providers)
	slices.Sort(names)
	return names
}

// FromConfig builds a registry with every provider whose client credentials are configured.
func FromConfig(cfg *shared.Config, logger *log.Logger) *Registry {
	hc := &http.Client{Timeout: cfg.HTTP.Timeout()}
	retrier := NewRetrier(cfg.HTTP)

	r := NewRegistry()
	if cfg.Credentials.Spotify.Configured() {
		r.Register(NewSpotifyProvider(cfg.Credentials.Spotify, hc, retrier))
	} else {
		logger.Debug("spotify credentials not configured")
	}
	if cfg.Credentials.YouTube.Configured() {
		r.Register(NewYouTubeProvider(cfg.Credentials.YouTube, hc, retrier))
	} else {
		logger.Debug("youtube credentials not configured")
	}
	return r
}

// Homepage returns the provider's generic landing page, used when a payload has no link.
func Homepage(provider string) string {
	switch provider {
	case Spotify:
		return spotifyHome
	case YouTube:
		return youtubeHome
	}
	return ""
}

// withHTTPClient makes oauth2 use hc for token endpoint calls and as the base transport.
func withHTTPClient(ctx context.Context, hc *http.Client) context.Context {
	if hc == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, hc)
}

// pickImage returns the URL at the preferred index, falling back to the first one.
func pickImage(urls []string, preferred int) string {
	if preferred < len(urls) && urls[preferred] != "" {
		return urls[preferred]
	}
	for _, u := range urls {
		if u != "" {
			return u
		}
	}
	return ""
}
