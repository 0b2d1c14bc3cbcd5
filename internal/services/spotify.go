package services

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/desertthunder/universal/internal/shared"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

const (
	spotifyHome     = "https://open.spotify.com"
	spotifyPageSize = 100
	maxPages        = 500
)

var spotifyIDPattern = regexp.MustCompile(`^[0-9A-Za-z]{22}$`)

// DefaultSpotifyScopes are requested when the config lists none.
var DefaultSpotifyScopes = []string{
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
	spotifyauth.ScopePlaylistModifyPublic,
	spotifyauth.ScopePlaylistModifyPrivate,
	spotifyauth.ScopeUserLibraryRead,
	spotifyauth.ScopeUserLibraryModify,
}

// SpotifyProvider adapts the Spotify Web API.
type SpotifyProvider struct {
	oauthFlow
	baseURL string
	retrier *Retrier
}

// NewSpotifyProvider creates a Spotify adapter. Empty endpoint settings use Spotify's public endpoints.
func NewSpotifyProvider(cfg shared.ProviderConfig, hc *http.Client, retrier *Retrier) *SpotifyProvider {
	endpoint := oauth2.Endpoint{AuthURL: spotifyauth.AuthURL, TokenURL: spotifyauth.TokenURL}
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultSpotifyScopes
	}

	base := cfg.APIBaseURL
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return &SpotifyProvider{
		oauthFlow: oauthFlow{
			name: Spotify,
			config: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				RedirectURL:  cfg.RedirectURI,
				Scopes:       scopes,
				Endpoint:     endpoint,
			},
			http: hc,
		},
		baseURL: base,
		retrier: retrier,
	}
}

func (p *SpotifyProvider) Name() string { return Spotify }

// ResolveReference accepts a bare id, a spotify:playlist: URI, or an open.spotify.com playlist URL.
func (p *SpotifyProvider) ResolveReference(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if spotifyIDPattern.MatchString(input) {
		return input, true
	}

	if rest, ok := strings.CutPrefix(input, "spotify:playlist:"); ok {
		return rest, spotifyIDPattern.MatchString(rest)
	}

	u, err := url.Parse(input)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if host := strings.TrimPrefix(u.Host, "www."); host != "open.spotify.com" && host != "play.spotify.com" {
		return "", false
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+1 < len(segments); i++ {
		if segments[i] == "playlist" && spotifyIDPattern.MatchString(segments[i+1]) {
			return segments[i+1], true
		}
	}
	return "", false
}

func (p *SpotifyProvider) Client(ctx context.Context, token *oauth2.Token) (Client, error) {
	if token == nil {
		return nil, shared.ErrUnauthenticated
	}
	var opts []spotify.ClientOption
	if p.baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(p.baseURL))
	}
	return &spotifyClient{
		api:     spotify.New(p.httpClient(ctx, token), opts...),
		retrier: p.retrier,
	}, nil
}

type spotifyClient struct {
	api     *spotify.Client
	retrier *Retrier
	userID  string
}

func (c *spotifyClient) call(ctx context.Context, op func(context.Context) error) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		return spotifyError(ctx, op(ctx))
	})
}

func (c *spotifyClient) currentUser(ctx context.Context) (*spotify.PrivateUser, error) {
	var user *spotify.PrivateUser
	err := c.call(ctx, func(ctx context.Context) (err error) {
		user, err = c.api.CurrentUser(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.userID = user.ID
	return user, nil
}

func (c *spotifyClient) Whoami(ctx context.Context) (string, error) {
	user, err := c.currentUser(ctx)
	if err != nil {
		return "", err
	}
	if user.DisplayName != "" {
		return user.DisplayName, nil
	}
	return user.ID, nil
}

// VerifyAccessible reports whether the token owner follows the playlist.
func (c *spotifyClient) VerifyAccessible(ctx context.Context, playlistID string) (bool, error) {
	if c.userID == "" {
		if _, err := c.currentUser(ctx); err != nil {
			return false, err
		}
	}

	var follows []bool
	err := c.call(ctx, func(ctx context.Context) (err error) {
		follows, err = c.api.UserFollowsPlaylist(ctx, spotify.ID(playlistID), c.userID)
		return err
	})
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return len(follows) > 0 && follows[0], nil
}

func (c *spotifyClient) ListTracks(ctx context.Context, playlistID string) ([]RawTrack, error) {
	fetch := func(ctx context.Context, token string) (Page[RawTrack], error) {
		offset := 0
		if token != "" {
			offset, _ = strconv.Atoi(token)
		}

		var page *spotify.PlaylistItemPage
		err := c.call(ctx, func(ctx context.Context) (err error) {
			page, err = c.api.GetPlaylistItems(ctx, spotify.ID(playlistID), spotify.Limit(spotifyPageSize), spotify.Offset(offset))
			return err
		})
		if err != nil {
			return Page[RawTrack]{}, err
		}

		out := Page[RawTrack]{Items: make([]RawTrack, 0, len(page.Items))}
		for _, item := range page.Items {
			if item.IsLocal || item.Track.Track == nil || item.Track.Track.ID == "" {
				continue
			}
			out.Items = append(out.Items, spotifyTrack(item.Track.Track))
		}
		if page.Next != "" {
			out.Next = strconv.Itoa(offset + spotifyPageSize)
		}
		return out, nil
	}
	return Collect(ctx, fetch, maxPages)
}

func (c *spotifyClient) PlaylistInfo(ctx context.Context, playlistID string) (*PlaylistInfo, error) {
	var pl *spotify.FullPlaylist
	err := c.call(ctx, func(ctx context.Context) (err error) {
		pl, err = c.api.GetPlaylist(ctx, spotify.ID(playlistID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &PlaylistInfo{
		ID:      playlistID,
		Title:   pl.Name,
		Artwork: pickImage(imageURLs(pl.Images), 0),
		Href:    spotifyHref(pl.ExternalURLs, spotifyHome+"/playlist/"+playlistID),
	}, nil
}

func (c *spotifyClient) CreatePlaylist(ctx context.Context, title, description string, vis Visibility) (string, error) {
	if c.userID == "" {
		if _, err := c.currentUser(ctx); err != nil {
			return "", err
		}
	}
	var pl *spotify.FullPlaylist
	err := c.call(ctx, func(ctx context.Context) (err error) {
		pl, err = c.api.CreatePlaylistForUser(ctx, c.userID, title, description, vis == Public, false)
		return err
	})
	if err != nil {
		return "", err
	}
	return pl.ID.String(), nil
}

// DeletePlaylist unfollows the playlist, which is how Spotify deletes owned playlists.
func (c *spotifyClient) DeletePlaylist(ctx context.Context, playlistID string) error {
	return c.call(ctx, func(ctx context.Context) error {
		return c.api.UnfollowPlaylist(ctx, spotify.ID(playlistID))
	})
}

func spotifyTrack(t *spotify.FullTrack) RawTrack {
	raw := RawTrack{
		Provider: Spotify,
		ID:       t.ID.String(),
		Title:    t.Name,
		Artwork:  pickImage(imageURLs(t.Album.Images), 1),
		Href:     spotifyHref(t.ExternalURLs, spotifyHome),
		Artists:  spotifyArtists(t.Artists),
	}
	if t.Album.ID != "" {
		raw.Album = &RawAlbum{
			ID:      t.Album.ID.String(),
			Title:   t.Album.Name,
			Artwork: raw.Artwork,
			Href:    spotifyHref(t.Album.ExternalURLs, spotifyHome),
			Artists: spotifyArtists(t.Album.Artists),
		}
	}
	return raw
}

func spotifyArtists(artists []spotify.SimpleArtist) []RawArtist {
	out := make([]RawArtist, 0, len(artists))
	for _, a := range artists {
		if a.ID == "" {
			continue
		}
		out = append(out, RawArtist{
			ID:   a.ID.String(),
			Name: a.Name,
			Href: spotifyHref(a.ExternalURLs, spotifyHome),
		})
	}
	return out
}

func spotifyHref(urls map[string]string, fallback string) string {
	if u := urls["spotify"]; u != "" {
		return u
	}
	return fallback
}

func imageURLs(images []spotify.Image) []string {
	urls := make([]string, len(images))
	for i, img := range images {
		urls[i] = img.URL
	}
	return urls
}

// spotifyError translates SDK and transport errors into the shared taxonomy.
func spotifyError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var se spotify.Error
	if errors.As(err, &se) {
		return statusError(Spotify, se.Status, se.Message)
	}
	var pse *spotify.Error
	if errors.As(err, &pse) {
		return statusError(Spotify, pse.Status, pse.Message)
	}
	return transportError(ctx, Spotify, err)
}
