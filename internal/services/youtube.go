package services

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/desertthunder/universal/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	youtubeHome     = "https://www.youtube.com"
	youtubePageSize = 50
)

var youtubeIDPattern = regexp.MustCompile(`^(PL|UU|LL|FL|RD|OL|UL)[0-9A-Za-z_-]{10,64}$`)

// Placeholder titles YouTube returns for items the caller can no longer play.
var youtubeUnavailable = map[string]bool{"Deleted video": true, "Private video": true}

// DefaultYouTubeScopes are requested when the config lists none.
var DefaultYouTubeScopes = []string{youtube.YoutubeScope}

// YouTubeProvider adapts the YouTube Data API v3.
type YouTubeProvider struct {
	oauthFlow
	baseURL string
	retrier *Retrier
}

// NewYouTubeProvider creates a YouTube adapter. Empty endpoint settings use Google's public endpoints.
func NewYouTubeProvider(cfg shared.ProviderConfig, hc *http.Client, retrier *Retrier) *YouTubeProvider {
	endpoint := google.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultYouTubeScopes
	}

	base := cfg.APIBaseURL
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}

	return &YouTubeProvider{
		oauthFlow: oauthFlow{
			name: YouTube,
			config: &oauth2.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				RedirectURL:  cfg.RedirectURI,
				Scopes:       scopes,
				Endpoint:     endpoint,
			},
			http: hc,
			// Google only issues refresh tokens for offline access, and only on consent.
			opts: []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce},
		},
		baseURL: base,
		retrier: retrier,
	}
}

func (p *YouTubeProvider) Name() string { return YouTube }

// ResolveReference accepts a bare playlist id or any YouTube URL carrying a list parameter.
func (p *YouTubeProvider) ResolveReference(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if youtubeIDPattern.MatchString(input) {
		return input, true
	}

	u, err := url.Parse(input)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	switch strings.TrimPrefix(u.Host, "www.") {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
	default:
		return "", false
	}

	id := u.Query().Get("list")
	return id, youtubeIDPattern.MatchString(id)
}

func (p *YouTubeProvider) Client(ctx context.Context, token *oauth2.Token) (Client, error) {
	if token == nil {
		return nil, shared.ErrUnauthenticated
	}
	opts := []option.ClientOption{option.WithHTTPClient(p.httpClient(ctx, token))}
	if p.baseURL != "" {
		opts = append(opts, option.WithEndpoint(p.baseURL))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, transportError(ctx, YouTube, err)
	}
	return &youtubeClient{api: svc, retrier: p.retrier}, nil
}

type youtubeClient struct {
	api     *youtube.Service
	retrier *Retrier
}

func (c *youtubeClient) call(ctx context.Context, op func(context.Context) error) error {
	return c.retrier.Do(ctx, func(ctx context.Context) error {
		return youtubeError(ctx, op(ctx))
	})
}

// Whoami returns the title of the token owner's channel.
func (c *youtubeClient) Whoami(ctx context.Context) (string, error) {
	var resp *youtube.ChannelListResponse
	err := c.call(ctx, func(ctx context.Context) (err error) {
		resp, err = c.api.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
		return "", nil
	}
	return resp.Items[0].Snippet.Title, nil
}

func (c *youtubeClient) VerifyAccessible(ctx context.Context, playlistID string) (bool, error) {
	var resp *youtube.PlaylistListResponse
	err := c.call(ctx, func(ctx context.Context) (err error) {
		resp, err = c.api.Playlists.List([]string{"id"}).Id(playlistID).Context(ctx).Do()
		return err
	})
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return len(resp.Items) > 0, nil
}

func (c *youtubeClient) ListTracks(ctx context.Context, playlistID string) ([]RawTrack, error) {
	fetch := func(ctx context.Context, token string) (Page[RawTrack], error) {
		var resp *youtube.PlaylistItemListResponse
		err := c.call(ctx, func(ctx context.Context) (err error) {
			call := c.api.PlaylistItems.List([]string{"snippet", "contentDetails"}).
				PlaylistId(playlistID).
				MaxResults(youtubePageSize).
				Context(ctx)
			if token != "" {
				call = call.PageToken(token)
			}
			resp, err = call.Do()
			return err
		})
		if err != nil {
			return Page[RawTrack]{}, err
		}

		out := Page[RawTrack]{Items: make([]RawTrack, 0, len(resp.Items)), Next: resp.NextPageToken}
		for _, item := range resp.Items {
			if raw, ok := youtubeTrack(item); ok {
				out.Items = append(out.Items, raw)
			}
		}
		return out, nil
	}
	return Collect(ctx, fetch, maxPages)
}

func (c *youtubeClient) PlaylistInfo(ctx context.Context, playlistID string) (*PlaylistInfo, error) {
	var resp *youtube.PlaylistListResponse
	err := c.call(ctx, func(ctx context.Context) (err error) {
		resp, err = c.api.Playlists.List([]string{"snippet"}).Id(playlistID).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	info := &PlaylistInfo{ID: playlistID, Href: youtubeHome + "/playlist?list=" + url.QueryEscape(playlistID)}
	if len(resp.Items) > 0 && resp.Items[0].Snippet != nil {
		info.Title = resp.Items[0].Snippet.Title
		info.Artwork = thumbnail(resp.Items[0].Snippet.Thumbnails)
	}
	return info, nil
}

func (c *youtubeClient) CreatePlaylist(ctx context.Context, title, description string, vis Visibility) (string, error) {
	if vis == "" {
		vis = Private
	}
	pl := &youtube.Playlist{
		Snippet: &youtube.PlaylistSnippet{Title: title, Description: description},
		Status:  &youtube.PlaylistStatus{PrivacyStatus: string(vis)},
	}

	var created *youtube.Playlist
	err := c.call(ctx, func(ctx context.Context) (err error) {
		created, err = c.api.Playlists.Insert([]string{"snippet", "status"}, pl).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

func (c *youtubeClient) DeletePlaylist(ctx context.Context, playlistID string) error {
	return c.call(ctx, func(ctx context.Context) error {
		return c.api.Playlists.Delete(playlistID).Context(ctx).Do()
	})
}

func youtubeTrack(item *youtube.PlaylistItem) (RawTrack, bool) {
	if item == nil || item.Snippet == nil {
		return RawTrack{}, false
	}
	s := item.Snippet

	var id string
	if s.ResourceId != nil {
		id = s.ResourceId.VideoId
	}
	if id == "" && item.ContentDetails != nil {
		id = item.ContentDetails.VideoId
	}
	if id == "" || (s.VideoOwnerChannelId == "" && youtubeUnavailable[s.Title]) {
		return RawTrack{}, false
	}

	channelHref := youtubeHome
	if s.VideoOwnerChannelId != "" {
		channelHref = youtubeHome + "/channel/" + s.VideoOwnerChannelId
	}

	// Items without owner metadata still get an artist, keyed by the empty id.
	return RawTrack{
		Provider: YouTube,
		ID:       id,
		Title:    s.Title,
		Artwork:  thumbnail(s.Thumbnails),
		Href:     youtubeHome + "/watch?v=" + url.QueryEscape(id),
		Artists:  []RawArtist{{ID: s.VideoOwnerChannelId, Name: s.VideoOwnerChannelTitle, Href: channelHref}},
	}, true
}

// thumbnail prefers the medium rendition.
func thumbnail(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Medium, t.High, t.Default, t.Standard, t.Maxres} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}

// youtubeError translates googleapi and transport errors into the shared taxonomy.
func youtubeError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		// Quota exhaustion is reported as 403; it clears on its own.
		for _, item := range ge.Errors {
			if item.Reason == "quotaExceeded" || item.Reason == "rateLimitExceeded" {
				return statusError(YouTube, 429, ge.Message)
			}
		}
		return statusError(YouTube, ge.Code, ge.Message)
	}
	return transportError(ctx, YouTube, err)
}
