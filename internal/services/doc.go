// Package services adapts streaming providers to a common [Provider] and [Client] capability set.
//
// # Capabilities
//
// A [Provider] owns the authorization-code flow for one service: it builds the
// consent URL, exchanges codes, refreshes tokens and resolves user-supplied
// playlist references. A [Client] is bound to one access token and performs the
// playlist operations the sync engine needs: list tracks, verify access, read
// metadata, create and delete playlists.
//
// # Implementations
//
//   - [SpotifyProvider] : Spotify Web API via github.com/zmb3/spotify/v2
//   - [YouTubeProvider] : YouTube Data API v3 via google.golang.org/api/youtube/v3
//
// Both accept endpoint overrides from [shared.ProviderConfig] so tests can point
// them at an [net/http/httptest.Server].
//
// # Transport
//
// Every outbound call runs through a [Retrier]: a shared rate limiter, a per-request
// timeout from the http client, and exponential backoff for transient failures.
// Listings are paginated with [Pages], which stops at the first empty next-page token.
//
// # Errors
//
// SDK errors are translated into the taxonomy in the shared package:
//   - 401 : [shared.ErrUnauthenticated]
//   - 404 : [shared.ErrNotFound]
//   - 429, 5xx, network failures, timeouts : [shared.ErrProviderUnavailable] (retried)
//   - other 4xx : [shared.ErrProviderRejected]
package services
