// Package normalize turns provider payloads into canonical tracks, artists and albums.
//
// Every entity is looked up or created by its (provider, provider id) key with an
// INSERT ... ON CONFLICT upsert, so concurrent syncs importing the same track
// converge on one row without any process-level lock.
package normalize

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/repositories"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
)

// Normalizer maps [services.RawTrack] values onto canonical rows.
type Normalizer struct {
	refresh bool
}

// New creates a [Normalizer]. With refresh set, existing rows take the latest
// title, artwork and link; otherwise they are returned unchanged.
func New(refresh bool) *Normalizer {
	return &Normalizer{refresh: refresh}
}

// Normalize looks up or creates the track for raw, with its album and artists.
// It runs on r, normally a transaction owned by the caller.
func (n *Normalizer) Normalize(ctx context.Context, r *repositories.Repos, raw services.RawTrack) (*models.Track, error) {
	track := &models.Track{
		Provider:   raw.Provider,
		ProviderID: raw.ID,
		Title:      strings.TrimSpace(raw.Title),
		Artwork:    raw.Artwork,
		Href:       orHomepage(raw.Href, raw.Provider),
	}
	if err := track.Validate(); err != nil {
		return nil, err
	}

	if !n.refresh {
		existing, err := r.Tracks.GetByKey(ctx, track.Key())
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
	}

	if raw.Album != nil && raw.Album.ID != "" {
		album, err := n.album(ctx, r, raw.Provider, raw.Album)
		if err != nil {
			return nil, err
		}
		track.AlbumID = sql.NullInt64{Int64: album.ID, Valid: true}
	}

	if err := r.Tracks.Upsert(ctx, track, n.refresh); err != nil {
		return nil, err
	}

	for _, ra := range raw.Artists {
		artist, err := n.artist(ctx, r, raw.Provider, ra)
		if err != nil {
			return nil, err
		}
		if err := r.Tracks.LinkArtist(ctx, track.ID, artist.ID); err != nil {
			return nil, err
		}
	}
	return track, nil
}

func (n *Normalizer) album(ctx context.Context, r *repositories.Repos, provider string, raw *services.RawAlbum) (*models.Album, error) {
	album := &models.Album{
		Provider:   provider,
		ProviderID: raw.ID,
		Title:      raw.Title,
		Artwork:    raw.Artwork,
		Href:       orHomepage(raw.Href, provider),
	}
	if err := r.Albums.Upsert(ctx, album, n.refresh); err != nil {
		return nil, fmt.Errorf("album %s: %w", album.Key(), err)
	}
	for _, ra := range raw.Artists {
		artist, err := n.artist(ctx, r, provider, ra)
		if err != nil {
			return nil, err
		}
		if err := r.Albums.LinkArtist(ctx, album.ID, artist.ID); err != nil {
			return nil, err
		}
	}
	return album, nil
}

// artist keeps missing names and ids as empty strings; ownerless items share
// the (provider, "") artist.
func (n *Normalizer) artist(ctx context.Context, r *repositories.Repos, provider string, raw services.RawArtist) (*models.Artist, error) {
	artist := &models.Artist{
		Provider:   provider,
		ProviderID: raw.ID,
		Name:       raw.Name,
		Artwork:    raw.Artwork,
		Href:       orHomepage(raw.Href, provider),
	}
	if err := r.Artists.Upsert(ctx, artist, n.refresh); err != nil {
		return nil, fmt.Errorf("artist %s: %w", artist.Key(), err)
	}
	return artist, nil
}

func orHomepage(href, provider string) string {
	if href != "" {
		return href
	}
	return services.Homepage(provider)
}
