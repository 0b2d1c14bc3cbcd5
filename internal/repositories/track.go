package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/universal/internal/models"
	"github.com/jmoiron/sqlx"
)

// TrackRepository persists canonical [models.Track] rows.
//
// Upserts rely on the (provider, provider_id) unique constraint, so concurrent
// callers importing the same provider track converge on a single row.
type TrackRepository struct {
	q sqlx.ExtContext
}

// NewTrackRepository creates a new [TrackRepository] bound to q
func NewTrackRepository(q sqlx.ExtContext) *TrackRepository {
	return &TrackRepository{q: q}
}

// Upsert looks up or creates the track by its canonical key. When refresh is
// true an existing row takes the new title, artwork, link and album; its id and
// key never change. t is overwritten with the stored row.
func (r *TrackRepository) Upsert(ctx context.Context, t *models.Track, refresh bool) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	onConflict := `DO NOTHING`
	if refresh {
		onConflict = `DO UPDATE SET
			title = excluded.title,
			artwork = excluded.artwork,
			href = excluded.href,
			album_id = COALESCE(excluded.album_id, tracks.album_id),
			updated_at = CURRENT_TIMESTAMP`
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO tracks (provider, provider_id, title, artwork, href, album_id) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_id) `+onConflict,
		t.Provider, t.ProviderID, t.Title, t.Artwork, t.Href, t.AlbumID)
	if err != nil {
		return integrity(err, "failed to upsert track %s", t.Key())
	}

	stored, err := r.GetByKey(ctx, t.Key())
	if err != nil {
		return err
	}
	*t = *stored
	return nil
}

// Get retrieves a track by id.
func (r *TrackRepository) Get(ctx context.Context, id int64) (*models.Track, error) {
	var t models.Track
	if err := sqlx.GetContext(ctx, r.q, &t, `SELECT * FROM tracks WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "track %d", id)
	}
	return &t, nil
}

// GetByKey retrieves a track by its canonical key.
func (r *TrackRepository) GetByKey(ctx context.Context, key models.Key) (*models.Track, error) {
	var t models.Track
	err := sqlx.GetContext(ctx, r.q, &t, `SELECT * FROM tracks WHERE provider = ? AND provider_id = ?`, key.Provider, key.ProviderID)
	if err != nil {
		return nil, notFound(err, "track %s", key)
	}
	return &t, nil
}

// CountByKey returns how many rows carry the key. Anything other than 0 or 1 is corruption.
func (r *TrackRepository) CountByKey(ctx context.Context, key models.Key) (int64, error) {
	var n int64
	err := sqlx.GetContext(ctx, r.q, &n, `SELECT COUNT(*) FROM tracks WHERE provider = ? AND provider_id = ?`, key.Provider, key.ProviderID)
	if err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// LinkArtist associates an artist with the track.
func (r *TrackRepository) LinkArtist(ctx context.Context, trackID, artistID int64) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO track_artists (track_id, artist_id) VALUES (?, ?) ON CONFLICT (track_id, artist_id) DO NOTHING`,
		trackID, artistID)
	if err != nil {
		return fmt.Errorf("failed to link artist %d to track %d: %w", artistID, trackID, err)
	}
	return nil
}

// Artists returns the artists linked to the track in link order.
func (r *TrackRepository) Artists(ctx context.Context, trackID int64) ([]models.Artist, error) {
	var artists []models.Artist
	err := sqlx.SelectContext(ctx, r.q, &artists, `
		SELECT a.* FROM track_artists ta JOIN artists a ON a.id = ta.artist_id
		WHERE ta.track_id = ? ORDER BY ta.id`, trackID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track artists: %w", err)
	}
	return artists, nil
}

// ArtistRepository persists canonical [models.Artist] rows.
type ArtistRepository struct {
	q sqlx.ExtContext
}

// NewArtistRepository creates a new [ArtistRepository] bound to q
func NewArtistRepository(q sqlx.ExtContext) *ArtistRepository {
	return &ArtistRepository{q: q}
}

// Upsert looks up or creates the artist by key; see [TrackRepository.Upsert] for refresh.
func (r *ArtistRepository) Upsert(ctx context.Context, a *models.Artist, refresh bool) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	onConflict := `DO NOTHING`
	if refresh {
		onConflict = `DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN artists.name ELSE excluded.name END,
			artwork = CASE WHEN excluded.artwork = '' THEN artists.artwork ELSE excluded.artwork END,
			href = CASE WHEN excluded.href = '' THEN artists.href ELSE excluded.href END,
			updated_at = CURRENT_TIMESTAMP`
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO artists (provider, provider_id, name, artwork, href) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_id) `+onConflict,
		a.Provider, a.ProviderID, a.Name, a.Artwork, a.Href)
	if err != nil {
		return integrity(err, "failed to upsert artist %s", a.Key())
	}

	var stored models.Artist
	err = sqlx.GetContext(ctx, r.q, &stored, `SELECT * FROM artists WHERE provider = ? AND provider_id = ?`, a.Provider, a.ProviderID)
	if err != nil {
		return notFound(err, "artist %s", a.Key())
	}
	*a = stored
	return nil
}

// AlbumRepository persists canonical [models.Album] rows.
type AlbumRepository struct {
	q sqlx.ExtContext
}

// NewAlbumRepository creates a new [AlbumRepository] bound to q
func NewAlbumRepository(q sqlx.ExtContext) *AlbumRepository {
	return &AlbumRepository{q: q}
}

// Upsert looks up or creates the album by key; see [TrackRepository.Upsert] for refresh.
func (r *AlbumRepository) Upsert(ctx context.Context, a *models.Album, refresh bool) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	onConflict := `DO NOTHING`
	if refresh {
		onConflict = `DO UPDATE SET
			title = CASE WHEN excluded.title = '' THEN albums.title ELSE excluded.title END,
			artwork = CASE WHEN excluded.artwork = '' THEN albums.artwork ELSE excluded.artwork END,
			href = CASE WHEN excluded.href = '' THEN albums.href ELSE excluded.href END,
			updated_at = CURRENT_TIMESTAMP`
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO albums (provider, provider_id, title, artwork, href) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_id) `+onConflict,
		a.Provider, a.ProviderID, a.Title, a.Artwork, a.Href)
	if err != nil {
		return integrity(err, "failed to upsert album %s", a.Key())
	}

	var stored models.Album
	err = sqlx.GetContext(ctx, r.q, &stored, `SELECT * FROM albums WHERE provider = ? AND provider_id = ?`, a.Provider, a.ProviderID)
	if err != nil {
		return notFound(err, "album %s", a.Key())
	}
	*a = stored
	return nil
}

// LinkArtist associates an artist with the album.
func (r *AlbumRepository) LinkArtist(ctx context.Context, albumID, artistID int64) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO album_artists (album_id, artist_id) VALUES (?, ?) ON CONFLICT (album_id, artist_id) DO NOTHING`,
		albumID, artistID)
	if err != nil {
		return fmt.Errorf("failed to link artist %d to album %d: %w", artistID, albumID, err)
	}
	return nil
}

// Artists returns the album's artists.
func (r *AlbumRepository) Artists(ctx context.Context, albumID int64) ([]models.Artist, error) {
	var artists []models.Artist
	err := sqlx.SelectContext(ctx, r.q, &artists, `
		SELECT a.* FROM album_artists aa JOIN artists a ON a.id = aa.artist_id
		WHERE aa.album_id = ? ORDER BY aa.id`, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to query album artists: %w", err)
	}
	return artists, nil
}
