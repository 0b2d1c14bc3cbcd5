package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/universal/internal/models"
	"github.com/jmoiron/sqlx"
)

// SourceRepository persists [models.Source], its playlist attachments, and the
// source ↔ track attribution.
type SourceRepository struct {
	q sqlx.ExtContext
}

// NewSourceRepository creates a new [SourceRepository] bound to q
func NewSourceRepository(q sqlx.ExtContext) *SourceRepository {
	return &SourceRepository{q: q}
}

// Upsert looks up or creates the source by its canonical key. Non-empty
// metadata on src replaces the stored values. src is overwritten with the stored row.
func (r *SourceRepository) Upsert(ctx context.Context, src *models.Source) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO sources (provider, provider_id, title, artwork, href) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_id) DO UPDATE SET
			title = CASE WHEN excluded.title = '' THEN sources.title ELSE excluded.title END,
			artwork = CASE WHEN excluded.artwork = '' THEN sources.artwork ELSE excluded.artwork END,
			href = CASE WHEN excluded.href = '' THEN sources.href ELSE excluded.href END,
			updated_at = CURRENT_TIMESTAMP`,
		src.Provider, src.ProviderID, src.Title, src.Artwork, src.Href)
	if err != nil {
		return integrity(err, "failed to upsert source %s", src.Key())
	}

	stored, err := r.GetByKey(ctx, src.Key())
	if err != nil {
		return err
	}
	*src = *stored
	return nil
}

// Get retrieves a source by id.
func (r *SourceRepository) Get(ctx context.Context, id int64) (*models.Source, error) {
	var src models.Source
	if err := sqlx.GetContext(ctx, r.q, &src, `SELECT * FROM sources WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "source %d", id)
	}
	return &src, nil
}

// GetByKey retrieves a source by its canonical key.
func (r *SourceRepository) GetByKey(ctx context.Context, key models.Key) (*models.Source, error) {
	var src models.Source
	err := sqlx.GetContext(ctx, r.q, &src, `SELECT * FROM sources WHERE provider = ? AND provider_id = ?`, key.Provider, key.ProviderID)
	if err != nil {
		return nil, notFound(err, "source %s", key)
	}
	return &src, nil
}

// Count returns the number of source rows.
func (r *SourceRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, r.q, &n, `SELECT COUNT(*) FROM sources`); err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return n, nil
}

// UpdateMeta replaces cached title, artwork and link.
func (r *SourceRepository) UpdateMeta(ctx context.Context, id int64, title, artwork, href string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE sources SET title = ?, artwork = ?, href = ?, updated_at = ? WHERE id = ?`,
		title, artwork, href, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update source: %w", err)
	}
	return mustAffect(res, "source %d", id)
}

// Attach links the source to the playlist. Attaching twice is a no-op.
func (r *SourceRepository) Attach(ctx context.Context, playlistID, sourceID int64) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO playlist_sources (playlist_id, source_id) VALUES (?, ?) ON CONFLICT (playlist_id, source_id) DO NOTHING`,
		playlistID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to attach source %d: %w", sourceID, err)
	}
	return nil
}

// Detach unlinks the source from the playlist.
func (r *SourceRepository) Detach(ctx context.Context, playlistID, sourceID int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM playlist_sources WHERE playlist_id = ? AND source_id = ?`, playlistID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to detach source %d: %w", sourceID, err)
	}
	return mustAffect(res, "source %d on playlist %d", sourceID, playlistID)
}

// IsAttached reports whether the source feeds the playlist.
func (r *SourceRepository) IsAttached(ctx context.Context, playlistID, sourceID int64) (bool, error) {
	var ok bool
	err := sqlx.GetContext(ctx, r.q, &ok,
		`SELECT EXISTS(SELECT 1 FROM playlist_sources WHERE playlist_id = ? AND source_id = ?)`, playlistID, sourceID)
	if err != nil {
		return false, fmt.Errorf("failed to check attachment: %w", err)
	}
	return ok, nil
}

// ListAttached returns the playlist's sources in attachment order.
func (r *SourceRepository) ListAttached(ctx context.Context, playlistID int64) ([]models.AttachedSource, error) {
	var sources []models.AttachedSource
	err := sqlx.SelectContext(ctx, r.q, &sources, `
		SELECT s.*, ps.id AS attachment_id, ps.last_synced_at, ps.last_error
		FROM playlist_sources ps JOIN sources s ON s.id = ps.source_id
		WHERE ps.playlist_id = ?
		ORDER BY ps.id`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist sources: %w", err)
	}
	return sources, nil
}

// RecordSync stores the outcome of the latest sync of one attachment.
func (r *SourceRepository) RecordSync(ctx context.Context, playlistID, sourceID int64, at time.Time, syncErr string) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE playlist_sources SET last_synced_at = ?, last_error = ? WHERE playlist_id = ? AND source_id = ?`,
		at.UTC(), syncErr, playlistID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to record sync status: %w", err)
	}
	return nil
}

// LinkTrack attributes the track to the source on the playlist. The source
// must be attached.
func (r *SourceRepository) LinkTrack(ctx context.Context, playlistID, sourceID, trackID int64) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO source_tracks (playlist_id, source_id, track_id) VALUES (?, ?, ?)
		ON CONFLICT (playlist_id, source_id, track_id) DO NOTHING`,
		playlistID, sourceID, trackID)
	if err != nil {
		return integrity(err, "failed to link track %d to source %d", trackID, sourceID)
	}
	return nil
}

// UnlinkTrack removes the attribution.
func (r *SourceRepository) UnlinkTrack(ctx context.Context, playlistID, sourceID, trackID int64) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM source_tracks WHERE playlist_id = ? AND source_id = ? AND track_id = ?`,
		playlistID, sourceID, trackID)
	if err != nil {
		return fmt.Errorf("failed to unlink track %d from source %d: %w", trackID, sourceID, err)
	}
	return nil
}

// ForgetTrack drops every source's attribution of the track on the playlist.
func (r *SourceRepository) ForgetTrack(ctx context.Context, playlistID, trackID int64) error {
	_, err := r.q.ExecContext(ctx,
		`DELETE FROM source_tracks WHERE playlist_id = ? AND track_id = ?`, playlistID, trackID)
	if err != nil {
		return fmt.Errorf("failed to unlink track %d from playlist %d sources: %w", trackID, playlistID, err)
	}
	return nil
}

// LocalTracks returns the tracks of the playlist attributed to the source, by position.
func (r *SourceRepository) LocalTracks(ctx context.Context, playlistID, sourceID int64) ([]models.Track, error) {
	var tracks []models.Track
	err := sqlx.SelectContext(ctx, r.q, &tracks, `
		SELECT t.*
		FROM playlist_tracks pt
		JOIN source_tracks st ON st.playlist_id = pt.playlist_id AND st.track_id = pt.track_id AND st.source_id = ?
		JOIN tracks t ON t.id = pt.track_id
		WHERE pt.playlist_id = ?
		ORDER BY pt.position`, sourceID, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query local tracks: %w", err)
	}
	return tracks, nil
}

// SharedElsewhere reports whether another source attached to the playlist also contributes the track.
func (r *SourceRepository) SharedElsewhere(ctx context.Context, playlistID, sourceID, trackID int64) (bool, error) {
	var shared bool
	err := sqlx.GetContext(ctx, r.q, &shared, `
		SELECT EXISTS(
			SELECT 1 FROM source_tracks
			WHERE playlist_id = ? AND track_id = ? AND source_id <> ?
		)`, playlistID, trackID, sourceID)
	if err != nil {
		return false, fmt.Errorf("failed to check track attribution: %w", err)
	}
	return shared, nil
}

// DeleteOrphans removes sources attached to no playlist and returns how many were deleted.
func (r *SourceRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM sources
		WHERE NOT EXISTS (SELECT 1 FROM playlist_sources ps WHERE ps.source_id = sources.id)`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned sources: %w", err)
	}
	return res.RowsAffected()
}
