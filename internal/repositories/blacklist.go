package repositories

import (
	"context"
	"fmt"

	"github.com/desertthunder/universal/internal/models"
	"github.com/jmoiron/sqlx"
)

// BlacklistRepository persists per-playlist track exclusions.
type BlacklistRepository struct {
	q sqlx.ExtContext
}

// NewBlacklistRepository creates a new [BlacklistRepository] bound to q
func NewBlacklistRepository(q sqlx.ExtContext) *BlacklistRepository {
	return &BlacklistRepository{q: q}
}

// Add blacklists the track for the playlist. Re-adding updates the reason.
func (r *BlacklistRepository) Add(ctx context.Context, playlistID, trackID int64, reason string) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO blacklist (playlist_id, track_id, reason) VALUES (?, ?, ?)
		ON CONFLICT (playlist_id, track_id) DO UPDATE SET reason = excluded.reason`,
		playlistID, trackID, reason)
	if err != nil {
		return fmt.Errorf("failed to blacklist track %d: %w", trackID, err)
	}
	return nil
}

// Remove deletes the exclusion; it returns [shared.ErrNotFound] if none existed.
func (r *BlacklistRepository) Remove(ctx context.Context, playlistID, trackID int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM blacklist WHERE playlist_id = ? AND track_id = ?`, playlistID, trackID)
	if err != nil {
		return fmt.Errorf("failed to whitelist track %d: %w", trackID, err)
	}
	return mustAffect(res, "blacklist entry for track %d on playlist %d", trackID, playlistID)
}

// Contains reports whether the track is blacklisted for the playlist.
func (r *BlacklistRepository) Contains(ctx context.Context, playlistID, trackID int64) (bool, error) {
	var ok bool
	err := sqlx.GetContext(ctx, r.q, &ok,
		`SELECT EXISTS(SELECT 1 FROM blacklist WHERE playlist_id = ? AND track_id = ?)`, playlistID, trackID)
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return ok, nil
}

// List returns the playlist's blacklist with track titles.
func (r *BlacklistRepository) List(ctx context.Context, playlistID int64) ([]models.BlacklistEntry, error) {
	var entries []models.BlacklistEntry
	err := sqlx.SelectContext(ctx, r.q, &entries, `
		SELECT b.id, b.playlist_id, b.track_id, b.reason, b.created_at, t.title
		FROM blacklist b JOIN tracks t ON t.id = b.track_id
		WHERE b.playlist_id = ?
		ORDER BY b.id`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	return entries, nil
}

// MirrorRepository records provider-side copies of universal playlists.
type MirrorRepository struct {
	q sqlx.ExtContext
}

// NewMirrorRepository creates a new [MirrorRepository] bound to q
func NewMirrorRepository(q sqlx.ExtContext) *MirrorRepository {
	return &MirrorRepository{q: q}
}

// Add records a mirror created on provider with the given native id.
func (r *MirrorRepository) Add(ctx context.Context, playlistID int64, provider, providerID string) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO playlist_mirrors (playlist_id, provider, provider_id) VALUES (?, ?, ?)`,
		playlistID, provider, providerID)
	if err != nil {
		return integrity(err, "failed to record %s mirror for playlist %d", provider, playlistID)
	}
	return nil
}

// List returns the playlist's mirrors.
func (r *MirrorRepository) List(ctx context.Context, playlistID int64) ([]models.Mirror, error) {
	var mirrors []models.Mirror
	err := sqlx.SelectContext(ctx, r.q, &mirrors, `SELECT * FROM playlist_mirrors WHERE playlist_id = ? ORDER BY id`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mirrors: %w", err)
	}
	return mirrors, nil
}
