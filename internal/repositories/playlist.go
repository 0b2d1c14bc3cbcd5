package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/shared"
	"github.com/jmoiron/sqlx"
)

// PlaylistRepository persists [models.Playlist] and its ordered track association.
//
// Positions are zero-based and contiguous per playlist. Appends take the next
// position; every removal must be followed by [PlaylistRepository.Renumber].
type PlaylistRepository struct {
	q sqlx.ExtContext
}

// NewPlaylistRepository creates a new [PlaylistRepository] bound to q
func NewPlaylistRepository(q sqlx.ExtContext) *PlaylistRepository {
	return &PlaylistRepository{q: q}
}

// Create inserts playlist and fills in its id and timestamps.
func (r *PlaylistRepository) Create(ctx context.Context, playlist *models.Playlist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	res, err := r.q.ExecContext(ctx,
		`INSERT INTO playlists (user_id, title, description, artwork) VALUES (?, ?, ?, ?)`,
		playlist.UserID, playlist.Title, playlist.Description, playlist.Artwork)
	if err != nil {
		return fmt.Errorf("failed to insert playlist: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read playlist id: %w", err)
	}

	created, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	*playlist = *created
	return nil
}

// Get retrieves a playlist by id.
func (r *PlaylistRepository) Get(ctx context.Context, id int64) (*models.Playlist, error) {
	var playlist models.Playlist
	if err := sqlx.GetContext(ctx, r.q, &playlist, `SELECT * FROM playlists WHERE id = ?`, id); err != nil {
		return nil, notFound(err, "playlist %d", id)
	}
	return &playlist, nil
}

// ListByUser returns a user's playlists ordered by id.
func (r *PlaylistRepository) ListByUser(ctx context.Context, userID int64) ([]models.Playlist, error) {
	var playlists []models.Playlist
	err := sqlx.SelectContext(ctx, r.q, &playlists, `SELECT * FROM playlists WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlists: %w", err)
	}
	return playlists, nil
}

// ListIDs returns the id of every playlist that has at least one source.
func (r *PlaylistRepository) ListIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, r.q, &ids,
		`SELECT DISTINCT playlist_id FROM playlist_sources ORDER BY playlist_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist ids: %w", err)
	}
	return ids, nil
}

// Delete removes the playlist; associations cascade, shared entities remain.
func (r *PlaylistRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	return mustAffect(res, "playlist %d", id)
}

// Touch bumps updated_at.
func (r *PlaylistRepository) Touch(ctx context.Context, id int64) error {
	_, err := r.q.ExecContext(ctx, `UPDATE playlists SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update playlist: %w", err)
	}
	return nil
}

// TrackIDs returns the set of track ids currently in the playlist.
func (r *PlaylistRepository) TrackIDs(ctx context.Context, playlistID int64) (map[int64]bool, error) {
	var ids []int64
	err := sqlx.SelectContext(ctx, r.q, &ids, `SELECT track_id FROM playlist_tracks WHERE playlist_id = ?`, playlistID)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Contains reports whether the track is in the playlist.
func (r *PlaylistRepository) Contains(ctx context.Context, playlistID, trackID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.q, &exists,
		`SELECT EXISTS(SELECT 1 FROM playlist_tracks WHERE playlist_id = ? AND track_id = ?)`, playlistID, trackID)
	if err != nil {
		return false, fmt.Errorf("failed to check playlist membership: %w", err)
	}
	return exists, nil
}

// Append adds the track at the next position and returns that position.
// A track already in the playlist keeps its position.
func (r *PlaylistRepository) Append(ctx context.Context, playlistID, trackID int64) (int64, error) {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO playlist_tracks (playlist_id, track_id, position)
		SELECT ?, ?, COALESCE(MAX(position) + 1, 0) FROM playlist_tracks WHERE playlist_id = ?
		ON CONFLICT (playlist_id, track_id) DO NOTHING`, playlistID, trackID, playlistID)
	if err != nil {
		return 0, fmt.Errorf("failed to append track %d: %w", trackID, err)
	}

	var pos int64
	err = sqlx.GetContext(ctx, r.q, &pos,
		`SELECT position FROM playlist_tracks WHERE playlist_id = ? AND track_id = ?`, playlistID, trackID)
	if err != nil {
		return 0, notFound(err, "track %d in playlist %d", trackID, playlistID)
	}
	return pos, nil
}

// RemoveTrack drops the track from the playlist, reporting whether it was present.
// Callers renumber afterwards.
func (r *PlaylistRepository) RemoveTrack(ctx context.Context, playlistID, trackID int64) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM playlist_tracks WHERE playlist_id = ? AND track_id = ?`, playlistID, trackID)
	if err != nil {
		return false, fmt.Errorf("failed to remove track %d: %w", trackID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n > 0, nil
}

// Renumber rewrites positions to 0..n-1 keeping relative order.
func (r *PlaylistRepository) Renumber(ctx context.Context, playlistID int64) error {
	var rows []struct {
		ID       int64 `db:"id"`
		Position int64 `db:"position"`
	}
	err := sqlx.SelectContext(ctx, r.q, &rows,
		`SELECT id, position FROM playlist_tracks WHERE playlist_id = ? ORDER BY position, id`, playlistID)
	if err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}

	for i, row := range rows {
		if row.Position == int64(i) {
			continue
		}
		if _, err := r.q.ExecContext(ctx, `UPDATE playlist_tracks SET position = ? WHERE id = ?`, i, row.ID); err != nil {
			return fmt.Errorf("failed to renumber playlist %d: %w", playlistID, err)
		}
	}
	return nil
}

// CheckPositions returns [shared.ErrDataIntegrity] unless positions are exactly 0..n-1.
func (r *PlaylistRepository) CheckPositions(ctx context.Context, playlistID int64) error {
	var stats struct {
		N        int64 `db:"n"`
		Min      int64 `db:"min_pos"`
		Max      int64 `db:"max_pos"`
		Distinct int64 `db:"distinct_pos"`
	}
	err := sqlx.GetContext(ctx, r.q, &stats, `
		SELECT COUNT(*) AS n, COALESCE(MIN(position), 0) AS min_pos,
		       COALESCE(MAX(position), -1) AS max_pos, COUNT(DISTINCT position) AS distinct_pos
		FROM playlist_tracks WHERE playlist_id = ?`, playlistID)
	if err != nil {
		return fmt.Errorf("failed to check positions: %w", err)
	}

	if stats.N == 0 {
		return nil
	}
	if stats.Min != 0 || stats.Max != stats.N-1 || stats.Distinct != stats.N {
		return fmt.Errorf("%w: playlist %d positions span %d..%d with %d distinct for %d tracks",
			shared.ErrDataIntegrity, playlistID, stats.Min, stats.Max, stats.Distinct, stats.N)
	}
	return nil
}

// CountTracks returns the number of tracks in the playlist.
func (r *PlaylistRepository) CountTracks(ctx context.Context, playlistID int64) (int64, error) {
	var n int64
	if err := sqlx.GetContext(ctx, r.q, &n, `SELECT COUNT(*) FROM playlist_tracks WHERE playlist_id = ?`, playlistID); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}

// Tracks returns up to limit tracks starting at offset, ordered by position,
// with artists and album attached. A non-positive limit returns all tracks.
func (r *PlaylistRepository) Tracks(ctx context.Context, playlistID int64, offset, limit int) ([]models.PlaylistTrack, error) {
	if limit <= 0 {
		limit = -1
	}

	var tracks []models.PlaylistTrack
	err := sqlx.SelectContext(ctx, r.q, &tracks, `
		SELECT t.*, pt.position
		FROM playlist_tracks pt JOIN tracks t ON t.id = pt.track_id
		WHERE pt.playlist_id = ?
		ORDER BY pt.position
		LIMIT ? OFFSET ?`, playlistID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist tracks: %w", err)
	}
	if len(tracks) == 0 {
		return tracks, nil
	}

	if err := r.attachDetails(ctx, tracks); err != nil {
		return nil, err
	}
	return tracks, nil
}

func (r *PlaylistRepository) attachDetails(ctx context.Context, tracks []models.PlaylistTrack) error {
	trackIDs := make([]int64, 0, len(tracks))
	albumIDs := []int64{}
	for _, t := range tracks {
		trackIDs = append(trackIDs, t.ID)
		if t.AlbumID.Valid {
			albumIDs = append(albumIDs, t.AlbumID.Int64)
		}
	}

	query, args, err := sqlx.In(`
		SELECT ta.track_id, a.*
		FROM track_artists ta JOIN artists a ON a.id = ta.artist_id
		WHERE ta.track_id IN (?)
		ORDER BY ta.id`, trackIDs)
	if err != nil {
		return fmt.Errorf("failed to build artist query: %w", err)
	}
	var artists []struct {
		TrackID int64 `db:"track_id"`
		models.Artist
	}
	if err := sqlx.SelectContext(ctx, r.q, &artists, r.q.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to query track artists: %w", err)
	}

	byTrack := make(map[int64][]models.Artist, len(tracks))
	for _, a := range artists {
		byTrack[a.TrackID] = append(byTrack[a.TrackID], a.Artist)
	}

	byAlbum := map[int64]*models.Album{}
	if len(albumIDs) > 0 {
		query, args, err := sqlx.In(`SELECT * FROM albums WHERE id IN (?)`, albumIDs)
		if err != nil {
			return fmt.Errorf("failed to build album query: %w", err)
		}
		var albums []models.Album
		if err := sqlx.SelectContext(ctx, r.q, &albums, r.q.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to query albums: %w", err)
		}
		for i := range albums {
			byAlbum[albums[i].ID] = &albums[i]
		}
	}

	for i := range tracks {
		tracks[i].Artists = byTrack[tracks[i].ID]
		if tracks[i].AlbumID.Valid {
			tracks[i].Album = byAlbum[tracks[i].AlbumID.Int64]
		}
	}
	return nil
}
