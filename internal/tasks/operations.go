package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/repositories"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
)

// MirrorRequest asks for a provider-side copy of a new playlist.
type MirrorRequest struct {
	Provider   string
	Visibility services.Visibility
}

// Resolve finds the provider and native id for a user-supplied reference. With an
// empty provider every registered provider is tried in name order.
func (e *Engine) Resolve(provider, reference string) (string, string, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", "", fmt.Errorf("%w: empty reference", shared.ErrInvalidReference)
	}

	names := []string{provider}
	if provider == "" {
		names = e.registry.Names()
	}
	for _, name := range names {
		p, err := e.registry.Get(name)
		if err != nil {
			return "", "", err
		}
		if id, ok := p.ResolveReference(reference); ok {
			return name, id, nil
		}
	}

	if provider == "" {
		return "", "", fmt.Errorf("%w: %q does not match any provider", shared.ErrInvalidReference, reference)
	}
	return "", "", fmt.Errorf("%w: %q is not a %s playlist", shared.ErrInvalidReference, reference, provider)
}

// AddSource resolves reference, checks the playlist owner can access it, and
// attaches the (possibly shared) source row to the playlist. Tracks arrive on the
// next [Engine.Sync].
func (e *Engine) AddSource(ctx context.Context, playlistID int64, provider, reference string) (*models.Source, error) {
	pl, err := e.store.Playlists.Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	name, id, err := e.Resolve(provider, reference)
	if err != nil {
		return nil, err
	}

	var info *services.PlaylistInfo
	err = e.creds.Do(ctx, pl.UserID, name, func(c services.Client) error {
		ok, err := c.VerifyAccessible(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q is not accessible on %s", shared.ErrInvalidReference, reference, name)
		}
		if info, err = c.PlaylistInfo(ctx, id); err != nil {
			e.logger.Debug("playlist metadata unavailable", "provider", name, "source", id, "err", err)
			info = nil
		}
		return nil
	})
	e.metrics.observeCall(name, "verify", shared.Classify(err))
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return nil, fmt.Errorf("%w: %q was not found on %s", shared.ErrInvalidReference, reference, name)
	case errors.Is(err, shared.ErrInvalidReference):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to verify %q: %w", reference, err)
	}

	src := &models.Source{Provider: name, ProviderID: id}
	if info != nil {
		src.Title, src.Artwork, src.Href = info.Title, info.Artwork, info.Href
	}
	err = e.store.Atomic(ctx, func(r *repositories.Repos) error {
		if err := r.Sources.Upsert(ctx, src); err != nil {
			return err
		}
		if err := r.Sources.Attach(ctx, playlistID, src.ID); err != nil {
			return err
		}
		return r.Playlists.Touch(ctx, playlistID)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("source attached", "playlist", playlistID, "source", src.ID, "provider", name)
	return src, nil
}

// RemoveSource detaches the source, removing the tracks only it contributed.
// It returns how many tracks left the playlist.
func (e *Engine) RemoveSource(ctx context.Context, playlistID, sourceID int64) (int, error) {
	var removed int
	err := e.store.Atomic(ctx, func(r *repositories.Repos) error {
		attached, err := r.Sources.IsAttached(ctx, playlistID, sourceID)
		if err != nil {
			return err
		}
		if !attached {
			return fmt.Errorf("%w: source %d on playlist %d", shared.ErrNotFound, sourceID, playlistID)
		}
		if removed, err = detachSource(ctx, r, playlistID, sourceID); err != nil {
			return err
		}
		if e.prune {
			_, err = r.Sources.DeleteOrphans(ctx)
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	e.logger.Info("source removed", "playlist", playlistID, "source", sourceID, "removed", removed)
	return removed, nil
}

// BlacklistTrack removes the track from the playlist and keeps it out of future syncs.
func (e *Engine) BlacklistTrack(ctx context.Context, playlistID, trackID int64, reason string) error {
	return e.store.Atomic(ctx, func(r *repositories.Repos) error {
		if _, err := r.Playlists.Get(ctx, playlistID); err != nil {
			return err
		}
		if _, err := r.Tracks.Get(ctx, trackID); err != nil {
			return err
		}
		removed, err := r.Playlists.RemoveTrack(ctx, playlistID, trackID)
		if err != nil {
			return err
		}
		if err := r.Sources.ForgetTrack(ctx, playlistID, trackID); err != nil {
			return err
		}
		if removed {
			if err := r.Playlists.Renumber(ctx, playlistID); err != nil {
				return err
			}
		}
		return r.Blacklist.Add(ctx, playlistID, trackID, strings.TrimSpace(reason))
	})
}

// WhitelistTrack lifts the exclusion. The track is not re-added here; the next
// sync picks it up if a source still carries it.
func (e *Engine) WhitelistTrack(ctx context.Context, playlistID, trackID int64) error {
	return e.store.Blacklist.Remove(ctx, playlistID, trackID)
}

// Blacklist lists the playlist's excluded tracks.
func (e *Engine) Blacklist(ctx context.Context, playlistID int64) ([]models.BlacklistEntry, error) {
	if _, err := e.store.Playlists.Get(ctx, playlistID); err != nil {
		return nil, err
	}
	return e.store.Blacklist.List(ctx, playlistID)
}

// CreatePlaylist creates a universal playlist and the requested provider mirrors.
// Mirror failures are reported in the result and do not undo the playlist.
func (e *Engine) CreatePlaylist(ctx context.Context, userID int64, title, description string, mirrors []MirrorRequest, progress chan<- ProgressUpdate) (*PlaylistResult, error) {
	pl := &models.Playlist{UserID: userID, Title: strings.TrimSpace(title), Description: description}
	if _, err := e.store.Users.Get(ctx, userID); err != nil {
		return nil, err
	}
	if err := e.store.Playlists.Create(ctx, pl); err != nil {
		return nil, err
	}

	res := &PlaylistResult{Playlist: *pl}
	for i, m := range mirrors {
		sendProgress(progress, createMirrorUpdate(i+1, len(mirrors), m.Provider))

		var id string
		err := e.creds.Do(ctx, userID, m.Provider, func(c services.Client) (err error) {
			id, err = c.CreatePlaylist(ctx, pl.Title, pl.Description, m.Visibility)
			return err
		})
		if err == nil {
			err = e.store.Mirrors.Add(ctx, pl.ID, m.Provider, id)
		}
		e.metrics.observeCall(m.Provider, "create", shared.Classify(err))
		if err != nil {
			e.logger.Warn("failed to create mirror", "playlist", pl.ID, "provider", m.Provider, "err", err)
		}
		res.Mirrors = append(res.Mirrors, mirrorResult(m.Provider, id, err))
	}

	e.logger.Info("playlist created", "playlist", pl.ID, "user", userID, "mirrors", len(mirrors))
	return res, nil
}

// DeletePlaylist deletes every mirror on its provider, then the playlist itself.
// Provider failures are reported but never block the local deletion. A mirror
// that is already gone counts as deleted.
func (e *Engine) DeletePlaylist(ctx context.Context, playlistID int64, progress chan<- ProgressUpdate) (*PlaylistResult, error) {
	pl, err := e.store.Playlists.Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	mirrors, err := e.store.Mirrors.List(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	res := &PlaylistResult{Playlist: *pl}
	for i, m := range mirrors {
		sendProgress(progress, deleteMirrorUpdate(i+1, len(mirrors), m))

		err := e.creds.Do(ctx, pl.UserID, m.Provider, func(c services.Client) error {
			return c.DeletePlaylist(ctx, m.ProviderID)
		})
		if errors.Is(err, shared.ErrNotFound) {
			err = nil
		}
		e.metrics.observeCall(m.Provider, "delete", shared.Classify(err))
		if err != nil {
			e.logger.Warn("failed to delete mirror", "playlist", pl.ID, "provider", m.Provider, "mirror", m.ProviderID, "err", err)
		}
		res.Mirrors = append(res.Mirrors, mirrorResult(m.Provider, m.ProviderID, err))
	}

	dbctx := context.WithoutCancel(ctx)
	err = e.store.Atomic(dbctx, func(r *repositories.Repos) (err error) {
		if err := r.Playlists.Delete(dbctx, playlistID); err != nil {
			return err
		}
		if e.prune {
			res.Pruned, err = r.Sources.DeleteOrphans(dbctx)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("playlist deleted", "playlist", pl.ID, "mirror_failures", len(res.MirrorFailures()), "pruned", res.Pruned)
	return res, nil
}

// ListTracks returns up to amount tracks from offset, in position order, with the total count.
func (e *Engine) ListTracks(ctx context.Context, playlistID int64, offset, amount int) (*TrackPage, error) {
	if offset < 0 || amount < 0 {
		return nil, fmt.Errorf("%w: offset and amount must not be negative", shared.ErrInvalidInput)
	}
	pl, err := e.store.Playlists.Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	total, err := e.store.Playlists.CountTracks(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	tracks, err := e.store.Playlists.Tracks(ctx, playlistID, offset, amount)
	if err != nil {
		return nil, err
	}
	return &TrackPage{Playlist: *pl, Tracks: tracks, Offset: offset, Total: total}, nil
}

// Describe returns the playlist with its sources, mirrors and track count.
func (e *Engine) Describe(ctx context.Context, playlistID int64) (*Overview, error) {
	pl, err := e.store.Playlists.Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	ov := &Overview{Playlist: *pl}
	if ov.Sources, err = e.store.Sources.ListAttached(ctx, playlistID); err != nil {
		return nil, err
	}
	if ov.Mirrors, err = e.store.Mirrors.List(ctx, playlistID); err != nil {
		return nil, err
	}
	if ov.Tracks, err = e.store.Playlists.CountTracks(ctx, playlistID); err != nil {
		return nil, err
	}
	return ov, nil
}

// Playlists lists a user's playlists.
func (e *Engine) Playlists(ctx context.Context, userID int64) ([]models.Playlist, error) {
	return e.store.Playlists.ListByUser(ctx, userID)
}
