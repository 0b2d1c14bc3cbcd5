package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/universal/internal/credentials"
	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/normalize"
	"github.com/desertthunder/universal/internal/repositories"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// Engine reconciles universal playlists with their sources and performs the
// caller-facing playlist operations.
type Engine struct {
	store       *repositories.Store
	creds       *credentials.Store
	registry    *services.Registry
	normalizer  *normalize.Normalizer
	metrics     *Metrics
	logger      *log.Logger
	concurrency int
	prune       bool
	refresh     bool
	now         func() time.Time
}

// NewEngine creates an [Engine]. metrics may be nil.
func NewEngine(store *repositories.Store, creds *credentials.Store, cfg shared.SyncConfig, metrics *Metrics, logger *log.Logger) *Engine {
	return &Engine{
		store:       store,
		creds:       creds,
		registry:    creds.Registry(),
		normalizer:  normalize.New(cfg.RefreshMetadata),
		metrics:     metrics,
		logger:      shared.WithLogger(logger, "component", "sync"),
		concurrency: max(1, cfg.Concurrency),
		prune:       cfg.PruneOrphanSources,
		refresh:     cfg.RefreshMetadata,
		now:         time.Now,
	}
}

// remoteState is what the network phase learned about one source.
type remoteState struct {
	accessible bool
	tracks     []services.RawTrack
	info       *services.PlaylistInfo
}

// Sync reconciles every source attached to the playlist.
//
// Each source is fetched, then applied in its own transaction; a failing source is
// recorded in the report and the run continues with the next one. Cancelling ctx
// stops the run between sources and marks the rest skipped. The returned error is
// non-nil only when the playlist itself cannot be loaded.
func (e *Engine) Sync(ctx context.Context, playlistID int64, progress chan<- ProgressUpdate) (*SyncReport, error) {
	// Loading ignores cancellation so a cancelled run still reports its skipped sources.
	load := context.WithoutCancel(ctx)
	pl, err := e.store.Playlists.Get(load, playlistID)
	if err != nil {
		return nil, err
	}
	attached, err := e.store.Sources.ListAttached(load, playlistID)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("playlist", pl.ID)
	report := &SyncReport{Playlist: *pl, Started: e.now(), Sources: make([]SourceReport, 0, len(attached))}
	total := len(attached)
	sendProgress(progress, syncPlaylistUpdate(0, total, pl))

	// Sources on a provider whose credential could not be refreshed are not retried in this run.
	authFailures := map[string]error{}

	for i := range attached {
		src := &attached[i]
		sr := newSourceReport(src)

		switch {
		case ctx.Err() != nil:
			report.Cancelled = true
			sr.Status = StatusSkipped
		case authFailures[src.Provider] != nil:
			sr.fail(authFailures[src.Provider])
			e.recordFailure(ctx, pl.ID, src.ID, authFailures[src.Provider], logger)
		default:
			sendProgress(progress, fetchSourceUpdate(i+1, total, src))
			sr = e.syncSource(ctx, pl, src, i+1, total, progress)
			if sr.Status == StatusSkipped {
				report.Cancelled = true
			}
			if sr.Kind == shared.Classify(shared.ErrUnauthenticated) {
				authFailures[src.Provider] = fmt.Errorf("%w: %s authorization required", shared.ErrUnauthenticated, src.Provider)
			}
		}

		if sr.Status == StatusFailed {
			logger.Warn("source sync failed", "source", src.ID, "provider", src.Provider, "err", sr.Error)
		} else {
			logger.Debug("source processed", "source", src.ID, "status", sr.Status, "added", sr.Added, "removed", sr.Removed)
		}
		e.metrics.observeSource(sr)
		report.Sources = append(report.Sources, sr)
		sendProgress(progress, sourceDoneUpdate(i+1, total, sr))
	}

	report.Finished = e.now()
	e.metrics.observeRun(report.Duration())
	logger.Info("sync finished", "sources", total, "added", report.Added(), "removed", report.Removed(),
		"failed", len(report.Failed()), "cancelled", report.Cancelled)
	return report, nil
}

// SyncAll syncs every playlist that has at least one source, running up to the
// configured number of playlists at once. Reports come back in playlist id order;
// playlists that could not be loaded are left out and their errors joined.
func (e *Engine) SyncAll(ctx context.Context, progress chan<- ProgressUpdate) ([]*SyncReport, error) {
	ids, err := e.store.Playlists.ListIDs(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	reports := make([]*SyncReport, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			reports[i], errs[i] = e.Sync(ctx, id, progress)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("playlist %d: %w", id, errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return lo.Compact(reports), errors.Join(errs...)
}

func newSourceReport(src *models.AttachedSource) SourceReport {
	return SourceReport{
		SourceID:   src.ID,
		Provider:   src.Provider,
		ProviderID: src.ProviderID,
		Title:      src.Title,
	}
}

// syncSource runs the network phase for src and then applies it atomically.
func (e *Engine) syncSource(ctx context.Context, pl *models.Playlist, src *models.AttachedSource, step, total int, progress chan<- ProgressUpdate) SourceReport {
	sr := newSourceReport(src)
	logger := e.logger.With("playlist", pl.ID, "source", src.ID, "provider", src.Provider)

	remote, err := e.fetch(ctx, pl.UserID, src, logger)
	if err != nil {
		if ctx.Err() != nil {
			sr.Status = StatusSkipped
			return sr
		}
		sr.fail(err)
		e.recordFailure(ctx, pl.ID, src.ID, err, logger)
		return sr
	}

	// The apply phase is not interrupted once started.
	dbctx := context.WithoutCancel(ctx)
	if !remote.accessible {
		err = e.store.Atomic(dbctx, func(r *repositories.Repos) error {
			removed, err := detachSource(dbctx, r, pl.ID, src.ID)
			sr.Removed = removed
			return err
		})
		if err != nil {
			sr.fail(err)
			e.recordFailure(dbctx, pl.ID, src.ID, err, logger)
			return sr
		}
		logger.Info("source no longer accessible, detached", "removed", sr.Removed)
		sr.Status = StatusDetached
		return sr
	}

	sr.Remote = len(remote.tracks)
	sendProgress(progress, applySourceUpdate(step, total, sr.Remote))

	err = e.store.Atomic(dbctx, func(r *repositories.Repos) error {
		sr.Added, sr.Removed, sr.Blacklisted, sr.Invalid = 0, 0, 0, 0
		return e.apply(dbctx, r, pl.ID, src, remote, &sr, logger)
	})
	if err != nil {
		sr.Added, sr.Removed, sr.Blacklisted, sr.Invalid = 0, 0, 0, 0
		sr.fail(err)
		if errors.Is(err, shared.ErrDataIntegrity) {
			logger.Error("integrity violation, source rolled back", "err", err)
		}
		e.recordFailure(dbctx, pl.ID, src.ID, err, logger)
		return sr
	}
	if remote.info != nil && remote.info.Title != "" {
		sr.Title = remote.info.Title
	}
	sr.Status = StatusSynced
	return sr
}

// fetch performs every provider call for src under one authorized client.
func (e *Engine) fetch(ctx context.Context, userID int64, src *models.AttachedSource, logger *log.Logger) (*remoteState, error) {
	state := &remoteState{}
	err := e.creds.Do(ctx, userID, src.Provider, func(c services.Client) error {
		ok, err := c.VerifyAccessible(ctx, src.ProviderID)
		if err != nil {
			return err
		}
		state.accessible = ok
		if !ok {
			return nil
		}
		if state.tracks, err = c.ListTracks(ctx, src.ProviderID); err != nil {
			return err
		}

		info, err := c.PlaylistInfo(ctx, src.ProviderID)
		if err != nil {
			logger.Debug("playlist metadata unavailable", "err", err)
			info = nil
		}
		state.info = info
		return nil
	})
	e.metrics.observeCall(src.Provider, "sync", shared.Classify(err))
	if err != nil {
		return nil, err
	}
	return state, nil
}

// apply diffs the remote state against the tracks the source contributed to the
// playlist and writes the result. It runs inside one transaction.
func (e *Engine) apply(ctx context.Context, r *repositories.Repos, playlistID int64, src *models.AttachedSource, remote *remoteState, sr *SourceReport, logger *log.Logger) error {
	local, err := r.Sources.LocalTracks(ctx, playlistID, src.ID)
	if err != nil {
		return err
	}
	localKeys := lo.SliceToMap(local, func(t models.Track) (models.Key, bool) { return t.Key(), true })

	incoming := lo.UniqBy(remote.tracks, rawKey)
	remoteKeys := lo.SliceToMap(incoming, func(raw services.RawTrack) (models.Key, bool) { return rawKey(raw), true })

	for _, raw := range incoming {
		if localKeys[rawKey(raw)] {
			if !e.refresh {
				continue
			}
			// Already attributed: only the metadata changes.
			if _, err := e.normalizer.Normalize(ctx, r, raw); errors.Is(err, shared.ErrInvalidInput) {
				logger.Warn("keeping track with unusable remote metadata", "track", raw.ID, "err", err)
			} else if err != nil {
				return err
			}
			continue
		}
		track, err := e.normalizer.Normalize(ctx, r, raw)
		if errors.Is(err, shared.ErrInvalidInput) {
			logger.Warn("skipping unusable remote track", "track", raw.ID, "err", err)
			sr.Invalid++
			continue
		} else if err != nil {
			return err
		}

		banned, err := r.Blacklist.Contains(ctx, playlistID, track.ID)
		if err != nil {
			return err
		}
		if banned {
			sr.Blacklisted++
			continue
		}

		present, err := r.Playlists.Contains(ctx, playlistID, track.ID)
		if err != nil {
			return err
		}
		if err := r.Sources.LinkTrack(ctx, playlistID, src.ID, track.ID); err != nil {
			return err
		}
		if present {
			continue
		}
		if _, err := r.Playlists.Append(ctx, playlistID, track.ID); err != nil {
			return err
		}
		sr.Added++
	}

	for _, t := range local {
		if remoteKeys[t.Key()] {
			continue
		}
		removed, err := release(ctx, r, playlistID, src.ID, t.ID)
		if err != nil {
			return err
		}
		if removed {
			sr.Removed++
		}
	}

	if err := r.Playlists.Renumber(ctx, playlistID); err != nil {
		return err
	}
	if err := r.Playlists.CheckPositions(ctx, playlistID); err != nil {
		return err
	}

	if info := remote.info; info != nil {
		if err := r.Sources.UpdateMeta(ctx, src.ID, lo.CoalesceOrEmpty(info.Title, src.Title),
			lo.CoalesceOrEmpty(info.Artwork, src.Artwork), lo.CoalesceOrEmpty(info.Href, src.Href)); err != nil {
			return err
		}
	}
	if err := r.Sources.RecordSync(ctx, playlistID, src.ID, e.now(), ""); err != nil {
		return err
	}
	return r.Playlists.Touch(ctx, playlistID)
}

// release drops the source's attribution of the track and removes the track
// from the playlist unless another attached source still contributes it.
// Callers renumber afterwards.
func release(ctx context.Context, r *repositories.Repos, playlistID, sourceID, trackID int64) (bool, error) {
	if err := r.Sources.UnlinkTrack(ctx, playlistID, sourceID, trackID); err != nil {
		return false, err
	}
	kept, err := r.Sources.SharedElsewhere(ctx, playlistID, sourceID, trackID)
	if err != nil || kept {
		return false, err
	}
	return r.Playlists.RemoveTrack(ctx, playlistID, trackID)
}

// detachSource removes the tracks only the source contributed, detaches it and
// renumbers. It returns how many tracks left the playlist.
func detachSource(ctx context.Context, r *repositories.Repos, playlistID, sourceID int64) (int, error) {
	local, err := r.Sources.LocalTracks(ctx, playlistID, sourceID)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, t := range local {
		ok, err := release(ctx, r, playlistID, sourceID, t.ID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}

	if err := r.Sources.Detach(ctx, playlistID, sourceID); err != nil {
		return removed, err
	}
	if err := r.Playlists.Renumber(ctx, playlistID); err != nil {
		return removed, err
	}
	if err := r.Playlists.CheckPositions(ctx, playlistID); err != nil {
		return removed, err
	}
	return removed, r.Playlists.Touch(ctx, playlistID)
}

// recordFailure stores the error on the attachment in its own short write.
func (e *Engine) recordFailure(ctx context.Context, playlistID, sourceID int64, cause error, logger *log.Logger) {
	ctx = context.WithoutCancel(ctx)
	if err := e.store.Sources.RecordSync(ctx, playlistID, sourceID, e.now(), cause.Error()); err != nil {
		logger.Warn("failed to record sync status", "err", err)
	}
}

func rawKey(raw services.RawTrack) models.Key {
	return models.Key{Provider: raw.Provider, ProviderID: raw.ID}
}
