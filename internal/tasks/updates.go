package tasks

import (
	"fmt"

	"github.com/desertthunder/universal/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or server layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data, e.g. a [SourceReport]
}

// Operation phase enumeration
type Phase int

const (
	SyncPlaylist Phase = iota
	FetchSource
	ApplySource
	SourceDone
	CreateMirror
	DeleteMirror
)

func (p Phase) String() string {
	switch p {
	case SyncPlaylist:
		return "sync_playlist"
	case FetchSource:
		return "fetch_source"
	case ApplySource:
		return "apply_source"
	case SourceDone:
		return "source_done"
	case CreateMirror:
		return "create_mirror"
	case DeleteMirror:
		return "delete_mirror"
	default:
		return ""
	}
}

// sendProgress delivers u without blocking; a slow or absent reader drops updates.
func sendProgress(progress chan<- ProgressUpdate, u ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- u:
	default:
	}
}

func syncPlaylistUpdate(step, total int, pl *models.Playlist) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SyncPlaylist,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("Syncing %s (%d sources)...", pl.Title, total),
		Data:    pl,
	}
}

func fetchSourceUpdate(step, total int, src *models.AttachedSource) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Fetching %s playlist %s...", step, total, src.Provider, sourceName(&src.Source)),
	}
}

func applySourceUpdate(step, total, remote int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ApplySource,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Reconciling %d remote tracks...", step, total, remote),
	}
}

func sourceDoneUpdate(step, total int, r SourceReport) ProgressUpdate {
	msg := fmt.Sprintf("[%d/%d] ✓ %s: +%d -%d", step, total, r.Name(), r.Added, r.Removed)
	switch r.Status {
	case StatusFailed:
		msg = fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, r.Name(), r.Error)
	case StatusDetached:
		msg = fmt.Sprintf("[%d/%d] ✗ %s is no longer accessible, detached (-%d)", step, total, r.Name(), r.Removed)
	case StatusSkipped:
		msg = fmt.Sprintf("[%d/%d] - %s skipped", step, total, r.Name())
	}
	return ProgressUpdate{Phase: SourceDone, Step: step, Total: total, Message: msg, Data: r}
}

func createMirrorUpdate(step, total int, provider string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CreateMirror,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Creating playlist on %s...", step, total, provider),
	}
}

func deleteMirrorUpdate(step, total int, m models.Mirror) ProgressUpdate {
	return ProgressUpdate{
		Phase:   DeleteMirror,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Deleting %s playlist %s...", step, total, m.Provider, m.ProviderID),
	}
}

func sourceName(src *models.Source) string {
	if src.Title != "" {
		return src.Title
	}
	return src.ProviderID
}
