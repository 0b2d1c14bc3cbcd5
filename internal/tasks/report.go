package tasks

import (
	"time"

	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/shared"
)

// SourceStatus is the outcome of one source within a sync run.
type SourceStatus string

const (
	StatusSynced   SourceStatus = "synced"
	StatusDetached SourceStatus = "detached"
	StatusFailed   SourceStatus = "failed"
	StatusSkipped  SourceStatus = "skipped"
)

// SourceReport describes what a sync run did to one attached source.
type SourceReport struct {
	SourceID    int64        `json:"source_id"`
	Provider    string       `json:"provider"`
	ProviderID  string       `json:"provider_id"`
	Title       string       `json:"title,omitempty"`
	Status      SourceStatus `json:"status"`
	Remote      int          `json:"remote"`
	Added       int          `json:"added"`
	Removed     int          `json:"removed"`
	Blacklisted int          `json:"blacklisted"`
	Invalid     int          `json:"invalid"`
	Error       string       `json:"error,omitempty"`
	Kind        string       `json:"kind,omitempty"`
}

// Name is the title when known, else the native id.
func (r SourceReport) Name() string {
	if r.Title != "" {
		return r.Title
	}
	return r.ProviderID
}

func (r *SourceReport) fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
	r.Kind = shared.Classify(err)
}

// SyncReport aggregates the per-source outcomes of one sync run.
type SyncReport struct {
	Playlist  models.Playlist `json:"playlist"`
	Started   time.Time       `json:"started"`
	Finished  time.Time       `json:"finished"`
	Sources   []SourceReport  `json:"sources"`
	Cancelled bool            `json:"cancelled,omitempty"`
}

// Added sums additions across sources.
func (r *SyncReport) Added() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Added
	}
	return n
}

// Removed sums removals across sources.
func (r *SyncReport) Removed() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Removed
	}
	return n
}

// Failed returns the sources that did not sync.
func (r *SyncReport) Failed() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if s.Status == StatusFailed {
			out = append(out, s)
		}
	}
	return out
}

// OK reports whether every source synced or was detached.
func (r *SyncReport) OK() bool {
	return !r.Cancelled && len(r.Failed()) == 0
}

// Duration is the wall time of the run.
func (r *SyncReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// MirrorResult is the outcome of creating or deleting a provider-side copy.
type MirrorResult struct {
	Provider   string `json:"provider"`
	ProviderID string `json:"provider_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

func mirrorResult(provider, id string, err error) MirrorResult {
	res := MirrorResult{Provider: provider, ProviderID: id}
	if err != nil {
		res.Error = err.Error()
		res.Kind = shared.Classify(err)
	}
	return res
}

// PlaylistResult is returned by [Engine.CreatePlaylist] and [Engine.DeletePlaylist].
type PlaylistResult struct {
	Playlist models.Playlist `json:"playlist"`
	Mirrors  []MirrorResult  `json:"mirrors,omitempty"`
	Pruned   int64           `json:"pruned_sources,omitempty"`
}

// MirrorFailures returns the mirrors whose provider call failed.
func (r *PlaylistResult) MirrorFailures() []MirrorResult {
	var out []MirrorResult
	for _, m := range r.Mirrors {
		if m.Error != "" {
			out = append(out, m)
		}
	}
	return out
}

// TrackPage is one page of a playlist listing.
type TrackPage struct {
	Playlist models.Playlist        `json:"playlist"`
	Tracks   []models.PlaylistTrack `json:"tracks"`
	Offset   int                    `json:"offset"`
	Total    int64                  `json:"total"`
}

// Overview is a playlist with its sources, mirrors and track count.
type Overview struct {
	Playlist models.Playlist         `json:"playlist"`
	Sources  []models.AttachedSource `json:"sources"`
	Mirrors  []models.Mirror         `json:"mirrors"`
	Tracks   int64                   `json:"tracks"`
}
