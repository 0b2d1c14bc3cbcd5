package tasks

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"testing"
	"time"

	"github.com/desertthunder/universal/internal/credentials"
	"github.com/desertthunder/universal/internal/models"
	"github.com/desertthunder/universal/internal/repositories"
	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
	tu "github.com/desertthunder/universal/internal/testing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fixture struct {
	engine   *Engine
	store    *repositories.Store
	creds    *credentials.Store
	spotify  *tu.FakeProvider
	youtube  *tu.FakeProvider
	registry *prometheus.Registry
	user     *models.User
	playlist *models.Playlist
}

func setup(t *testing.T, opts ...func(*shared.SyncConfig)) *fixture {
	t.Helper()
	ctx := context.Background()

	cfg := shared.DefaultConfig().Sync
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &fixture{
		store:    tu.NewStore(t),
		spotify:  tu.NewFakeProvider(services.Spotify),
		youtube:  tu.NewFakeProvider(services.YouTube),
		registry: prometheus.NewRegistry(),
	}
	logger := shared.NewLogger(io.Discard)
	f.creds = credentials.New(f.store, services.NewRegistry(f.spotify, f.youtube), cfg, logger)
	f.engine = NewEngine(f.store, f.creds, cfg, NewMetrics(f.registry), logger)

	var err error
	f.user, err = f.creds.ProvisionUser(ctx, "alice", "alice@example.com")
	require.NoError(t, err)
	f.authorize(t, services.Spotify)
	f.authorize(t, services.YouTube)
	f.playlist = f.newPlaylist(t, "Mix")
	return f
}

func (f *fixture) authorize(t *testing.T, provider string) {
	t.Helper()
	ctx := context.Background()
	authURL, err := f.creds.Start(ctx, f.user.ID, provider)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	_, err = f.creds.Complete(ctx, f.user.ID, provider, credentials.CallbackParams{State: u.Query().Get("state"), Code: "ok"})
	require.NoError(t, err)
}

func (f *fixture) newPlaylist(t *testing.T, title string) *models.Playlist {
	t.Helper()
	res, err := f.engine.CreatePlaylist(context.Background(), f.user.ID, title, "", nil, nil)
	require.NoError(t, err)
	return &res.Playlist
}

func (f *fixture) addSource(t *testing.T, playlistID int64, provider, ref string) *models.Source {
	t.Helper()
	src, err := f.engine.AddSource(context.Background(), playlistID, provider, ref)
	require.NoError(t, err)
	return src
}

func (f *fixture) sync(t *testing.T, playlistID int64) *SyncReport {
	t.Helper()
	report, err := f.engine.Sync(context.Background(), playlistID, nil)
	require.NoError(t, err)
	return report
}

// tracks returns the native ids of the playlist in position order and checks
// positions are exactly 0..n-1.
func (f *fixture) tracks(t *testing.T, playlistID int64) []string {
	t.Helper()
	tracks, err := f.store.Playlists.Tracks(context.Background(), playlistID, 0, 0)
	require.NoError(t, err)
	ids := make([]string, len(tracks))
	for i, tr := range tracks {
		require.EqualValues(t, i, tr.Position, "positions must be contiguous")
		ids[i] = tr.ProviderID
	}
	return ids
}

func (f *fixture) trackID(t *testing.T, provider, id string) int64 {
	t.Helper()
	tr, err := f.store.Tracks.GetByKey(context.Background(), models.Key{Provider: provider, ProviderID: id})
	require.NoError(t, err)
	return tr.ID
}

func (f *fixture) counter(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)

	total := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("Remote Changes Are Applied", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"), sp.Track("t2", "Two"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		first := f.sync(t, f.playlist.ID)
		require.Len(t, first.Sources, 1)
		assert.Equal(t, StatusSynced, first.Sources[0].Status)
		assert.Equal(t, 2, first.Sources[0].Added)
		assert.Equal(t, []string{"t1", "t2"}, f.tracks(t, f.playlist.ID))

		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t2", "Two"), sp.Track("t3", "Three"))
		second := f.sync(t, f.playlist.ID)
		assert.Equal(t, 1, second.Sources[0].Added)
		assert.Equal(t, 1, second.Sources[0].Removed)
		assert.Equal(t, []string{"t2", "t3"}, f.tracks(t, f.playlist.ID))
		assert.True(t, second.OK())
	})

	t.Run("Idempotent Without Remote Changes", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"), sp.Track("t2", "Two"), sp.Track("t3", "Three"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		f.sync(t, f.playlist.ID)
		before, err := f.store.Playlists.Tracks(ctx, f.playlist.ID, 0, 0)
		require.NoError(t, err)

		again := f.sync(t, f.playlist.ID)
		after, err := f.store.Playlists.Tracks(ctx, f.playlist.ID, 0, 0)
		require.NoError(t, err)

		assert.Zero(t, again.Added())
		assert.Zero(t, again.Removed())
		require.Len(t, after, len(before))
		for i := range before {
			assert.Equal(t, before[i].ID, after[i].ID)
			assert.Equal(t, before[i].Position, after[i].Position)
		}
	})

	t.Run("Blacklisted Track Stays Out Until Whitelisted", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t2", "Two"), sp.Track("t3", "Three"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")
		f.sync(t, f.playlist.ID)

		t2 := f.trackID(t, services.Spotify, "t2")
		require.NoError(t, f.engine.BlacklistTrack(ctx, f.playlist.ID, t2, "skip intro"))
		assert.Equal(t, []string{"t3"}, f.tracks(t, f.playlist.ID))

		for range 2 {
			report := f.sync(t, f.playlist.ID)
			assert.Equal(t, 1, report.Sources[0].Blacklisted)
			assert.Equal(t, []string{"t3"}, f.tracks(t, f.playlist.ID))
		}

		entries, err := f.engine.Blacklist(ctx, f.playlist.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "skip intro", entries[0].Reason)
		assert.Equal(t, "Two", entries[0].Title)

		require.NoError(t, f.engine.WhitelistTrack(ctx, f.playlist.ID, t2))
		assert.Equal(t, []string{"t3"}, f.tracks(t, f.playlist.ID), "whitelisting must not re-add by itself")

		f.sync(t, f.playlist.ID)
		assert.Equal(t, []string{"t3", "t2"}, f.tracks(t, f.playlist.ID))

		err = f.engine.WhitelistTrack(ctx, f.playlist.ID, t2)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("Inaccessible Source Is Detached", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("s1", "One", sp.Track("t1", "One"), sp.Track("t2", "Two"))
		sp.SetPlaylist("s2", "Two", sp.Track("t2", "Two"), sp.Track("t3", "Three"))
		s1 := f.addSource(t, f.playlist.ID, services.Spotify, "s1")
		f.addSource(t, f.playlist.ID, services.Spotify, "s2")

		f.sync(t, f.playlist.ID)
		assert.Equal(t, []string{"t1", "t2", "t3"}, f.tracks(t, f.playlist.ID))

		sp.SetAccessible("s1", false)
		report := f.sync(t, f.playlist.ID)
		require.Len(t, report.Sources, 2)
		assert.Equal(t, StatusDetached, report.Sources[0].Status)
		assert.Equal(t, 1, report.Sources[0].Removed)
		assert.Equal(t, []string{"t2", "t3"}, f.tracks(t, f.playlist.ID), "shared track must remain")

		attached, err := f.store.Sources.IsAttached(ctx, f.playlist.ID, s1.ID)
		require.NoError(t, err)
		assert.False(t, attached)

		next := f.sync(t, f.playlist.ID)
		assert.Len(t, next.Sources, 1)
	})

	t.Run("Shared Track Survives Removal From One Source", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("s1", "One", sp.Track("t1", "One"), sp.Track("t2", "Two"))
		sp.SetPlaylist("s2", "Two", sp.Track("t2", "Two"))
		f.addSource(t, f.playlist.ID, services.Spotify, "s1")
		f.addSource(t, f.playlist.ID, services.Spotify, "s2")
		f.sync(t, f.playlist.ID)

		sp.SetPlaylist("s1", "One", sp.Track("t1", "One"))
		report := f.sync(t, f.playlist.ID)
		assert.Zero(t, report.Removed())
		assert.Equal(t, []string{"t1", "t2"}, f.tracks(t, f.playlist.ID))

		sp.SetPlaylist("s2", "Two")
		report = f.sync(t, f.playlist.ID)
		assert.Equal(t, 1, report.Removed())
		assert.Equal(t, []string{"t1"}, f.tracks(t, f.playlist.ID))
	})

	t.Run("Source Shared Between Playlists", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		other := f.newPlaylist(t, "Other")
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"), sp.Track("t2", "Two"))

		a := f.addSource(t, f.playlist.ID, services.Spotify, "abc123")
		b := f.addSource(t, other.ID, services.Spotify, "https://spotify.example/playlist/abc123")
		assert.Equal(t, a.ID, b.ID)
		n, err := f.store.Sources.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		f.sync(t, f.playlist.ID)
		f.sync(t, other.ID)
		count, err := f.store.Tracks.CountByKey(ctx, models.Key{Provider: services.Spotify, ProviderID: "t1"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, count)

		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t2", "Two"))
		f.sync(t, f.playlist.ID)
		f.sync(t, other.ID)
		assert.Equal(t, []string{"t2"}, f.tracks(t, f.playlist.ID))
		assert.Equal(t, []string{"t2"}, f.tracks(t, other.ID))
	})

	t.Run("Duplicates And Invalid Items", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		untitled := sp.Track("t9", "")
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"), sp.Track("t1", "One"), untitled, sp.Track("t2", "Two"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		report := f.sync(t, f.playlist.ID)
		assert.Equal(t, StatusSynced, report.Sources[0].Status)
		assert.Equal(t, 2, report.Sources[0].Added)
		assert.Equal(t, 1, report.Sources[0].Invalid)
		assert.Equal(t, []string{"t1", "t2"}, f.tracks(t, f.playlist.ID))
	})

	t.Run("Source Metadata Is Refreshed", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
		src := f.addSource(t, f.playlist.ID, services.Spotify, "abc123")
		assert.Equal(t, "Road Trip", src.Title)

		sp.SetPlaylist("abc123", "Renamed", sp.Track("t1", "One"))
		report := f.sync(t, f.playlist.ID)
		assert.Equal(t, "Renamed", report.Sources[0].Title)

		stored, err := f.store.Sources.Get(ctx, src.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", stored.Title)

		sp.Fail("info", shared.ErrProviderUnavailable)
		report = f.sync(t, f.playlist.ID)
		assert.Equal(t, StatusSynced, report.Sources[0].Status, "metadata is best-effort")
	})

	t.Run("Track Metadata Is Refreshed", func(t *testing.T) {
		tests := []struct {
			name    string
			refresh bool
			want    string
		}{
			{"Refresh Enabled", true, "New Title"},
			{"Refresh Disabled", false, "Old Title"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := setup(t, func(c *shared.SyncConfig) { c.RefreshMetadata = tt.refresh })
				sp := f.spotify
				sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "Old Title"), sp.Track("t2", "Two"))
				f.addSource(t, f.playlist.ID, services.Spotify, "abc123")
				f.sync(t, f.playlist.ID)
				id := f.trackID(t, services.Spotify, "t1")

				renamed := sp.Track("t1", "New Title")
				renamed.Href = "https://spotify.example/renamed/t1"
				sp.SetPlaylist("abc123", "Road Trip", renamed, sp.Track("t2", "Two"))
				report := f.sync(t, f.playlist.ID)
				assert.Zero(t, report.Added())
				assert.Zero(t, report.Removed())

				stored, err := f.store.Tracks.Get(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, tt.want, stored.Title)
				assert.Equal(t, []string{"t1", "t2"}, f.tracks(t, f.playlist.ID))
			})
		}
	})

	t.Run("Failing Source Does Not Affect Others", func(t *testing.T) {
		f := setup(t)
		sp, yt := f.spotify, f.youtube
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
		yt.SetPlaylist("PL1", "Videos", yt.Track("v1", "Video"))
		f.addSource(t, f.playlist.ID, services.YouTube, "PL1")
		spSrc := f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		yt.Fail("list:PL1", fmt.Errorf("%w: youtube: 503", shared.ErrProviderUnavailable))
		report := f.sync(t, f.playlist.ID)
		require.Len(t, report.Sources, 2)

		failed := report.Failed()
		require.Len(t, failed, 1)
		assert.Equal(t, services.YouTube, failed[0].Provider)
		assert.Equal(t, "provider_unavailable", failed[0].Kind)
		assert.Equal(t, StatusSynced, report.Sources[1].Status)
		assert.Equal(t, []string{"t1"}, f.tracks(t, f.playlist.ID))
		assert.False(t, report.OK())

		attached, err := f.store.Sources.ListAttached(ctx, f.playlist.ID)
		require.NoError(t, err)
		for _, a := range attached {
			assert.True(t, a.LastSyncedAt.Valid)
			if a.ID == spSrc.ID {
				assert.Empty(t, a.LastError)
			} else {
				assert.Contains(t, a.LastError, "provider unavailable")
			}
		}

		assert.EqualValues(t, 1, f.counter(t, "universal_sync_source_failures_total", map[string]string{"provider": "youtube", "kind": "provider_unavailable"}))
		assert.EqualValues(t, 1, f.counter(t, "universal_sync_tracks_added_total", map[string]string{"provider": "spotify"}))
	})

	t.Run("Rejected Token Is Refreshed Once", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		sp.Reject("spotify-access-ok")
		report := f.sync(t, f.playlist.ID)
		assert.Equal(t, StatusSynced, report.Sources[0].Status)
		assert.Equal(t, 1, sp.Refreshes())
	})

	t.Run("Authorization Failure Is Scoped To Its Provider", func(t *testing.T) {
		f := setup(t)
		sp, yt := f.spotify, f.youtube
		yt.SetPlaylist("PL1", "One", yt.Track("v1", "Video"))
		yt.SetPlaylist("PL2", "Two", yt.Track("v2", "Video"))
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
		f.addSource(t, f.playlist.ID, services.YouTube, "PL1")
		f.addSource(t, f.playlist.ID, services.YouTube, "PL2")
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		verifies := yt.Calls("verify")
		yt.Reject("youtube-access-ok")
		yt.RefreshErr = fmt.Errorf("%w: youtube: invalid_grant", shared.ErrUnauthenticated)

		report := f.sync(t, f.playlist.ID)
		require.Len(t, report.Sources, 3)
		assert.Equal(t, "unauthenticated", report.Sources[0].Kind)
		assert.Equal(t, "unauthenticated", report.Sources[1].Kind)
		assert.Equal(t, StatusSynced, report.Sources[2].Status)
		assert.Equal(t, verifies+1, yt.Calls("verify"), "second youtube source must not call the provider")
		assert.Equal(t, []string{"t1"}, f.tracks(t, f.playlist.ID))

		statuses, err := f.creds.Statuses(ctx, f.user.ID)
		require.NoError(t, err)
		for _, s := range statuses {
			assert.Equal(t, s.Provider == services.Spotify, s.Authorized, s.Provider)
		}
	})

	t.Run("Cancelled Before Start", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		report, err := f.engine.Sync(cctx, f.playlist.ID, nil)
		require.NoError(t, err)
		assert.True(t, report.Cancelled)
		assert.Equal(t, StatusSkipped, report.Sources[0].Status)
		assert.Zero(t, sp.Calls("list"))
		assert.Empty(t, f.tracks(t, f.playlist.ID))
	})

	t.Run("Cancelled Between Sources", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("s1", "One", sp.Track("t1", "One"))
		sp.SetPlaylist("s2", "Two", sp.Track("t2", "Two"))
		f.addSource(t, f.playlist.ID, services.Spotify, "s1")
		f.addSource(t, f.playlist.ID, services.Spotify, "s2")

		cctx, cancel := context.WithCancel(ctx)
		defer cancel()
		f.creds.Registry().Register(&cancellingProvider{FakeProvider: sp, cancel: cancel, on: "s1"})

		report, err := f.engine.Sync(cctx, f.playlist.ID, nil)
		require.NoError(t, err)
		assert.True(t, report.Cancelled)
		assert.Equal(t, StatusSynced, report.Sources[0].Status, "a started source completes")
		assert.Equal(t, StatusSkipped, report.Sources[1].Status)
		assert.Equal(t, []string{"t1"}, f.tracks(t, f.playlist.ID))
	})

	t.Run("Unknown Playlist", func(t *testing.T) {
		f := setup(t)
		_, err := f.engine.Sync(ctx, 999, nil)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("Progress Never Blocks", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		progress := make(chan ProgressUpdate)
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, err := f.engine.Sync(ctx, f.playlist.ID, progress)
			assert.NoError(t, err)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Sync blocked on an unread progress channel")
		}
	})

	t.Run("Progress Updates", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		progress := make(chan ProgressUpdate, 16)
		f.sync(t, f.playlist.ID)
		_, err := f.engine.Sync(ctx, f.playlist.ID, progress)
		require.NoError(t, err)
		close(progress)

		var phases []Phase
		for u := range progress {
			phases = append(phases, u.Phase)
			if u.Phase == SourceDone {
				assert.IsType(t, SourceReport{}, u.Data)
			}
		}
		assert.Equal(t, []Phase{SyncPlaylist, FetchSource, ApplySource, SourceDone}, phases)
	})
}

func TestSyncAll(t *testing.T) {
	f := setup(t, func(c *shared.SyncConfig) { c.Concurrency = 3 })
	sp := f.spotify

	playlists := []*models.Playlist{f.playlist, f.newPlaylist(t, "B"), f.newPlaylist(t, "C")}
	f.newPlaylist(t, "Empty")
	for i, pl := range playlists {
		id := fmt.Sprintf("src%d", i)
		sp.SetPlaylist(id, id, sp.Track("shared", "Shared"), sp.Track(fmt.Sprintf("own%d", i), "Own"))
		f.addSource(t, pl.ID, services.Spotify, id)
	}

	reports, err := f.engine.SyncAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, reports, 3, "playlists without sources are not synced")
	for i, r := range reports {
		assert.Equal(t, playlists[i].ID, r.Playlist.ID)
		assert.True(t, r.OK())
		assert.Equal(t, []string{"shared", fmt.Sprintf("own%d", i)}, f.tracks(t, playlists[i].ID))
	}

	count, err := f.store.Tracks.CountByKey(context.Background(), models.Key{Provider: services.Spotify, ProviderID: "shared"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestSyncAllCancelled(t *testing.T) {
	f := setup(t)
	sp := f.spotify
	sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
	f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reports, err := f.engine.SyncAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Cancelled)
	assert.Equal(t, StatusSkipped, reports[0].Sources[0].Status)
	assert.Zero(t, sp.Calls("list"))
}

// cancellingProvider cancels the sync context once the tracks of one playlist are listed.
type cancellingProvider struct {
	*tu.FakeProvider
	cancel context.CancelFunc
	on     string
}

func (p *cancellingProvider) Client(ctx context.Context, tok *oauth2.Token) (services.Client, error) {
	c, err := p.FakeProvider.Client(ctx, tok)
	if err != nil {
		return nil, err
	}
	return &cancellingClient{Client: c, cancel: p.cancel, on: p.on}, nil
}

type cancellingClient struct {
	services.Client
	cancel context.CancelFunc
	on     string
}

func (c *cancellingClient) ListTracks(ctx context.Context, id string) ([]services.RawTrack, error) {
	tracks, err := c.Client.ListTracks(ctx, id)
	if id == c.on {
		c.cancel()
	}
	return tracks, err
}
