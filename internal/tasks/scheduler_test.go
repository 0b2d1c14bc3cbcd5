package tasks

import (
	"context"
	"io"
	"testing"

	"github.com/desertthunder/universal/internal/services"
	"github.com/desertthunder/universal/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler(t *testing.T) {
	logger := shared.NewLogger(io.Discard)

	t.Run("Rejects Invalid Schedule", func(t *testing.T) {
		f := setup(t)
		_, err := NewScheduler(f.engine, "every now and then", logger)
		assert.ErrorIs(t, err, shared.ErrInvalidConfig)
	})

	t.Run("RunNow Syncs Every Playlist", func(t *testing.T) {
		f := setup(t)
		sp := f.spotify
		sp.SetPlaylist("abc123", "Road Trip", sp.Track("t1", "One"))
		f.addSource(t, f.playlist.ID, services.Spotify, "abc123")

		s, err := NewScheduler(f.engine, "@every 1h", logger)
		require.NoError(t, err)

		reports, err := s.RunNow(context.Background())
		require.NoError(t, err)
		require.Len(t, reports, 1)
		assert.Equal(t, 1, reports[0].Added())
		assert.Equal(t, 1, s.Runs())
		assert.Equal(t, []string{"t1"}, f.tracks(t, f.playlist.ID))
	})

	t.Run("Start And Stop", func(t *testing.T) {
		f := setup(t)
		s, err := NewScheduler(f.engine, "*/5 * * * *", logger)
		require.NoError(t, err)

		assert.Empty(t, s.Next())
		s.Start()
		assert.NotEmpty(t, s.Next())
		s.Stop()
		assert.Zero(t, s.Runs())
	})
}

func TestPhase(t *testing.T) {
	tests := []struct {
		phase Phase
		want  string
	}{
		{SyncPlaylist, "sync_playlist"},
		{FetchSource, "fetch_source"},
		{ApplySource, "apply_source"},
		{SourceDone, "source_done"},
		{CreateMirror, "create_mirror"},
		{DeleteMirror, "delete_mirror"},
		{Phase(99), ""},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("Phase(%d).String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}
