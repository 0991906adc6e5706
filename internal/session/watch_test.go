package session

import (
	"testing"
	"time"

	"streamsession/native/internal/channel/channeltest"
	"streamsession/native/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchSession_Lifecycle(t *testing.T) {
	c, conn := connected(t)

	meta := &domain.WatchMetadata{DeviceType: "tv", Country: "SE", Source: "home"}
	require.NoError(t, c.StartWatchSession("film-42", meta))
	require.NoError(t, c.UpdateWatchDuration("film-42", 120))
	require.NoError(t, c.EndWatchSession("film-42", nil))

	var watch []domain.Message
	for _, m := range conn.Sent() {
		switch m.Type {
		case domain.TypeWatchStart, domain.TypeWatchUpdate, domain.TypeWatchEnd:
			watch = append(watch, m)
		}
	}
	require.Len(t, watch, 3)

	assert.Equal(t, domain.TypeWatchStart, watch[0].Type)
	assert.Equal(t, "film-42", watch[0].ContentSlug)
	require.NotNil(t, watch[0].Metadata)
	assert.Equal(t, "tv", watch[0].Metadata.DeviceType)

	assert.Equal(t, domain.TypeWatchUpdate, watch[1].Type)
	require.NotNil(t, watch[1].DurationSeconds)
	assert.Equal(t, 120.0, *watch[1].DurationSeconds)

	assert.Equal(t, domain.TypeWatchEnd, watch[2].Type)
	require.NotNil(t, watch[2].FinalDurationSeconds)
	assert.Equal(t, 120.0, *watch[2].FinalDurationSeconds, "falls back to last reported duration")

	_, ok := c.WatchSession("film-42")
	assert.False(t, ok)
	assert.Empty(t, c.ActiveWatchSessions())
}

func TestEndWatchSession_ExplicitFinalDuration(t *testing.T) {
	c, conn := connected(t)

	require.NoError(t, c.StartWatchSession("film-42", nil))
	require.NoError(t, c.UpdateWatchDuration("film-42", 30))
	final := 95.5
	require.NoError(t, c.EndWatchSession("film-42", &final))

	end := conn.SentOfType(domain.TypeWatchEnd)
	require.Len(t, end, 1)
	assert.Equal(t, 95.5, *end[0].FinalDurationSeconds)
	assert.Nil(t, conn.SentOfType(domain.TypeWatchStart)[0].Metadata)
}

func TestEndWatchSession_AbsentIsNoop(t *testing.T) {
	c, conn := connected(t)

	assert.NoError(t, c.EndWatchSession("never-started", nil))
	assert.NoError(t, c.UpdateWatchDuration("never-started", 10))

	assert.Empty(t, conn.SentOfType(domain.TypeWatchEnd))
	assert.Empty(t, conn.SentOfType(domain.TypeWatchUpdate))

	// Ending twice sends once.
	require.NoError(t, c.StartWatchSession("film-1", nil))
	require.NoError(t, c.EndWatchSession("film-1", nil))
	require.NoError(t, c.EndWatchSession("film-1", nil))
	assert.Len(t, conn.SentOfType(domain.TypeWatchEnd), 1)
}

func TestStartWatchSession_RestartRearms(t *testing.T) {
	clock := newFakeClock()
	c, conn := connected(t, func(cfg *Config) { cfg.Now = clock.Now })

	require.NoError(t, c.StartWatchSession("film-42", nil))
	first, ok := c.WatchSession("film-42")
	require.True(t, ok)
	require.NoError(t, c.UpdateWatchDuration("film-42", 60))

	clock.Advance(time.Minute)
	require.NoError(t, c.StartWatchSession("film-42", &domain.WatchMetadata{DeviceType: "web"}))

	second, ok := c.WatchSession("film-42")
	require.True(t, ok)
	assert.True(t, second.StartedAt.After(first.StartedAt))
	assert.Equal(t, 0.0, second.LastReportedDurationSeconds)
	assert.Equal(t, "web", second.Metadata.DeviceType)
	assert.Len(t, c.ActiveWatchSessions(), 1)
	assert.Len(t, conn.SentOfType(domain.TypeWatchStart), 2)
}

func TestUpdateWatchDuration_ForwardsDecreasingValues(t *testing.T) {
	c, conn := connected(t)

	require.NoError(t, c.StartWatchSession("film-42", nil))
	require.NoError(t, c.UpdateWatchDuration("film-42", 100))
	require.NoError(t, c.UpdateWatchDuration("film-42", 40))

	ws, ok := c.WatchSession("film-42")
	require.True(t, ok)
	assert.Equal(t, 40.0, ws.LastReportedDurationSeconds)
	assert.Len(t, conn.SentOfType(domain.TypeWatchUpdate), 2)
}

func TestWatchSession_NotConnectedTracksLocally(t *testing.T) {
	c := newTestClient(t, channeltest.NewDialer())

	assert.ErrorIs(t, c.StartWatchSession("film-42", nil), domain.ErrNotConnected)
	assert.ErrorIs(t, c.UpdateWatchDuration("film-42", 12), domain.ErrNotConnected)

	ws, ok := c.WatchSession("film-42")
	require.True(t, ok)
	assert.Equal(t, 12.0, ws.LastReportedDurationSeconds)

	assert.ErrorIs(t, c.EndWatchSession("film-42", nil), domain.ErrNotConnected)
	_, ok = c.WatchSession("film-42")
	assert.False(t, ok)
}

func TestActiveWatchSessions_SortedBySlug(t *testing.T) {
	c, _ := connected(t)
	for _, slug := range []string{"c", "a", "b"} {
		require.NoError(t, c.StartWatchSession(slug, nil))
	}
	var slugs []string
	for _, ws := range c.ActiveWatchSessions() {
		slugs = append(slugs, ws.ContentSlug)
	}
	assert.Equal(t, []string{"a", "b", "c"}, slugs)
	assert.Error(t, c.StartWatchSession("", nil))
}
