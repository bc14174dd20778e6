package cache

import (
	"context"
	"testing"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testContext carries a logger for code that logs through the context
func testContext(t *testing.T) context.Context {
	return logging.EnsureLogger(t.Context())
}

func snapshot(ids ...string) *gtfs.FeedMessage {
	msg := &gtfs.FeedMessage{Header: &gtfs.FeedHeader{GtfsRealtimeVersion: str("2.0")}}
	for _, id := range ids {
		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{Id: str(id)})
	}
	return msg
}

func str(s string) *string { return &s }

func TestCache_SetGet(t *testing.T) {
	c := NewCache()
	clock := time.Unix(1700000000, 0)
	c.now = func() time.Time { return clock }

	require.NoError(t, c.Set("alerts", snapshot("a", "b"), time.Minute, "test"))

	var got gtfs.FeedMessage
	entry, found, err := c.GetWithMetadata("alerts", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, clock, entry.CreatedAt)
	assert.Equal(t, clock.Add(time.Minute), entry.ExpiresAt)
	assert.Len(t, got.Entity, 2)
	assert.Equal(t, "a", got.Entity[0].GetId())

	_, found, err = c.GetWithMetadata("missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_Staleness(t *testing.T) {
	c := NewCache()
	clock := time.Unix(1700000000, 0)
	c.now = func() time.Time { return clock }

	require.NoError(t, c.Set("alerts", snapshot("a"), time.Minute, "test"))
	assert.False(t, c.IsStale("alerts"))
	assert.True(t, c.IsStale("missing"))
	assert.True(t, c.IsVeryStale("missing"))

	clock = clock.Add(90 * time.Second)
	assert.True(t, c.IsStale("alerts"))
	assert.False(t, c.IsVeryStale("alerts"))

	// stale snapshots are still readable
	var got gtfs.FeedMessage
	entry, found, err := c.GetWithMetadata("alerts", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "test", entry.Source)
	assert.Equal(t, "a", got.Entity[0].GetId())

	stats := c.Stats()
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 1, stats.StaleEntries)
	assert.Equal(t, 0, stats.FreshEntries)

	assert.Equal(t, 0, c.CleanupStale(), "stale but not very stale")

	clock = clock.Add(time.Minute)
	assert.True(t, c.IsVeryStale("alerts"))
	assert.Equal(t, 1, c.CleanupStale())
	assert.Equal(t, 0, c.Stats().TotalEntries)
}
