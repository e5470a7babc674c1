package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/reddittail/models"
	"github.com/brettboylen/reddittail/streamengine"
)

func newTestSink(t *testing.T) *SQLiteSink {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "reddittail_test.db")
	sink, err := NewSQLiteSink(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestSQLiteSinkRecordAndRecentByListing(t *testing.T) {
	sink := newTestSink(t)

	item := streamengine.NewStreamItem("submissions", models.Item{Fullname: "t3_a", ID: "a", Author: "gopher"})
	require.NoError(t, sink.Record(item))

	recent, err := sink.RecentByListing("submissions", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "t3_a", recent[0].Fullname)
	assert.Equal(t, "submissions", recent[0].Listing)
	assert.Equal(t, "submissions", recent[0].Kind)
}

func TestSQLiteSinkRecentByListingRespectsLimit(t *testing.T) {
	sink := newTestSink(t)

	for i := 0; i < 5; i++ {
		fullname := "t3_" + string(rune('a'+i))
		item := streamengine.NewStreamItem("submissions", models.Item{Fullname: fullname, ID: fullname})
		require.NoError(t, sink.Record(item))
	}

	recent, err := sink.RecentByListing("submissions", 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestSQLiteSinkRecentByListingFiltersByListing(t *testing.T) {
	sink := newTestSink(t)

	require.NoError(t, sink.Record(streamengine.NewStreamItem("submissions", models.Item{Fullname: "t3_a", ID: "a"})))
	require.NoError(t, sink.Record(streamengine.NewStreamItem("comments", models.Item{Fullname: "t1_b", ID: "b"})))

	recent, err := sink.RecentByListing("comments", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "t1_b", recent[0].Fullname)
}
