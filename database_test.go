package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSettings(t *testing.T) {
	db := openTestDB(t)

	v, err := db.GetSetting("missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, db.SetSetting("k", "one"))
	require.NoError(t, db.SetSetting("k", "two"))
	v, err = db.GetSetting("k")
	require.NoError(t, err)
	assert.Equal(t, "two", v)
}

func TestInsertAndCountEvents(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC()
	require.NoError(t, db.InsertEvents([]JournalEvent{
		{Type: EvtPeerJoin, RoomID: "r1", PeerID: "a", Timestamp: now},
		{Type: EvtPeerJoin, RoomID: "r1", PeerID: "b", Timestamp: now},
		{Type: EvtGrab, RoomID: "r1", PeerID: "a", Data: "block_test1", Timestamp: now},
		{Type: EvtPeerJoin, RoomID: "r2", PeerID: "c", Timestamp: now},
	}))

	counts, err := db.EventCounts("r1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{EvtPeerJoin: 2, EvtGrab: 1}, counts)

	all, err := db.EventCounts("")
	require.NoError(t, err)
	assert.Equal(t, 3, all[EvtPeerJoin])

	rows, err := db.RecentEvents("r1", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, EvtGrab, rows[0].Type, "newest first")
	assert.Equal(t, "block_test1", rows[0].Data)
	assert.WithinDuration(t, now, rows[0].CreatedAt, time.Millisecond)
}

func TestJournalFlushesOnStop(t *testing.T) {
	db := openTestDB(t)
	j := NewJournal(db, nil)
	for i := 0; i < 3; i++ {
		j.Track(EvtRagdoll, "r1", "p1", "")
	}
	j.Track(EvtRoomCreated, "r1", "", "Sandbox")
	j.Stop()
	j.Stop()

	counts, err := j.EventCounts("r1")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[EvtRagdoll])
	assert.Equal(t, 1, counts[EvtRoomCreated])

	rows, err := j.RecentEvents("r1", 10)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestJournalWithoutDB(t *testing.T) {
	j := NewJournal(nil, nil)
	defer j.Stop()

	j.Track(EvtGrab, "r1", "a", "")
	j.SetActiveRooms(4)
	rooms, dropped := j.LiveMetrics()
	assert.Equal(t, 4, rooms)
	assert.Zero(t, dropped)

	counts, err := j.EventCounts("r1")
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestJournalDropsWhenFull(t *testing.T) {
	// A journal whose writer is not running cannot drain its buffer
	j := &Journal{events: make(chan JournalEvent, 2), stop: make(chan struct{}), log: nopLogger()}
	for i := 0; i < 5; i++ {
		j.Track(EvtGrab, "r1", "a", "")
	}
	_, dropped := j.LiveMetrics()
	assert.Equal(t, 3, dropped)
}
