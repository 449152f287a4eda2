package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoomManager(t *testing.T, cfg Config) *RoomManager {
	t.Helper()
	rm := NewRoomManager(cfg, nil, nil)
	t.Cleanup(rm.Close)
	return rm
}

func TestRoomManagerCreateAndGet(t *testing.T) {
	rm := newTestRoomManager(t, DefaultConfig())
	room, err := rm.CreateRoom("  ", "")
	require.NoError(t, err)
	assert.Equal(t, "Sandbox", room.Name, "blank names get the default")
	assert.Regexp(t, `^[0-9a-f-]{36}$`, room.ID)

	got, err := rm.GetRoom(room.ID)
	require.NoError(t, err)
	assert.Same(t, room, got)

	_, err = rm.GetRoom("missing")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRoomManagerTruncatesName(t *testing.T) {
	rm := newTestRoomManager(t, DefaultConfig())
	room, err := rm.CreateRoom("a very long room name that keeps going on", "")
	require.NoError(t, err)
	assert.Len(t, room.Name, maxRoomNameLen)
}

func TestRoomManagerLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Net.MaxRooms = 2
	rm := newTestRoomManager(t, cfg)
	for i := 0; i < 2; i++ {
		_, err := rm.CreateRoom("r", "")
		require.NoError(t, err)
	}
	_, err := rm.CreateRoom("r", "")
	assert.ErrorIs(t, err, ErrTooManyRooms)
	assert.Equal(t, 2, rm.RoomCount())
}

func TestRoomManagerListRooms(t *testing.T) {
	rm := newTestRoomManager(t, DefaultConfig())
	first, err := rm.CreateRoom("first", "")
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := rm.CreateRoom("second", "hash")
	require.NoError(t, err)

	list := rm.ListRooms()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.False(t, list[0].Locked)
	assert.Equal(t, second.ID, list[1].ID)
	assert.True(t, list[1].Locked)
}

func TestRoomManagerCleanup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Net.RoomIdleTimeout = time.Minute
	rm := newTestRoomManager(t, cfg)

	empty, err := rm.CreateRoom("empty", "")
	require.NoError(t, err)
	busy, err := rm.CreateRoom("busy", "")
	require.NoError(t, err)
	require.NoError(t, busy.Join("pc1", "Desk", RolePC, &fakeSender{}))

	rm.cleanup(time.Now())
	assert.Equal(t, 2, rm.RoomCount(), "nothing idle long enough yet")

	rm.cleanup(time.Now().Add(2 * time.Minute))
	_, err = rm.GetRoom(empty.ID)
	assert.ErrorIs(t, err, ErrRoomNotFound)
	select {
	case <-empty.Done():
	default:
		t.Fatal("removed room should be stopped")
	}
	_, err = rm.GetRoom(busy.ID)
	assert.NoError(t, err)
}

func TestRoomManagerJournal(t *testing.T) {
	db := openTestDB(t)
	j := NewJournal(db, nil)
	rm := NewRoomManager(DefaultConfig(), j, nil)

	room, err := rm.CreateRoom("journaled", "")
	require.NoError(t, err)
	rooms, _ := j.LiveMetrics()
	assert.Equal(t, 1, rooms)

	rm.RemoveRoom(room.ID)
	rm.Close()
	j.Stop()

	counts, err := db.EventCounts(room.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[EvtRoomCreated])
	assert.Equal(t, 1, counts[EvtRoomClosed])
	rooms, _ = j.LiveMetrics()
	assert.Zero(t, rooms)
}
