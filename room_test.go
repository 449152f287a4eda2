package main

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSender collects the frames a room writes to one peer
type fakeSender struct {
	mu     sync.Mutex
	text   []InEnvelope
	binary [][]byte
}

func (s *fakeSender) SendRaw(data []byte) {
	var env InEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	s.mu.Lock()
	s.text = append(s.text, env)
	s.mu.Unlock()
}

func (s *fakeSender) SendBinary(data []byte) {
	s.mu.Lock()
	s.binary = append(s.binary, data)
	s.mu.Unlock()
}

func (s *fakeSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.text))
	for _, env := range s.text {
		out = append(out, env.T)
	}
	return out
}

func (s *fakeSender) find(typ string) (InEnvelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range s.text {
		if env.T == typ {
			return env, true
		}
	}
	return InEnvelope{}, false
}

func (s *fakeSender) frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.binary)
}

func startTestRoom(t *testing.T) *Room {
	t.Helper()
	r := NewRoom("room-1", "Test", DefaultConfig(), nil, nil)
	go r.Run()
	t.Cleanup(r.Stop)
	return r
}

func TestRoomJoinSendsJoinedFirst(t *testing.T) {
	r := startTestRoom(t)
	vr := &fakeSender{}
	require.NoError(t, r.Join("vr1", "Headset", RoleVR, vr))
	pc := &fakeSender{}
	require.NoError(t, r.Join("pc1", "Desk", RolePC, pc))

	types := pc.types()
	require.NotEmpty(t, types)
	assert.Equal(t, MsgJoined, types[0])
	assert.Equal(t, MsgPlayerJoin, types[1], "existing peers announced after joined")

	env, _ := pc.find(MsgJoined)
	var joined JoinedMsg
	require.NoError(t, json.Unmarshal(env.D, &joined))
	assert.Equal(t, "pc1", joined.ID)
	assert.Equal(t, "room-1", joined.SID)

	assert.Equal(t, 2, r.Info().Peers)
	assert.True(t, r.Info().VRConnected)
}

func TestRoomRefusesSecondVR(t *testing.T) {
	r := startTestRoom(t)
	require.NoError(t, r.Join("vr1", "a", RoleVR, &fakeSender{}))
	late := &fakeSender{}
	assert.ErrorIs(t, r.Join("vr2", "b", RoleVR, late), ErrVRSlotTaken)
	assert.Empty(t, late.types(), "refused peers hear nothing")
}

func TestRoomStreamsWorldState(t *testing.T) {
	r := startTestRoom(t)
	pc := &fakeSender{}
	require.NoError(t, r.Join("pc1", "Desk", RolePC, pc))

	require.Eventually(t, func() bool { return pc.frames() >= 2 }, 2*time.Second, 10*time.Millisecond)
	pc.mu.Lock()
	first := pc.binary[0]
	pc.mu.Unlock()
	ws, err := DecodeWorldState(first)
	require.NoError(t, err)
	assert.True(t, ws.IsFullState)
	require.Len(t, ws.Players, 1)
	assert.Equal(t, "pc1", ws.Players[0].ID)
}

func TestRoomMessagesReachHost(t *testing.T) {
	r := startTestRoom(t)
	pc := &fakeSender{}
	require.NoError(t, r.Join("pc1", "Desk", RolePC, pc))

	require.True(t, r.Enqueue("pc1", GrabRequestMsg{ObjectID: "block_test1"}))
	require.Eventually(t, func() bool {
		_, ok := pc.find(MsgGrabResponse)
		return ok
	}, time.Second, 5*time.Millisecond)

	env, _ := pc.find(MsgGrabResponse)
	var resp GrabResponseMsg
	require.NoError(t, json.Unmarshal(env.D, &resp))
	assert.True(t, resp.Granted)
}

func TestRoomLeaveAndIdle(t *testing.T) {
	r := startTestRoom(t)
	require.NoError(t, r.Join("pc1", "Desk", RolePC, &fakeSender{}))
	assert.Zero(t, r.IdleFor(time.Now().Add(time.Hour)), "occupied rooms are never idle")

	r.Leave("pc1")
	require.Eventually(t, func() bool { return r.Info().Peers == 0 }, time.Second, 5*time.Millisecond)
	assert.Greater(t, r.IdleFor(time.Now().Add(time.Minute)), 59*time.Second)
}

func TestRoomStopTellsPeers(t *testing.T) {
	r := NewRoom("room-1", "Test", DefaultConfig(), nil, nil)
	go r.Run()
	pc := &fakeSender{}
	require.NoError(t, r.Join("pc1", "Desk", RolePC, pc))

	r.Stop()
	r.Stop()
	env, ok := pc.find(MsgPlayerLeave)
	require.True(t, ok)
	var leave PlayerLeaveMsg
	require.NoError(t, json.Unmarshal(env.D, &leave))
	assert.Equal(t, HostPeerID, leave.PlayerID)

	assert.ErrorIs(t, r.Join("pc2", "x", RolePC, &fakeSender{}), ErrRoomClosed)
}

func TestRoomEnqueueDropsWhenFull(t *testing.T) {
	// Not running, so nothing drains the inbox
	r := NewRoom("room-1", "Test", DefaultConfig(), nil, nil)
	for i := 0; i < roomInboxSize; i++ {
		require.True(t, r.Enqueue("p", RecoveryCompleteMsg{}))
	}
	assert.False(t, r.Enqueue("p", RecoveryCompleteMsg{}))
}

func TestRoomEnqueueKeepsReleaseWhenFull(t *testing.T) {
	r := NewRoom("room-1", "Test", DefaultConfig(), nil, nil)
	require.NoError(t, r.host.Join("vr1", "vr1", RoleVR))
	require.True(t, r.host.GrabRequest("vr1", "block_test1", 0))

	for i := 0; i < roomInboxSize; i++ {
		require.True(t, r.Enqueue("vr1", RecoveryCompleteMsg{}))
	}
	assert.False(t, r.Enqueue("vr1", ObjectUpdateMsg{ObjectID: "block_test1", Rotation: Quat{W: 1}}))

	queued := make(chan bool, 1)
	go func() { queued <- r.Enqueue("vr1", ObjectReleaseMsg{ObjectID: "block_test1"}) }()
	select {
	case <-queued:
		t.Fatal("release returned before the inbox had room")
	case <-time.After(20 * time.Millisecond):
	}

	r.drain()
	select {
	case ok := <-queued:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("release never queued")
	}
	r.drain()

	obj, ok := r.host.Object("block_test1")
	require.True(t, ok)
	assert.True(t, obj.Free(), "the release survived the flood")
}

func TestRoomEnqueueReleaseAfterStop(t *testing.T) {
	r := NewRoom("room-1", "Test", DefaultConfig(), nil, nil)
	go r.Run()
	r.Stop()
	for i := 0; i < roomInboxSize; i++ {
		r.Enqueue("vr1", RecoveryCompleteMsg{})
	}
	assert.False(t, r.Enqueue("vr1", ObjectReleaseMsg{ObjectID: "block_test1"}), "a stopped room does not block ownership messages")
}

func TestRoomLocked(t *testing.T) {
	r := NewRoom("room-1", "Test", DefaultConfig(), nil, nil)
	assert.False(t, r.Locked())
	r.PasswordHash = "x"
	assert.True(t, r.Locked())
}
