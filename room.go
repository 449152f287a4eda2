package main

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const roomInboxSize = 512

var (
	ErrRoomClosed  = errors.New("room closed")
	ErrPeerUnknown = errors.New("peer not connected")
)

// Sender is a connection the room can write frames to. Sends must not block.
type Sender interface {
	SendRaw(data []byte)
	SendBinary(data []byte)
}

type roomEventKind int

const (
	evJoin roomEventKind = iota
	evLeave
	evMessage
)

type roomEvent struct {
	kind   roomEventKind
	peerID string
	name   string
	role   PeerRole
	sender Sender
	msg    Message
	reply  chan error
}

// RoomInfoSnapshot is what the lobby and HTTP handlers may read about a
// running room without touching its host
type RoomInfoSnapshot struct {
	Peers       int
	VRConnected bool
	Stats       HostStats
}

// Room runs one Host on its own goroutine. Joins, leaves and peer messages
// are queued on the inbox and applied at the start of a tick, so every host
// mutation happens on the room goroutine.
type Room struct {
	ID           string
	Name         string
	PasswordHash string
	Created      time.Time

	cfg   Config
	log   *zap.SugaredLogger
	host  *Host
	inbox chan roomEvent
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once

	clients map[string]Sender // room goroutine only

	mu         sync.RWMutex
	info       RoomInfoSnapshot
	emptySince time.Time
	dropped    int
}

// NewRoom creates a room and its host. Call Run to start it.
func NewRoom(id, name string, cfg Config, events EventSink, log *zap.SugaredLogger) *Room {
	if log == nil {
		log = nopLogger()
	}
	now := time.Now()
	r := &Room{
		ID:         id,
		Name:       name,
		Created:    now,
		cfg:        cfg,
		log:        log,
		inbox:      make(chan roomEvent, roomInboxSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		clients:    make(map[string]Sender),
		emptySince: now,
	}
	r.host = NewHost(id, cfg, HostOptions{
		Transport: r,
		Events:    events,
		Logger:    log.Named("host"),
	})
	r.info.Stats = r.host.Stats()
	return r
}

// Run is the room loop
func (r *Room) Run() {
	defer close(r.done)

	ticker := time.NewTicker(r.cfg.Net.TickDuration())
	defer ticker.Stop()
	dt := r.cfg.Net.TickDuration().Seconds()

	for {
		select {
		case <-ticker.C:
			r.drain()
			r.host.Step(dt)
			r.publish()
		case <-r.stop:
			r.drain()
			r.host.Close()
			return
		}
	}
}

// Stop ends the room loop and waits for it to tell remaining peers
func (r *Room) Stop() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

// Done is closed once the room loop has exited
func (r *Room) Done() <-chan struct{} { return r.done }

// Join queues a join and waits for the room to accept or refuse it
func (r *Room) Join(peerID, name string, role PeerRole, s Sender) error {
	reply := make(chan error, 1)
	ev := roomEvent{kind: evJoin, peerID: peerID, name: name, role: role, sender: s, reply: reply}
	select {
	case r.inbox <- ev:
	case <-r.done:
		return ErrRoomClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// Leave queues a peer's departure
func (r *Room) Leave(peerID string) {
	select {
	case r.inbox <- roomEvent{kind: evLeave, peerID: peerID}:
	case <-r.done:
	}
}

// Enqueue queues a peer message. Pose and tracking updates never block and
// are dropped when the inbox is full. Ownership messages wait for room in
// the inbox instead, so a grab or release is never lost; the wait slows
// down only the sending peer's reader.
func (r *Room) Enqueue(peerID string, msg Message) bool {
	ev := roomEvent{kind: evMessage, peerID: peerID, msg: msg}
	if changesOwnership(msg) {
		select {
		case r.inbox <- ev:
			return true
		case <-r.done:
			return false
		}
	}
	select {
	case r.inbox <- ev:
		return true
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		r.log.Warnw("room inbox full, dropping message", "peer", peerID)
		return false
	}
}

func changesOwnership(msg Message) bool {
	switch msg.(type) {
	case GrabRequestMsg, VRGrabRequestMsg, ObjectReleaseMsg:
		return true
	}
	return false
}

// Info returns the latest published room summary
func (r *Room) Info() RoomInfoSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.info
}

// IdleFor reports how long the room has had no peers
func (r *Room) IdleFor(now time.Time) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.info.Peers > 0 {
		return 0
	}
	return now.Sub(r.emptySince)
}

// Locked reports whether joining needs a password or ticket
func (r *Room) Locked() bool { return r.PasswordHash != "" }

func (r *Room) drain() {
	for {
		select {
		case ev := <-r.inbox:
			r.apply(ev)
		default:
			return
		}
	}
}

func (r *Room) apply(ev roomEvent) {
	switch ev.kind {
	case evJoin:
		err := r.join(ev)
		r.publish()
		ev.reply <- err
		return
	case evLeave:
		r.host.Leave(ev.peerID)
		delete(r.clients, ev.peerID)
	case evMessage:
		r.host.HandleMessage(ev.peerID, ev.msg)
	}
	r.publish()
}

// join registers the peer's sender before the host announces anyone, so
// the peer hears joined before the existing peers
func (r *Room) join(ev roomEvent) error {
	if err := r.host.CanJoin(ev.peerID, ev.role); err != nil {
		return err
	}
	r.clients[ev.peerID] = ev.sender
	r.sendTo(ev.sender, Envelope{T: MsgJoined, Data: JoinedMsg{SID: r.ID, ID: ev.peerID, Role: ev.role}})
	if err := r.host.Join(ev.peerID, ev.name, ev.role); err != nil {
		delete(r.clients, ev.peerID)
		return err
	}
	return nil
}

// publish copies the host summary for readers outside the room goroutine
func (r *Room) publish() {
	peers := r.host.PeerCount()
	r.mu.Lock()
	defer r.mu.Unlock()
	if peers == 0 && r.info.Peers > 0 {
		r.emptySince = time.Now()
	}
	r.info.Peers = peers
	r.info.VRConnected = r.host.VRPeer() != ""
	if r.host.tick%uint64(r.cfg.Net.TickRate) == 0 {
		r.info.Stats = r.host.Stats()
	}
}

// Send implements Transport
func (r *Room) Send(peerID string, env Envelope) error {
	s, ok := r.clients[peerID]
	if !ok {
		return ErrPeerUnknown
	}
	return r.sendTo(s, env)
}

// Broadcast implements Transport
func (r *Room) Broadcast(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		r.log.Errorw("marshal broadcast", "type", env.T, "error", err)
		return
	}
	for _, s := range r.clients {
		s.SendRaw(data)
	}
}

// BroadcastBinary implements Transport
func (r *Room) BroadcastBinary(data []byte) {
	for _, s := range r.clients {
		s.SendBinary(data)
	}
}

func (r *Room) sendTo(s Sender, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	s.SendRaw(data)
	return nil
}
