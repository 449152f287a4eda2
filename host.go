package main

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

const (
	CameraObjectID = "camera_main"
	outOfBoundsY   = -5.0
	playAreaRadius = 10.0
	spawnRadius    = 0.4
)

var (
	ErrRoomFull      = errors.New("room full")
	ErrVRSlotTaken   = errors.New("a VR client is already connected")
	ErrAlreadyJoined = errors.New("peer already joined")
)

// Transport delivers host messages to the peers of one room
type Transport interface {
	Send(peerID string, env Envelope) error
	Broadcast(env Envelope)
	BroadcastBinary(data []byte)
}

// EventSink records room telemetry
type EventSink interface {
	Track(evtType, roomID, peerID, data string)
}

// HostOptions are the collaborators injected into a Host
type HostOptions struct {
	Transport Transport
	Events    EventSink
	Logger    *zap.SugaredLogger
	Now       func() time.Time
	Strategy  EncodeStrategy
}

// PlayerRecord is a PC player's avatar on the host
type PlayerRecord struct {
	ID     string
	Name   string
	Body   *PlayerPhysicsBody
	SM     *PlayerStateMachine
	Anim   *TimedAnimator
	HeldBy string
	spawn  mgl64.Vec3
}

type peerInfo struct {
	id   string
	name string
	role PeerRole
}

type ragdollSource struct {
	kind, id string
	velocity *mgl64.Vec3
}

// HostStats is a point-in-time summary of a room
type HostStats struct {
	Tick         uint64         `json:"tick"`
	Peers        int            `json:"peers"`
	Players      int            `json:"players"`
	Objects      int            `json:"objects"`
	Bodies       int            `json:"bodies"`
	VRConnected  bool           `json:"vrConnected"`
	GrabsGranted int            `json:"grabsGranted"`
	GrabsDenied  int            `json:"grabsDenied"`
	Ragdolls     int            `json:"ragdolls"`
	Contacts     map[string]int `json:"contacts"`
}

// Host is the authoritative state of one room: physics, players, objects
// and ownership. It is driven by a single goroutine (the room loop) and is
// not safe for concurrent use.
type Host struct {
	roomID    string
	cfg       Config
	log       *zap.SugaredLogger
	transport Transport
	events    EventSink
	now       func() time.Time

	world      *PhysicsWorld
	hands      map[Handedness]*HandPhysics
	collisions *CollisionHandler
	scheduler  *Scheduler
	encoder    *SnapshotEncoder
	objects    *ObjectRegistry
	blocks     map[string]*Block
	players    map[string]*PlayerRecord
	peers      map[string]*peerInfo
	peerOrder  []string

	vrPeer       string
	vrHead       *HeadTrackingMsg
	vrHands      *HandTrackingMsg
	pendingHands *HandTrackingMsg
	handElapsed  float64
	source       *ragdollSource

	tick       uint64
	spawnCount int
	stats      HostStats
}

// NewHost builds a room's world with its default content
func NewHost(roomID string, cfg Config, opts HostOptions) *Host {
	log := opts.Logger
	if log == nil {
		log = nopLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	h := &Host{
		roomID:    roomID,
		cfg:       cfg,
		log:       log,
		transport: opts.Transport,
		events:    opts.Events,
		now:       now,
		world:     NewPhysicsWorld(cfg.Physics),
		hands:     make(map[Handedness]*HandPhysics),
		scheduler: NewScheduler(),
		encoder:   NewSnapshotEncoder(cfg.Net, opts.Strategy),
		objects:   NewObjectRegistry(),
		blocks:    make(map[string]*Block),
		players:   make(map[string]*PlayerRecord),
		peers:     make(map[string]*peerInfo),
	}
	h.collisions = NewCollisionHandler(h.world, cfg.Physics, CollisionHooks{
		IsPlayerHeld:      h.isPlayerHeld,
		IsBlockHeldByHand: h.isBlockHeldByHand,
		OnPlayerRagdoll:   h.onPlayerRagdoll,
	}, log.Named("collision"))
	for _, side := range []Handedness{HandLeft, HandRight} {
		hand := NewHandPhysics(h.world, side, cfg.Physics.Hand)
		h.hands[side] = hand
		h.collisions.SetHand(hand)
	}
	h.addDefaultContent()
	return h
}

func (h *Host) addDefaultContent() {
	h.objects.Add(&NetworkObject{ID: CameraObjectID, Kind: KindCamera, Position: mgl64.Vec3{0.5, 0.3, 0}})
	h.AddBlock("block_test1", mgl64.Vec3{0.3, 0, -0.3})
	h.AddBlock("block_test2", mgl64.Vec3{-0.3, 0, -0.3})
}

// AddBlock adds a grabbable block resting at pos
func (h *Host) AddBlock(id string, pos mgl64.Vec3) *Block {
	b := NewBlock(h.world, id, pos, h.cfg.Physics.Block)
	h.blocks[id] = b
	p, q := b.Transform()
	h.objects.Add(&NetworkObject{ID: id, Kind: KindBlock, Position: p, Rotation: q})
	return b
}

// RoomID returns the id of the room this host serves
func (h *Host) RoomID() string { return h.roomID }

// World exposes the physics world
func (h *Host) World() *PhysicsWorld { return h.world }

// Player returns a player's avatar record
func (h *Host) Player(id string) (*PlayerRecord, bool) {
	p, ok := h.players[id]
	return p, ok
}

// Object returns a replicated object
func (h *Host) Object(id string) (*NetworkObject, bool) {
	return h.objects.Get(id)
}

// Block returns a block
func (h *Host) Block(id string) (*Block, bool) {
	b, ok := h.blocks[id]
	return b, ok
}

// Hand returns the host-side physics of one of the VR peer's hands
func (h *Host) Hand(side Handedness) *HandPhysics { return h.hands[side] }

// VRPeer returns the id of the connected VR peer, or ""
func (h *Host) VRPeer() string { return h.vrPeer }

// PeerCount returns the number of joined peers
func (h *Host) PeerCount() int { return len(h.peers) }

// CanJoin reports why a peer could not join, or nil
func (h *Host) CanJoin(peerID string, role PeerRole) error {
	if _, ok := h.peers[peerID]; ok {
		return ErrAlreadyJoined
	}
	if role == RoleVR && h.vrPeer != "" {
		return ErrVRSlotTaken
	}
	if len(h.peers) >= h.cfg.Net.MaxPlayersPerRoom {
		return ErrRoomFull
	}
	return nil
}

// Join admits a peer. Only one VR peer is allowed per room; PC peers get
// an avatar.
func (h *Host) Join(peerID, name string, role PeerRole) error {
	if err := h.CanJoin(peerID, role); err != nil {
		return err
	}

	for _, id := range h.peerOrder {
		p := h.peers[id]
		h.send(peerID, Envelope{T: MsgPlayerJoin, Data: PlayerJoinMsg{PlayerID: p.id, Name: p.name, Role: p.role}})
	}

	h.peers[peerID] = &peerInfo{id: peerID, name: name, role: role}
	h.peerOrder = append(h.peerOrder, peerID)
	switch role {
	case RoleVR:
		h.vrPeer = peerID
		for _, hand := range h.hands {
			hand.Reset()
		}
	case RolePC:
		h.addPlayer(peerID, name)
	}

	h.broadcast(Envelope{T: MsgPlayerJoin, Data: PlayerJoinMsg{PlayerID: peerID, Name: name, Role: role}})
	h.encoder.ForceFull()
	h.track(EvtPeerJoin, peerID, string(role))
	h.log.Infow("peer joined", "peer", peerID, "name", name, "role", role)
	return nil
}

func (h *Host) addPlayer(id, name string) *PlayerRecord {
	angle := float64(h.spawnCount) * (math.Pi / 3)
	h.spawnCount++
	spawn := mgl64.Vec3{spawnRadius * math.Cos(angle), 0, spawnRadius * math.Sin(angle)}

	body := NewPlayerPhysicsBody(h.world, id, h.cfg.Physics.Player)
	body.SetPosition(spawn)
	anim := NewTimedAnimator(map[string]float64{ClipGetup: h.cfg.Physics.Forces.GetupDuration})
	sm := NewPlayerStateMachine(id, body, anim, h.cfg.Physics, h.log.With("player", id))
	rec := &PlayerRecord{ID: id, Name: name, Body: body, SM: sm, Anim: anim, spawn: spawn}
	sm.OnStateChange(h.onStateChange)
	h.players[id] = rec
	h.objects.Add(&NetworkObject{ID: PlayerBodyID(id), Kind: KindPlayer, Position: spawn})
	return rec
}

// Leave removes a peer, dropping whatever it held
func (h *Host) Leave(peerID string) {
	peer, ok := h.peers[peerID]
	if !ok {
		return
	}
	h.ReleaseAllHeldBy(peerID)

	if rec, ok := h.players[peerID]; ok {
		if rec.HeldBy != "" {
			if obj, ok := h.objects.Get(PlayerBodyID(peerID)); ok {
				obj.HeldBy = ""
			}
		}
		h.scheduler.Cancel(cooldownKey(PlayerBodyID(peerID)))
		rec.Body.Dispose()
		delete(h.players, peerID)
		h.objects.Remove(PlayerBodyID(peerID))
	}
	if peerID == h.vrPeer {
		h.vrPeer = ""
		h.vrHead = nil
		h.vrHands = nil
		h.pendingHands = nil
		for _, hand := range h.hands {
			hand.Reset()
		}
	}

	delete(h.peers, peerID)
	for i, id := range h.peerOrder {
		if id == peerID {
			h.peerOrder = append(h.peerOrder[:i], h.peerOrder[i+1:]...)
			break
		}
	}
	h.broadcast(Envelope{T: MsgPlayerLeave, Data: PlayerLeaveMsg{PlayerID: peerID}})
	h.track(EvtPeerLeave, peerID, string(peer.role))
	h.log.Infow("peer left", "peer", peerID, "role", peer.role)
}

// Close tells the remaining peers the room is going away
func (h *Host) Close() {
	h.broadcast(Envelope{T: MsgPlayerLeave, Data: PlayerLeaveMsg{PlayerID: HostPeerID}})
	h.track(EvtRoomClosed, "", "")
}

// HandleMessage applies one room message from a peer
func (h *Host) HandleMessage(peerID string, msg Message) {
	if _, ok := h.peers[peerID]; !ok {
		return
	}
	switch m := msg.(type) {
	case PlayerStateMsg:
		h.handlePlayerState(peerID, m)
	case HandTrackingMsg:
		if peerID == h.vrPeer {
			h.pendingHands = &m
			h.vrHands = &m
		}
	case HeadTrackingMsg:
		if peerID == h.vrPeer && isFiniteVec(m.Position.V()) && isFiniteQuat(m.Rotation.Q()) {
			h.vrHead = &m
		}
	case GrabRequestMsg:
		h.respondGrab(peerID, m, true)
	case VRGrabRequestMsg:
		h.respondGrab(peerID, m.GrabRequestMsg, peerID == h.vrPeer)
	case ObjectReleaseMsg:
		h.Release(peerID, m)
	case ObjectUpdateMsg:
		h.UpdateObject(peerID, m.ObjectID, m.Position.V(), m.Rotation.Q())
	case RecoveryCompleteMsg:
		if rec, ok := h.players[peerID]; ok && rec.SM.State() == StateRecovering {
			rec.Anim.Finish(ClipGetup)
		}
	}
}

func (h *Host) respondGrab(peerID string, m GrabRequestMsg, allowed bool) {
	granted := allowed && h.GrabRequest(peerID, m.ObjectID, m.HandIndex)
	h.send(peerID, Envelope{T: MsgGrabResponse, Data: GrabResponseMsg{
		ObjectID:  m.ObjectID,
		Granted:   granted,
		HandIndex: m.HandIndex,
	}})
}

func (h *Host) handlePlayerState(peerID string, m PlayerStateMsg) {
	rec, ok := h.players[peerID]
	if !ok || rec.SM.State() != StateWalking {
		return
	}
	pos, rot := m.Position.V(), m.Rotation.Q()
	if !isFiniteVec(pos) || !isFiniteQuat(rot) {
		h.log.Warnw("dropping non-finite player state", "peer", peerID)
		return
	}
	rec.Body.SetPosition(pos)
	rec.Body.SetRotation(rot)
}

// Step advances the room by dt seconds and broadcasts on broadcast ticks
func (h *Host) Step(dt float64) {
	if !(dt > 0) || !isFinite(dt) {
		return
	}
	h.tick++
	h.ingestHands(dt)
	h.world.Step(dt)

	for _, id := range h.peerOrder {
		rec, ok := h.players[id]
		if !ok {
			continue
		}
		rec.Anim.Advance(dt)
		rec.SM.Update(dt)
		if rec.SM.State() == StateRagdoll && outOfBounds(rec.Body.Position()) {
			h.log.Warnw("player fell out of the world", "player", rec.ID)
			rec.SM.ForceState(StateWalking)
			rec.Body.SetPosition(rec.spawn)
		}
	}
	for _, b := range h.blocks {
		b.Update(dt)
	}
	h.syncObjects()
	h.scheduler.Advance(dt)

	if every := h.cfg.Net.BroadcastEvery(); every > 0 && h.tick%uint64(every) == 0 {
		h.BroadcastState()
	}
}

func (h *Host) ingestHands(dt float64) {
	h.handElapsed += dt
	if h.pendingHands == nil {
		if h.handElapsed > h.cfg.Physics.Hand.TrackingTimeout {
			h.parkStaleHands()
		}
		return
	}
	frame := h.pendingHands
	h.pendingHands = nil
	elapsed := h.handElapsed
	h.handElapsed = 0
	for side, f := range map[Handedness]*HandFrame{HandLeft: frame.Left, HandRight: frame.Right} {
		var joints []*Vec3
		if f != nil {
			joints = f.Joints
		}
		h.hands[side].Update(joints, elapsed)
	}
}

// parkStaleHands drops hands whose tracking stream has stalled, so a frozen
// fingertip cannot keep striking with its last velocity. The gap spans many
// frames, so the last sample is forgotten too.
func (h *Host) parkStaleHands() {
	stalled := false
	for _, hand := range h.hands {
		if hand.IsActive() {
			stalled = true
			hand.Reset()
		}
	}
	if stalled {
		h.log.Debugw("hand tracking stalled", "elapsed", h.handElapsed)
		h.handElapsed = 0
	}
}

// syncObjects copies simulated transforms into the replicated objects
func (h *Host) syncObjects() {
	for id, b := range h.blocks {
		if obj, ok := h.objects.Get(id); ok && obj.Free() {
			obj.Position, obj.Rotation = b.Transform()
		}
	}
	for id, rec := range h.players {
		if obj, ok := h.objects.Get(PlayerBodyID(id)); ok {
			obj.Position = rec.Body.Position()
			obj.Rotation = rec.Body.Rotation()
		}
	}
}

// Snapshot collects everything replicated this tick
func (h *Host) Snapshot() Snapshot {
	s := Snapshot{
		Tick:      h.tick,
		Timestamp: h.now().UnixMilli(),
		VRHead:    h.vrHead,
		VRHands:   h.vrHands,
	}
	for _, id := range h.peerOrder {
		rec, ok := h.players[id]
		if !ok {
			continue
		}
		st := rec.Body.State()
		s.Players = append(s.Players, PlayerInfo{
			ID:       rec.ID,
			Name:     rec.Name,
			Role:     RolePC,
			Position: ToVec3(st.Position),
			Rotation: ToQuat(st.Rotation),
			State:    rec.SM.State(),
			HeldBy:   rec.HeldBy,
		})
		s.PlayerPhysics = append(s.PlayerPhysics, PlayerPhysicsInfo{
			ID:              rec.ID,
			State:           rec.SM.State(),
			Position:        ToVec3(st.Position),
			Rotation:        ToQuat(st.Rotation),
			Velocity:        ToVec3(st.Velocity),
			AngularVelocity: ToVec3(st.AngularVelocity),
		})
	}
	for _, obj := range h.objects.All() {
		if obj.Kind == KindPlayer {
			continue
		}
		s.Objects = append(s.Objects, ObjectInfo{
			ID:       obj.ID,
			Kind:     obj.Kind.String(),
			Position: ToVec3(obj.Position),
			Rotation: ToQuat(obj.Rotation),
			HeldBy:   obj.HeldBy,
		})
		if obj.Kind == KindCamera && obj.ID == CameraObjectID {
			s.Camera = &Transform{Position: ToVec3(obj.Position), Rotation: ToQuat(obj.Rotation)}
		}
	}
	return s
}

// BroadcastState encodes and sends a world state frame
func (h *Host) BroadcastState() {
	ws := h.encoder.Encode(h.Snapshot())
	data, err := EncodeWorldState(&ws)
	if err != nil {
		h.log.Errorw("encode world state", "error", err)
		return
	}
	if h.transport != nil {
		h.transport.BroadcastBinary(data)
	}
}

// Stats summarises the room
func (h *Host) Stats() HostStats {
	s := h.stats
	s.Tick = h.tick
	s.Peers = len(h.peers)
	s.Players = len(h.players)
	s.Objects = h.objects.Len()
	s.Bodies = h.world.BodyCount()
	s.VRConnected = h.vrPeer != ""
	s.Contacts = h.collisions.Counts()
	return s
}

func (h *Host) isPlayerHeld(playerID string) bool {
	rec, ok := h.players[playerID]
	return ok && rec.HeldBy != ""
}

func (h *Host) isBlockHeldByHand(blockID string, hand int) bool {
	obj, ok := h.objects.Get(blockID)
	return ok && h.vrPeer != "" && obj.HeldBy == h.vrPeer && obj.HandIndex == hand
}

// onPlayerRagdoll reacts to a strike reported by the collision handler
func (h *Host) onPlayerRagdoll(ev RagdollEvent) {
	rec, ok := h.players[ev.PlayerID]
	if !ok || rec.HeldBy != "" || !isFiniteVec(ev.Impulse) {
		return
	}
	switch rec.SM.State() {
	case StateWalking:
		v := ev.Velocity
		h.source = &ragdollSource{kind: ev.SourceType, id: ev.SourceID, velocity: &v}
		impulse := ev.Impulse
		rec.SM.TriggerRagdoll(&impulse, nil)
		h.source = nil
		body := rec.Body.Body()
		body.Velocity = ClampVelocity(body.Velocity, h.cfg.Physics.Safety.MaxLinearVelocity)
	case StateRagdoll:
		SafeApplyImpulse(rec.Body.Body(), ev.Impulse, zeroVec, h.cfg.Physics.Safety)
	}
}

func (h *Host) onStateChange(c StateChange) {
	rec, ok := h.players[c.PlayerID]
	if !ok {
		return
	}
	switch {
	case c.To == StateRagdoll:
		h.stats.Ragdolls++
		msg := RagdollTriggeredMsg{PlayerID: c.PlayerID}
		if c.Data.Impulse != nil {
			msg.Impulse = ToVec3(*c.Data.Impulse)
		}
		if h.source != nil {
			msg.SourceType = h.source.kind
			msg.SourceID = h.source.id
			if h.source.velocity != nil {
				v := ToVec3(*h.source.velocity)
				msg.Velocity = &v
			}
		}
		h.broadcast(Envelope{T: MsgRagdollTriggered, Data: msg})
		h.track(EvtRagdoll, c.PlayerID, msg.SourceType)
	case c.From == StateRagdoll && c.To == StateRecovering:
		h.broadcast(Envelope{T: MsgRagdollRecovery, Data: RagdollRecoveryMsg{
			PlayerID: c.PlayerID,
			Position: ToVec3(rec.Body.Position()),
		}})
		h.track(EvtRecovery, c.PlayerID, "")
	}
}

func (h *Host) send(peerID string, env Envelope) {
	if h.transport == nil {
		return
	}
	if err := h.transport.Send(peerID, env); err != nil {
		h.log.Debugw("send failed", "peer", peerID, "type", env.T, "error", err)
	}
}

func (h *Host) broadcast(env Envelope) {
	if h.transport != nil {
		h.transport.Broadcast(env)
	}
}

func (h *Host) track(evtType, peerID, data string) {
	if h.events != nil {
		h.events.Track(evtType, h.roomID, peerID, data)
	}
}

// outOfBounds reports whether a simulated avatar has left the play area
func outOfBounds(p mgl64.Vec3) bool {
	if !isFiniteVec(p) || p[1] < outOfBoundsY {
		return true
	}
	return p[0]*p[0]+p[2]*p[2] > playAreaRadius*playAreaRadius
}

func cooldownKey(bodyID string) string {
	return fmt.Sprintf("cooldown:%s", bodyID)
}
