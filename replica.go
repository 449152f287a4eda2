package main

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	defaultRenderDelay    = 100 * time.Millisecond
	defaultMaxExtrapolate = 250 * time.Millisecond
	replicaBufferLen      = 32
)

type replicaSample struct {
	at  int64 // host ms
	pos mgl64.Vec3
	rot mgl64.Quat
}

// LocalPlayer is a client's own avatar as corrected by the host
type LocalPlayer struct {
	State    PlayerState
	HeldBy   string
	Position mgl64.Vec3
	Rotation mgl64.Quat
	// Authoritative is set while the host drives the avatar (held or
	// ragdolling) and local input must not move it.
	Authoritative bool
}

// Replica is a client's view of a room rebuilt from world states. Full
// states replace the view, deltas merge into it by id. Positions are
// buffered so they can be rendered slightly in the past and interpolated.
type Replica struct {
	mu sync.RWMutex

	selfID         string
	renderDelay    time.Duration
	maxExtrapolate time.Duration

	players map[string]PlayerInfo
	objects map[string]ObjectInfo
	physics map[string]PlayerPhysicsInfo
	buffers map[string][]replicaSample
	vrHead  *HeadTrackingMsg
	vrHands *HandTrackingMsg
	camera  *Transform

	offset     int64 // local ms - host ms, smallest seen
	haveOffset bool
	lastTick   uint64
	fullSeen   bool

	self    LocalPlayer
	held    map[string]int
	pending map[string]int
}

// NewReplica creates an empty replica for the peer selfID
func NewReplica(selfID string) *Replica {
	return &Replica{
		selfID:         selfID,
		renderDelay:    defaultRenderDelay,
		maxExtrapolate: defaultMaxExtrapolate,
		players:        make(map[string]PlayerInfo),
		objects:        make(map[string]ObjectInfo),
		physics:        make(map[string]PlayerPhysicsInfo),
		buffers:        make(map[string][]replicaSample),
		self:           LocalPlayer{State: StateWalking, Rotation: identityQuat},
		held:           make(map[string]int),
		pending:        make(map[string]int),
	}
}

// SetSelf changes which peer the replica treats as its own player
func (r *Replica) SetSelf(id string) {
	r.mu.Lock()
	r.selfID = id
	r.mu.Unlock()
}

// SetRenderDelay sets how far in the past Sample renders
func (r *Replica) SetRenderDelay(d time.Duration) {
	r.mu.Lock()
	r.renderDelay = d
	r.mu.Unlock()
}

// ApplyWorldState folds a world state received at recvAt into the view.
// Deltas older than the newest applied tick are ignored, as are deltas
// before the first full state.
func (r *Replica) ApplyWorldState(ws *WorldState, recvAt time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !ws.IsFullState && (!r.fullSeen || ws.Tick <= r.lastTick) {
		return false
	}
	r.lastTick = ws.Tick

	if sample := recvAt.UnixMilli() - ws.Timestamp; !r.haveOffset || sample < r.offset {
		r.offset = sample
		r.haveOffset = true
	}

	if ws.IsFullState {
		r.fullSeen = true
		live := make(map[string]bool, len(ws.Players)+len(ws.Objects))
		for _, p := range ws.Players {
			live[p.ID] = true
		}
		for _, o := range ws.Objects {
			live[o.ID] = true
		}
		for id := range r.buffers {
			if !live[id] {
				delete(r.buffers, id)
			}
		}
		r.players = make(map[string]PlayerInfo, len(ws.Players))
		r.objects = make(map[string]ObjectInfo, len(ws.Objects))
		r.physics = make(map[string]PlayerPhysicsInfo, len(ws.PlayerPhysics))
		r.camera = nil
	}

	for _, p := range ws.Players {
		r.players[p.ID] = p
		r.push(p.ID, ws.Timestamp, p.Position.V(), p.Rotation.Q())
		if p.ID == r.selfID {
			r.self.State = p.State
			r.self.HeldBy = p.HeldBy
		}
	}
	for _, o := range ws.Objects {
		r.objects[o.ID] = o
		r.push(o.ID, ws.Timestamp, o.Position.V(), o.Rotation.Q())
		if o.HeldBy != "" && o.HeldBy != r.selfID {
			delete(r.held, o.ID)
		}
	}
	for _, pp := range ws.PlayerPhysics {
		r.physics[pp.ID] = pp
		if pp.ID == r.selfID && pp.State != StateWalking {
			r.self.Position = pp.Position.V()
			r.self.Rotation = pp.Rotation.Q()
		}
	}
	r.self.Authoritative = r.self.State != StateWalking || r.self.HeldBy != ""

	if ws.VRHead != nil {
		r.vrHead = ws.VRHead
	}
	if ws.VRHands != nil {
		r.vrHands = ws.VRHands
	}
	if ws.CameraTransform != nil {
		r.camera = ws.CameraTransform
	}
	return true
}

func (r *Replica) push(id string, at int64, pos mgl64.Vec3, rot mgl64.Quat) {
	buf := r.buffers[id]
	if n := len(buf); n > 0 && buf[n-1].at >= at {
		buf[n-1] = replicaSample{at: at, pos: pos, rot: rot}
		r.buffers[id] = buf
		return
	}
	buf = append(buf, replicaSample{at: at, pos: pos, rot: rot})
	if len(buf) > replicaBufferLen {
		buf = buf[len(buf)-replicaBufferLen:]
	}
	r.buffers[id] = buf
}

// HostTime converts a local time to the host's clock
func (r *Replica) HostTime(local time.Time) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return local.UnixMilli() - r.offset
}

// Sample returns where entity id should be drawn at local time now:
// interpolated between buffered states renderDelay in the past, or
// extrapolated from the last two states for at most maxExtrapolate.
func (r *Replica) Sample(id string, now time.Time) (mgl64.Vec3, mgl64.Quat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	buf := r.buffers[id]
	if len(buf) == 0 {
		return mgl64.Vec3{}, identityQuat, false
	}
	at := now.UnixMilli() - r.offset - r.renderDelay.Milliseconds()

	first, last := buf[0], buf[len(buf)-1]
	if at <= first.at {
		return first.pos, first.rot, true
	}
	if at >= last.at {
		if len(buf) < 2 {
			return last.pos, last.rot, true
		}
		prev := buf[len(buf)-2]
		span := float64(last.at - prev.at)
		ahead := float64(at - last.at)
		if limit := float64(r.maxExtrapolate.Milliseconds()); ahead > limit {
			ahead = limit
		}
		vel := last.pos.Sub(prev.pos).Mul(1 / span)
		return last.pos.Add(vel.Mul(ahead)), last.rot, true
	}

	i := sort.Search(len(buf), func(i int) bool { return buf[i].at > at })
	a, b := buf[i-1], buf[i]
	t := float64(at-a.at) / float64(b.at-a.at)
	pos := a.pos.Add(b.pos.Sub(a.pos).Mul(t))
	rot := mgl64.QuatSlerp(a.rot, b.rot, t)
	return pos, rot, true
}

// Player returns the latest known state of a player
func (r *Replica) Player(id string) (PlayerInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	return p, ok
}

// Object returns the latest known state of an object
func (r *Replica) Object(id string) (ObjectInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[id]
	return o, ok
}

// FreeObjects returns the ids of unheld objects of kind, sorted
func (r *Replica) FreeObjects(kind ObjectKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, o := range r.objects {
		if o.HeldBy == "" && ParseObjectKind(o.Kind) == kind {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Counts returns the number of players and objects in view
func (r *Replica) Counts() (players, objects int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players), len(r.objects)
}

// Camera returns the last camera transform
func (r *Replica) Camera() (*Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.camera, r.camera != nil
}

// Self returns the client's own avatar state
func (r *Replica) Self() LocalPlayer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.self
}

// RequestGrab records an outstanding grab request
func (r *Replica) RequestGrab(objectID string, hand int) {
	r.mu.Lock()
	r.pending[objectID] = hand
	r.mu.Unlock()
}

// Release forgets a locally held object
func (r *Replica) Release(objectID string) {
	r.mu.Lock()
	delete(r.held, objectID)
	delete(r.pending, objectID)
	r.mu.Unlock()
}

// Holding reports whether the client holds objectID and with which hand
func (r *Replica) Holding(objectID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hand, ok := r.held[objectID]
	return hand, ok
}

// HandleEnvelope applies the host messages that correct local state. It
// reports whether the message was one it understands.
func (r *Replica) HandleEnvelope(env InEnvelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch env.T {
	case MsgGrabResponse:
		var m GrabResponseMsg
		if json.Unmarshal(env.D, &m) != nil {
			return false
		}
		delete(r.pending, m.ObjectID)
		if m.Granted {
			r.held[m.ObjectID] = m.HandIndex
		} else {
			delete(r.held, m.ObjectID)
		}
	case MsgPlayerPickup:
		var m PlayerPickupMsg
		if json.Unmarshal(env.D, &m) != nil || m.PlayerID != r.selfID {
			return false
		}
		r.self.State = StateHeld
		r.self.HeldBy = m.HolderID
		r.self.Authoritative = true
	case MsgPlayerPosition:
		var m PlayerPositionMsg
		if json.Unmarshal(env.D, &m) != nil || m.PlayerID != r.selfID {
			return false
		}
		r.self.Position = m.Position.V()
		r.self.Rotation = m.Rotation.Q()
	case MsgPlayerRelease:
		var m PlayerReleaseMsg
		if json.Unmarshal(env.D, &m) != nil || m.PlayerID != r.selfID {
			return false
		}
		r.self.HeldBy = ""
		if m.ThrowVelocity == nil {
			r.self.State = StateWalking
			r.self.Position[1] = 0
			r.self.Authoritative = false
		}
	case MsgRagdollTriggered:
		var m RagdollTriggeredMsg
		if json.Unmarshal(env.D, &m) != nil || m.PlayerID != r.selfID {
			return false
		}
		r.self.State = StateRagdoll
		r.self.HeldBy = ""
		r.self.Authoritative = true
	case MsgRagdollRecovery:
		var m RagdollRecoveryMsg
		if json.Unmarshal(env.D, &m) != nil || m.PlayerID != r.selfID {
			return false
		}
		r.self.State = StateRecovering
		r.self.Position = m.Position.V()
	case MsgPlayerLeave:
		var m PlayerLeaveMsg
		if json.Unmarshal(env.D, &m) != nil {
			return false
		}
		delete(r.players, m.PlayerID)
		delete(r.physics, m.PlayerID)
		delete(r.buffers, m.PlayerID)
	default:
		return false
	}
	return true
}
