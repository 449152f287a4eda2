package main

import "github.com/go-gl/mathgl/mgl64"

// EncodeStrategy picks how world states are built
type EncodeStrategy int

const (
	EncodeDelta EncodeStrategy = iota // changed entities, full state periodically
	EncodeFull                        // every entity every time
)

// Snapshot is everything the host could replicate on one broadcast tick
type Snapshot struct {
	Tick          uint64
	Timestamp     int64
	Players       []PlayerInfo
	Objects       []ObjectInfo
	PlayerPhysics []PlayerPhysicsInfo
	VRHead        *HeadTrackingMsg
	VRHands       *HandTrackingMsg
	Camera        *Transform
}

type sentEntry struct {
	pos    mgl64.Vec3
	state  PlayerState
	heldBy string
}

// SnapshotEncoder turns host snapshots into world states. It only reads
// the snapshot and remembers what it last sent.
type SnapshotEncoder struct {
	strategy  EncodeStrategy
	fullEvery int
	threshold float64

	sent      map[string]sentEntry
	sinceFull int
	forceFull bool
}

// NewSnapshotEncoder creates an encoder; the first world state is full
func NewSnapshotEncoder(cfg NetConfig, strategy EncodeStrategy) *SnapshotEncoder {
	return &SnapshotEncoder{
		strategy:  strategy,
		fullEvery: cfg.FullStateEvery,
		threshold: cfg.MovementThreshold,
		sent:      make(map[string]sentEntry),
		forceFull: true,
	}
}

// ForceFull makes the next world state a full one
func (e *SnapshotEncoder) ForceFull() { e.forceFull = true }

// Encode builds the world state for s
func (e *SnapshotEncoder) Encode(s Snapshot) WorldState {
	e.sinceFull++
	full := e.strategy == EncodeFull || e.forceFull || e.sinceFull >= e.fullEvery
	if full {
		e.sinceFull = 0
		e.forceFull = false
		e.sent = make(map[string]sentEntry, len(e.sent))
	}

	ws := WorldState{
		Timestamp:     s.Timestamp,
		Tick:          s.Tick,
		Players:       make([]PlayerInfo, 0, len(s.Players)),
		Objects:       make([]ObjectInfo, 0, len(s.Objects)),
		PlayerPhysics: make([]PlayerPhysicsInfo, 0, len(s.PlayerPhysics)),
		VRHead:        s.VRHead,
		VRHands:       s.VRHands,
		IsFullState:   full,
	}
	for _, p := range s.Players {
		if e.include(full, "p:"+p.ID, sentEntry{p.Position.V(), p.State, p.HeldBy}) {
			ws.Players = append(ws.Players, p)
		}
	}
	for _, o := range s.Objects {
		if e.include(full, "o:"+o.ID, sentEntry{pos: o.Position.V(), heldBy: o.HeldBy}) {
			ws.Objects = append(ws.Objects, o)
		}
	}
	for _, pp := range s.PlayerPhysics {
		if e.include(full, "pp:"+pp.ID, sentEntry{pos: pp.Position.V(), state: pp.State}) {
			ws.PlayerPhysics = append(ws.PlayerPhysics, pp)
		}
	}
	if s.Camera != nil && e.include(full, "camera", sentEntry{pos: s.Camera.Position.V()}) {
		ws.CameraTransform = s.Camera
	}
	return ws
}

// include decides whether an entity goes out and, if so, records it as sent.
// Held entities always go out since their holder moves them continuously.
func (e *SnapshotEncoder) include(full bool, key string, cur sentEntry) bool {
	prev, seen := e.sent[key]
	send := full || !seen || cur.heldBy != "" ||
		prev.state != cur.state || prev.heldBy != cur.heldBy ||
		prev.pos.Sub(cur.pos).Len() > e.threshold
	if send {
		e.sent[key] = cur
	}
	return send
}
