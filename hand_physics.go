package main

import (
	"fmt"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Handedness selects the left or right hand
type Handedness string

const (
	HandLeft  Handedness = "left"
	HandRight Handedness = "right"
)

// handIndex maps a hand to the index used in grab requests (0 left, 1 right)
func (h Handedness) index() int {
	if h == HandRight {
		return 1
	}
	return 0
}

// JointCount is the number of joints in a tracked hand frame
const JointCount = 25

var fingertipJoints = []struct {
	name  string
	joint int
}{
	{"thumb", 4},
	{"index", 9},
	{"middle", 14},
	{"ring", 19},
	{"pinky", 24},
}

// HandBodyID returns the physics id of a fingertip collider
func HandBodyID(side Handedness, finger string) string {
	return fmt.Sprintf("hand_%s_%s", side, finger)
}

// ParseHandBodyID splits a hand_<side>_<finger> id
func ParseHandBodyID(id string) (Handedness, string, bool) {
	rest, ok := strings.CutPrefix(id, "hand_")
	if !ok {
		return "", "", false
	}
	side, finger, ok := strings.Cut(rest, "_")
	if !ok || finger == "" {
		return "", "", false
	}
	switch Handedness(side) {
	case HandLeft, HandRight:
		return Handedness(side), finger, true
	}
	return "", "", false
}

type fingertip struct {
	name     string
	joint    int
	body     *Body
	prev     mgl64.Vec3
	hasPrev  bool
	elapsed  float64 // time since prev was sampled
	history  []mgl64.Vec3
	velocity mgl64.Vec3
	parked   bool
}

// HandPhysics mirrors one tracked hand into the world as kinematic
// fingertip spheres and derives per-fingertip velocities.
type HandPhysics struct {
	side         Handedness
	world        *PhysicsWorld
	cfg          HandConfig
	tips         []*fingertip
	active       bool
	missedFrames int
}

// NewHandPhysics registers the fingertip colliders of one hand, parked
// until tracking arrives.
func NewHandPhysics(world *PhysicsWorld, side Handedness, cfg HandConfig) *HandPhysics {
	h := &HandPhysics{side: side, world: world, cfg: cfg}
	for _, ft := range fingertipJoints {
		b := NewBody(BodyKinematic, 0, SphereShape(cfg.FingertipRadius))
		b.Material = MaterialHand
		b.Group = GroupHand
		b.Mask = GroupPlayer
		tip := &fingertip{name: ft.name, joint: ft.joint, body: b}
		world.AddBody(HandBodyID(side, ft.name), b)
		h.tips = append(h.tips, tip)
		h.park(tip)
	}
	return h
}

// Side returns which hand this is
func (h *HandPhysics) Side() Handedness { return h.side }

// IsActive reports whether the last update carried tracking data
func (h *HandPhysics) IsActive() bool { return h.active }

// VirtualMass is the mass hands are treated as having when they strike
func (h *HandPhysics) VirtualMass() float64 { return h.cfg.VirtualMass }

func (h *HandPhysics) parkPosition() mgl64.Vec3 {
	return mgl64.Vec3{0, h.cfg.ParkY, 0}
}

func (h *HandPhysics) park(tip *fingertip) {
	tip.body.Position = h.parkPosition()
	tip.body.Velocity = zeroVec
	tip.velocity = zeroVec
	tip.history = tip.history[:0]
	tip.parked = true
}

// Update moves the fingertip colliders to the tracked joints. joints holds
// at least JointCount samples; a nil slice means tracking is lost and a nil
// entry means that joint is not tracked.
func (h *HandPhysics) Update(joints []*Vec3, dt float64) {
	if !(dt > 0) || !isFinite(dt) {
		return
	}
	if len(joints) < JointCount {
		h.lose(dt)
		return
	}
	h.active = true
	h.missedFrames = 0

	pinching := h.nearPinch(joints)
	for _, tip := range h.tips {
		j := joints[tip.joint]
		if j == nil || !isFiniteVec(j.V()) {
			tip.hasPrev = false
			h.park(tip)
			continue
		}
		pos := j.V()
		if pinching && (tip.name == "thumb" || tip.name == "index") {
			// Keep the previous sample so velocity resumes cleanly
			h.park(tip)
			tip.prev = pos
			tip.hasPrev = true
			tip.elapsed = 0
			continue
		}
		h.track(tip, pos, dt)
	}
}

func (h *HandPhysics) track(tip *fingertip, pos mgl64.Vec3, dt float64) {
	tip.elapsed += dt
	if tip.hasPrev && tip.elapsed > 0 {
		tip.history = append(tip.history, pos.Sub(tip.prev).Mul(1/tip.elapsed))
		if n := h.cfg.VelocityHistoryLength; len(tip.history) > n {
			tip.history = tip.history[len(tip.history)-n:]
		}
	}
	tip.velocity = zeroVec
	if len(tip.history) > 0 {
		var sum mgl64.Vec3
		for _, v := range tip.history {
			sum = sum.Add(v)
		}
		if avg := sum.Mul(1 / float64(len(tip.history))); avg.Len() >= h.cfg.NoiseFloor {
			tip.velocity = avg
		}
	}
	tip.prev = pos
	tip.hasPrev = true
	tip.elapsed = 0
	tip.parked = false
	tip.body.Position = pos
}

// lose parks every fingertip. One dropped frame keeps the previous sample
// so velocity resumes against it; longer gaps start over.
func (h *HandPhysics) lose(dt float64) {
	h.active = false
	h.missedFrames++
	for _, tip := range h.tips {
		h.park(tip)
		tip.elapsed += dt
		if h.missedFrames > 1 {
			tip.hasPrev = false
		}
	}
}

func (h *HandPhysics) nearPinch(joints []*Vec3) bool {
	thumb, index := joints[fingertipJoints[0].joint], joints[fingertipJoints[1].joint]
	if thumb == nil || index == nil {
		return false
	}
	return thumb.V().Sub(index.V()).Len() < h.cfg.PinchDistance
}

func (h *HandPhysics) tip(finger string) *fingertip {
	for _, t := range h.tips {
		if t.name == finger {
			return t
		}
	}
	return nil
}

// Velocity returns the smoothed velocity of a fingertip. An empty or
// unknown finger returns the fastest fingertip's velocity.
func (h *HandPhysics) Velocity(finger string) mgl64.Vec3 {
	if t := h.tip(finger); t != nil {
		return t.velocity
	}
	best := zeroVec
	for _, t := range h.tips {
		if t.velocity.LenSqr() > best.LenSqr() {
			best = t.velocity
		}
	}
	return best
}

// Speed returns the magnitude of Velocity(finger)
func (h *HandPhysics) Speed(finger string) float64 {
	return h.Velocity(finger).Len()
}

// ImpactForce is the fingertip speed scaled by the hand's virtual mass
func (h *HandPhysics) ImpactForce(finger string) float64 {
	return h.Speed(finger) * h.cfg.VirtualMass
}

// Position returns the current collider position of a fingertip
func (h *HandPhysics) Position(finger string) (mgl64.Vec3, bool) {
	t := h.tip(finger)
	if t == nil || t.parked {
		return zeroVec, false
	}
	return t.body.Position, true
}

// Reset parks the hand and forgets its history
func (h *HandPhysics) Reset() {
	h.active = false
	h.missedFrames = 0
	for _, t := range h.tips {
		t.hasPrev = false
		t.elapsed = 0
		h.park(t)
	}
}

// Dispose removes the fingertip colliders from the world
func (h *HandPhysics) Dispose() {
	for _, t := range h.tips {
		h.world.RemoveBody(HandBodyID(h.side, t.name))
	}
	h.tips = nil
}
