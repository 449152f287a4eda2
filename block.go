package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Block is a grabbable box that stands itself back up after it comes to
// rest tipped over.
type Block struct {
	id   string
	body *Body
	cfg  BlockConfig

	held       bool
	stableTime float64

	righting bool
	rightT   float64
	fromRot  mgl64.Quat
	toRot    mgl64.Quat
	fromY    float64
	restY    float64

	handCollide bool
}

// NewBlock adds a dynamic block resting on the ground at pos
func NewBlock(world *PhysicsWorld, id string, pos mgl64.Vec3, cfg BlockConfig) *Block {
	b := NewBody(BodyDynamic, cfg.Mass, BoxShape(cfg.Width, cfg.Height, cfg.Depth))
	b.Group = GroupPlayer
	b.Mask = GroupPlayer | GroupHand | GroupEnvironment
	b.LinearDamping = cfg.LinearDamping
	b.AngularDamping = cfg.AngularDamping
	restY := cfg.Height / 2
	b.Position = mgl64.Vec3{pos[0], math.Max(pos[1], 0) + restY, pos[2]}
	world.AddBody(id, b)
	return &Block{id: id, body: b, cfg: cfg, restY: restY, handCollide: true}
}

// ID returns the block id
func (b *Block) ID() string { return b.id }

// Body exposes the underlying rigid body
func (b *Block) Body() *Body { return b.body }

// Held reports whether a peer is holding the block
func (b *Block) Held() bool { return b.held }

// Righting reports whether the block is animating upright
func (b *Block) Righting() bool { return b.righting }

// SetHeld switches the block between held (kinematic) and free (dynamic)
func (b *Block) SetHeld(held bool) {
	if held == b.held {
		return
	}
	b.held = held
	b.righting = false
	b.stableTime = 0
	if held {
		b.body.SetType(BodyKinematic)
		b.body.Velocity = zeroVec
		b.body.AngularVelocity = zeroVec
		return
	}
	b.body.SetType(BodyDynamic)
	b.body.WakeUp()
}

// SetTransform moves the block; used while it is held
func (b *Block) SetTransform(pos mgl64.Vec3, rot mgl64.Quat) {
	b.body.Position = pos
	b.body.Quaternion = rot.Normalize()
}

// Transform returns the block's center position and rotation
func (b *Block) Transform() (mgl64.Vec3, mgl64.Quat) {
	return b.body.Position, b.body.Quaternion
}

// SetHandCollision enables or disables contacts with hand colliders
func (b *Block) SetHandCollision(enabled bool) {
	b.handCollide = enabled
	if enabled {
		b.body.Mask |= GroupHand
	} else {
		b.body.Mask &^= GroupHand
	}
}

// HandCollisionEnabled reports whether hands currently collide with the block
func (b *Block) HandCollisionEnabled() bool { return b.handCollide }

// Update runs the self-righting check and animation
func (b *Block) Update(dt float64) {
	if b.held {
		return
	}
	if b.righting {
		b.stepRighting(dt)
		return
	}
	motion := b.body.Velocity.Len() + b.body.AngularVelocity.Len()
	if motion >= b.cfg.StableThreshold {
		b.stableTime = 0
		return
	}
	b.stableTime += dt
	if b.stableTime < b.cfg.StableTimeRequired {
		return
	}
	if tiltAngle(b.body.Quaternion) > mgl64.DegToRad(b.cfg.TiltThresholdDeg) {
		b.startRighting()
	}
}

func (b *Block) startRighting() {
	b.righting = true
	b.rightT = 0
	b.fromRot = b.body.Quaternion
	b.toRot = uprightKeepingYaw(b.body.Quaternion)
	b.fromY = b.body.Position[1]
	b.body.SetType(BodyKinematic)
	b.body.Velocity = zeroVec
	b.body.AngularVelocity = zeroVec
}

func (b *Block) stepRighting(dt float64) {
	if b.cfg.RightingDuration > 0 {
		b.rightT += dt / b.cfg.RightingDuration
	} else {
		b.rightT = 1
	}
	t := math.Min(b.rightT, 1)
	b.body.Quaternion = mgl64.QuatSlerp(b.fromRot, b.toRot, t)
	b.body.Position[1] = b.fromY + (b.restY-b.fromY)*t
	if t >= 1 {
		b.righting = false
		b.stableTime = 0
		b.body.SetType(BodyDynamic)
		b.body.WakeUp()
	}
}
