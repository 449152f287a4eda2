package main

import "github.com/go-gl/mathgl/mgl64"

// BodyMode is whether an avatar is animation-driven or simulated
type BodyMode int

const (
	ModeKinematic BodyMode = iota
	ModeDynamic
)

func (m BodyMode) String() string {
	if m == ModeDynamic {
		return "dynamic"
	}
	return "kinematic"
}

// PhysicsState is a snapshot of a body's motion in render space
type PhysicsState struct {
	Position        mgl64.Vec3
	Rotation        mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3
}

// PlayerBodyID returns the physics id of a player's avatar
func PlayerBodyID(playerID string) string { return "player_" + playerID }

// PlayerPhysicsBody is the capsule standing in for a player's avatar.
// Positions in and out are feet positions; the capsule center sits half
// the avatar height above them.
type PlayerPhysicsBody struct {
	playerID string
	world    *PhysicsWorld
	body     *Body
	mode     BodyMode
	offset   float64
	handMask bool
}

// NewPlayerPhysicsBody registers a kinematic capsule for playerID
func NewPlayerPhysicsBody(world *PhysicsWorld, playerID string, cfg PlayerBodyConfig) *PlayerPhysicsBody {
	b := NewBody(BodyKinematic, cfg.Mass, CapsuleShape(cfg.Radius, cfg.Height))
	b.Material = MaterialPlayer
	b.Group = GroupPlayer
	b.Mask = GroupPlayer | GroupHand | GroupEnvironment
	b.LinearDamping = cfg.LinearDamping
	b.AngularDamping = cfg.AngularDamping
	p := &PlayerPhysicsBody{
		playerID: playerID,
		world:    world,
		body:     b,
		mode:     ModeKinematic,
		offset:   cfg.Height / 2,
		handMask: true,
	}
	b.Position = ToPhysicsSpace(zeroVec, p.offset)
	world.AddBody(PlayerBodyID(playerID), b)
	return p
}

// Body exposes the underlying rigid body
func (p *PlayerPhysicsBody) Body() *Body { return p.body }

// Mode returns the current body mode
func (p *PlayerPhysicsBody) Mode() BodyMode { return p.mode }

// SetMode switches between kinematic and dynamic. Repeating the current
// mode does nothing.
func (p *PlayerPhysicsBody) SetMode(m BodyMode) {
	if m == p.mode {
		return
	}
	p.mode = m
	if m == ModeDynamic {
		p.body.SetType(BodyDynamic)
		p.body.WakeUp()
		return
	}
	p.body.SetType(BodyKinematic)
	p.body.Velocity = zeroVec
	p.body.AngularVelocity = zeroVec
}

// SetPosition places the avatar's feet at pos
func (p *PlayerPhysicsBody) SetPosition(pos mgl64.Vec3) {
	p.body.Position = ToPhysicsSpace(pos, p.offset)
	p.body.WakeUp()
}

// Position returns the avatar's feet position
func (p *PlayerPhysicsBody) Position() mgl64.Vec3 {
	return ToRenderSpace(p.body.Position, p.offset)
}

// SetRotation orients the avatar
func (p *PlayerPhysicsBody) SetRotation(q mgl64.Quat) {
	p.body.Quaternion = q.Normalize()
}

// Rotation returns the avatar orientation
func (p *PlayerPhysicsBody) Rotation() mgl64.Quat { return p.body.Quaternion }

// ResetRotation stands the avatar upright
func (p *PlayerPhysicsBody) ResetRotation() {
	p.body.Quaternion = identityQuat
	p.body.AngularVelocity = zeroVec
}

// SetVelocity sets the linear velocity
func (p *PlayerPhysicsBody) SetVelocity(v mgl64.Vec3) {
	p.body.Velocity = v
	p.body.WakeUp()
}

// SetAngularVelocity sets the angular velocity
func (p *PlayerPhysicsBody) SetAngularVelocity(v mgl64.Vec3) {
	p.body.AngularVelocity = v
	p.body.WakeUp()
}

// ApplyImpulse pushes the avatar at its center. Ignored while kinematic.
func (p *PlayerPhysicsBody) ApplyImpulse(impulse mgl64.Vec3) {
	if p.mode != ModeDynamic {
		return
	}
	p.body.ApplyImpulse(impulse, zeroVec)
}

// Velocity returns the linear velocity
func (p *PlayerPhysicsBody) Velocity() mgl64.Vec3 { return p.body.Velocity }

// Speed returns the linear speed
func (p *PlayerPhysicsBody) Speed() float64 { return p.body.Speed() }

// Mass returns the avatar mass
func (p *PlayerPhysicsBody) Mass() float64 { return p.body.Mass() }

// SetHandCollision enables or disables contacts with hand colliders
func (p *PlayerPhysicsBody) SetHandCollision(enabled bool) {
	p.handMask = enabled
	if enabled {
		p.body.Mask |= GroupHand
	} else {
		p.body.Mask &^= GroupHand
	}
}

// HandCollisionEnabled reports whether hands currently collide with the avatar
func (p *PlayerPhysicsBody) HandCollisionEnabled() bool { return p.handMask }

// State returns position, rotation and velocities in render space
func (p *PlayerPhysicsBody) State() PhysicsState {
	return PhysicsState{
		Position:        p.Position(),
		Rotation:        p.body.Quaternion,
		Velocity:        p.body.Velocity,
		AngularVelocity: p.body.AngularVelocity,
	}
}

// Dispose removes the avatar from the world
func (p *PlayerPhysicsBody) Dispose() {
	id := PlayerBodyID(p.playerID)
	if b, ok := p.world.Body(id); ok && b == p.body {
		p.world.RemoveBody(id)
	}
}
