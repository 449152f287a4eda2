package main

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorld() *PhysicsWorld {
	return NewPhysicsWorld(DefaultConfig().Physics)
}

// stepFor advances w by total seconds in fixed steps
func stepFor(w *PhysicsWorld, total float64) {
	h := w.cfg.FixedTimeStep
	for t := 0.0; t < total; t += h {
		w.Step(h)
	}
}

func TestPhysicsWorldIgnoresInvalidDt(t *testing.T) {
	w := newTestWorld()
	for _, dt := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		w.Step(dt)
	}
	assert.Zero(t, w.Time())
}

func TestPhysicsWorldFixedStepAccumulator(t *testing.T) {
	w := newTestWorld()
	h := w.cfg.FixedTimeStep

	w.Step(h / 2)
	assert.Zero(t, w.Time(), "half a step does not simulate")
	w.Step(h / 2)
	assert.InDelta(t, h, w.Time(), 1e-9)

	// A long frame runs at most MaxSubSteps steps
	w.Step(1.0)
	assert.InDelta(t, h*float64(1+w.cfg.MaxSubSteps), w.Time(), 1e-9)
}

func TestPhysicsWorldSphereSettlesOnGround(t *testing.T) {
	w := newTestWorld()
	b := NewBody(BodyDynamic, 1, SphereShape(0.05))
	b.Position = mgl64.Vec3{0, 0.06, 0}
	w.AddBody("ball", b)

	stepFor(w, 2.5)
	assert.InDelta(t, 0.05, b.Position[1], 0.005)
	assert.True(t, b.Sleeping(), "resting body falls asleep")
}

func TestPhysicsWorldBeginContactOncePerPair(t *testing.T) {
	w := newTestWorld()
	a := NewBody(BodyKinematic, 0, SphereShape(0.05))
	b := NewBody(BodyKinematic, 0, SphereShape(0.05))
	b.Position = mgl64.Vec3{0.08, 0, 0}
	w.AddBody("a", a)
	w.AddBody("b", b)

	var events []ContactEvent
	w.OnBeginContact(func(ev ContactEvent) { events = append(events, ev) })

	h := w.cfg.FixedTimeStep
	w.Step(h)
	require.Len(t, events, 1, "kinematic pairs are detected")
	w.Step(h)
	assert.Len(t, events, 1, "still touching, no new event")

	b.Position = mgl64.Vec3{1, 0, 0}
	w.Step(h)
	b.Position = mgl64.Vec3{0.08, 0, 0}
	w.Step(h)
	assert.Len(t, events, 2, "separated and touching again")

	ev := events[0]
	assert.True(t, (ev.A == a && ev.B == b) || (ev.A == b && ev.B == a))
}

func TestPhysicsWorldGroupMaskFiltering(t *testing.T) {
	w := newTestWorld()
	a := NewBody(BodyKinematic, 0, SphereShape(0.05))
	b := NewBody(BodyKinematic, 0, SphereShape(0.05))
	for _, body := range []*Body{a, b} {
		body.Group = GroupHand
		body.Mask = GroupPlayer
	}
	w.AddBody("h1", a)
	w.AddBody("h2", b)

	fired := false
	w.OnBeginContact(func(ContactEvent) { fired = true })
	w.Step(w.cfg.FixedTimeStep)
	assert.False(t, fired, "hands do not collide with hands")
}

func TestPhysicsWorldKinematicPushesDynamic(t *testing.T) {
	w := newTestWorld()
	ball := NewBody(BodyDynamic, 0.5, SphereShape(0.05))
	ball.Position = mgl64.Vec3{0, 0.05, 0}
	pusher := NewBody(BodyKinematic, 0, SphereShape(0.05))
	pusher.Position = mgl64.Vec3{-0.09, 0.05, 0}
	pusher.Velocity = mgl64.Vec3{1, 0, 0}
	w.AddBody("ball", ball)
	w.AddBody("pusher", pusher)

	w.Step(w.cfg.FixedTimeStep)
	assert.Greater(t, ball.Velocity[0], 0.5)
	assert.InDelta(t, 1, pusher.Velocity[0], 1e-9, "kinematic bodies ignore contacts")
}

func TestPhysicsWorldAddReplaceRemove(t *testing.T) {
	w := newTestWorld()
	base := w.BodyCount()

	first := NewBody(BodyDynamic, 1, SphereShape(0.1))
	second := NewBody(BodyDynamic, 1, SphereShape(0.1))
	w.AddBody("x", first)
	w.AddBody("x", second)
	assert.Equal(t, base+1, w.BodyCount())

	got, ok := w.Body("x")
	require.True(t, ok)
	assert.Same(t, second, got)
	_, ok = w.BodyID(first)
	assert.False(t, ok, "replaced body is no longer registered")

	w.RemoveBody("x")
	assert.Equal(t, base, w.BodyCount())
	_, ok = w.BodyID(second)
	assert.False(t, ok)
	assert.Empty(t, second.ID())
}

func TestBodySetTypeAndImpulse(t *testing.T) {
	b := NewBody(BodyKinematic, 2, SphereShape(0.1))
	b.ApplyImpulse(mgl64.Vec3{1, 0, 0}, zeroVec)
	assert.Equal(t, zeroVec, b.Velocity, "kinematic bodies ignore impulses")
	assert.Equal(t, 2.0, b.Mass())

	b.SetType(BodyDynamic)
	b.ApplyImpulse(mgl64.Vec3{1, 0, 0}, zeroVec)
	assert.InDelta(t, 0.5, b.Velocity[0], 1e-9)

	// Off-centre impulses spin the body
	b.ApplyImpulse(mgl64.Vec3{0, 0, 1}, mgl64.Vec3{0.1, 0, 0})
	assert.NotZero(t, b.AngularVelocity.Len())
}

func TestShapeConstructors(t *testing.T) {
	c := CapsuleShape(0.025, 0.1)
	assert.InDelta(t, 0.025, c.HalfHeight, 1e-12)
	assert.InDelta(t, 0.05, c.boundingRadius(), 1e-12)

	box := BoxShape(0.05, 0.1, 0.05)
	assert.Equal(t, mgl64.Vec3{0.025, 0.05, 0.025}, box.HalfExtents)

	// A capsule shorter than its diameter degenerates to a sphere core
	assert.Zero(t, CapsuleShape(0.1, 0.1).HalfHeight)
}
