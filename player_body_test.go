package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlayerBodyRenderSpace(t *testing.T) {
	w := newTestWorld()
	cfg := DefaultConfig().Physics.Player
	p := NewPlayerPhysicsBody(w, "p1", cfg)

	b, ok := w.Body(PlayerBodyID("p1"))
	require.True(t, ok)
	assert.Same(t, p.Body(), b)
	assert.InDelta(t, cfg.Height/2, b.Position[1], 1e-12, "capsule center sits above the feet")

	p.SetPosition(mgl64.Vec3{0.2, 0, -0.1})
	assert.Equal(t, mgl64.Vec3{0.2, 0, -0.1}, p.Position())
	assert.InDelta(t, 0.05, b.Position[1], 1e-12)
}

func TestPlayerBodyModeSwitch(t *testing.T) {
	w := newTestWorld()
	p := NewPlayerPhysicsBody(w, "p1", DefaultConfig().Physics.Player)
	assert.Equal(t, ModeKinematic, p.Mode())

	p.ApplyImpulse(mgl64.Vec3{1, 0, 0})
	assert.Zero(t, p.Speed(), "kinematic avatars ignore impulses")

	p.SetMode(ModeDynamic)
	assert.Equal(t, BodyDynamic, p.Body().Type)
	p.ApplyImpulse(mgl64.Vec3{0.5, 0, 0})
	assert.InDelta(t, 1, p.Velocity()[0], 1e-9)

	p.SetMode(ModeKinematic)
	assert.Equal(t, BodyKinematic, p.Body().Type)
	assert.Zero(t, p.Speed(), "going kinematic stops the body")
	assert.Equal(t, "kinematic", p.Mode().String())
}

func TestPlayerBodyHandCollision(t *testing.T) {
	w := newTestWorld()
	p := NewPlayerPhysicsBody(w, "p1", DefaultConfig().Physics.Player)
	require.True(t, p.HandCollisionEnabled())

	p.SetHandCollision(false)
	assert.False(t, p.HandCollisionEnabled())
	assert.Zero(t, p.Body().Mask&GroupHand)
	assert.NotZero(t, p.Body().Mask&GroupEnvironment)

	p.SetHandCollision(true)
	assert.NotZero(t, p.Body().Mask&GroupHand)
}

func TestPlayerBodyFallsToFloor(t *testing.T) {
	w := newTestWorld()
	p := NewPlayerPhysicsBody(w, "p1", DefaultConfig().Physics.Player)
	p.SetPosition(mgl64.Vec3{0, 0.2, 0})
	p.SetMode(ModeDynamic)

	stepFor(w, 2)
	assert.InDelta(t, 0, p.Position()[1], 0.03, "capsule comes to rest on the floor")
}

func TestPlayerBodyDispose(t *testing.T) {
	w := newTestWorld()
	p := NewPlayerPhysicsBody(w, "p1", DefaultConfig().Physics.Player)
	p.Dispose()
	_, ok := w.Body(PlayerBodyID("p1"))
	assert.False(t, ok)

	// A newer body under the same id survives the stale handle
	q := NewPlayerPhysicsBody(w, "p1", DefaultConfig().Physics.Player)
	p.Dispose()
	b, ok := w.Body(PlayerBodyID("p1"))
	require.True(t, ok)
	assert.Same(t, q.Body(), b)
}
