package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collisionFixture struct {
	world   *PhysicsWorld
	hand    *HandPhysics
	handler *CollisionHandler
	events  []RagdollEvent
	held    map[string]bool
}

func newCollisionFixture(t *testing.T) *collisionFixture {
	t.Helper()
	cfg := DefaultConfig().Physics
	f := &collisionFixture{world: NewPhysicsWorld(cfg), held: make(map[string]bool)}
	f.hand = NewHandPhysics(f.world, HandRight, cfg.Hand)
	f.handler = NewCollisionHandler(f.world, cfg, CollisionHooks{
		IsPlayerHeld:      func(id string) bool { return f.held[id] },
		IsBlockHeldByHand: func(id string, hand int) bool { return f.held[id] && hand == 1 },
		OnPlayerRagdoll:   func(ev RagdollEvent) { f.events = append(f.events, ev) },
	}, nil)
	f.handler.SetHand(f.hand)
	return f
}

// swing gives the right hand a velocity of 0.6 m/s along x
func (f *collisionFixture) swing() {
	center := mgl64.Vec3{0, 0.1, 0}
	f.hand.Update(syntheticHand(center).Joints, frameDt)
	f.hand.Update(syntheticHand(center.Add(mgl64.Vec3{0.01, 0, 0})).Joints, frameDt)
}

func (f *collisionFixture) body(t *testing.T, id string) *Body {
	t.Helper()
	b, ok := f.world.Body(id)
	require.True(t, ok, id)
	return b
}

func TestClassifyBodyID(t *testing.T) {
	assert.Equal(t, kindHand, classifyBodyID("hand_left_thumb"))
	assert.Equal(t, kindUnknown, classifyBodyID("hand_up_thumb"))
	assert.Equal(t, kindPlayer, classifyBodyID("player_abc"))
	assert.Equal(t, kindBlock, classifyBodyID("block_test1"))
	assert.Equal(t, kindUnknown, classifyBodyID(floorBodyID))
}

func TestCollisionHandPlayerRagdoll(t *testing.T) {
	f := newCollisionFixture(t)
	NewPlayerPhysicsBody(f.world, "p1", DefaultConfig().Physics.Player)
	f.swing()

	handBody := f.body(t, HandBodyID(HandRight, "index"))
	f.handler.HandleContact(ContactEvent{A: f.body(t, PlayerBodyID("p1")), B: handBody})

	require.Len(t, f.events, 1)
	ev := f.events[0]
	assert.Equal(t, "p1", ev.PlayerID)
	assert.Equal(t, SourceHand, ev.SourceType)
	assert.Equal(t, HandBodyID(HandRight, "index"), ev.SourceID)
	// 0.6 m/s * 5kg virtual mass * 0.8, plus 30% upward
	assert.InDelta(t, 2.4, ev.Impulse[0], 1e-6)
	assert.InDelta(t, 0.72, ev.Impulse[1], 1e-6)
	assert.Equal(t, 1, f.handler.Counts()["hand_player"])
}

func TestCollisionSlowHandDoesNothing(t *testing.T) {
	f := newCollisionFixture(t)
	NewPlayerPhysicsBody(f.world, "p1", DefaultConfig().Physics.Player)
	center := mgl64.Vec3{0, 0.1, 0}
	f.hand.Update(syntheticHand(center).Joints, frameDt)
	f.hand.Update(syntheticHand(center.Add(mgl64.Vec3{0.001, 0, 0})).Joints, frameDt)

	f.handler.HandleContact(ContactEvent{
		A: f.body(t, HandBodyID(HandRight, "middle")),
		B: f.body(t, PlayerBodyID("p1")),
	})
	assert.Empty(t, f.events)
}

func TestCollisionHeldPlayerIgnoresHands(t *testing.T) {
	f := newCollisionFixture(t)
	NewPlayerPhysicsBody(f.world, "p1", DefaultConfig().Physics.Player)
	f.held["p1"] = true
	f.swing()

	f.handler.HandleContact(ContactEvent{
		A: f.body(t, HandBodyID(HandRight, "index")),
		B: f.body(t, PlayerBodyID("p1")),
	})
	assert.Empty(t, f.events)
}

func TestCollisionHandPushesBlock(t *testing.T) {
	f := newCollisionFixture(t)
	block := NewBlock(f.world, "block_a", mgl64.Vec3{}, DefaultConfig().Physics.Block)
	f.swing()

	f.handler.HandleContact(ContactEvent{A: f.body(t, HandBodyID(HandRight, "ring")), B: block.Body()})
	// 0.6 m/s * 5kg virtual mass * 0.8 over the 0.2kg block
	assert.InDelta(t, 12, block.Body().Velocity[0], 1e-6)
	assert.NotZero(t, block.Body().AngularVelocity.Len(), "off-centre strike spins the block")
	assert.Equal(t, 1, f.handler.Counts()["hand_block"])
}

func TestCollisionHoldingHandDoesNotPushBlock(t *testing.T) {
	f := newCollisionFixture(t)
	block := NewBlock(f.world, "block_a", mgl64.Vec3{}, DefaultConfig().Physics.Block)
	f.held["block_a"] = true
	f.swing()

	f.handler.HandleContact(ContactEvent{A: f.body(t, HandBodyID(HandRight, "ring")), B: block.Body()})
	assert.Zero(t, block.Body().Speed())
}

func TestCollisionPlayerKnocksPlayer(t *testing.T) {
	f := newCollisionFixture(t)
	cfg := DefaultConfig().Physics.Player
	a := NewPlayerPhysicsBody(f.world, "a", cfg)
	b := NewPlayerPhysicsBody(f.world, "b", cfg)
	a.SetMode(ModeDynamic)
	a.SetVelocity(mgl64.Vec3{4, 0, 0})

	f.handler.HandleContact(ContactEvent{A: a.Body(), B: b.Body()})

	require.Len(t, f.events, 1, "only the fast player knocks the other over")
	ev := f.events[0]
	assert.Equal(t, "b", ev.PlayerID)
	assert.Equal(t, SourcePlayer, ev.SourceType)
	assert.Equal(t, "a", ev.SourceID)
	assert.InDelta(t, 1.6, ev.Impulse[0], 1e-9)
	assert.InDelta(t, 0.24, ev.Impulse[1], 1e-9)
}

func TestCollisionHeldPlayerKnocksNobody(t *testing.T) {
	for _, held := range []string{"a", "b"} {
		t.Run(held, func(t *testing.T) {
			f := newCollisionFixture(t)
			cfg := DefaultConfig().Physics.Player
			a := NewPlayerPhysicsBody(f.world, "a", cfg)
			b := NewPlayerPhysicsBody(f.world, "b", cfg)
			a.SetMode(ModeDynamic)
			a.SetVelocity(mgl64.Vec3{4, 0, 0})
			b.SetMode(ModeDynamic)
			b.SetVelocity(mgl64.Vec3{-4, 0, 0})
			f.held[held] = true

			f.handler.HandleContact(ContactEvent{A: a.Body(), B: b.Body()})
			assert.Empty(t, f.events)
			assert.Zero(t, f.handler.Counts()["player_player"])
		})
	}
}

func TestCollisionUnregisteredBodies(t *testing.T) {
	f := newCollisionFixture(t)
	stray := NewBody(BodyDynamic, 1, SphereShape(0.1))
	f.handler.HandleContact(ContactEvent{A: stray, B: stray})
	assert.Empty(t, f.events)
	assert.Empty(t, f.handler.Counts())
}
