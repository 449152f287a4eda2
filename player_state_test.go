package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBody records what the state machine does to the avatar
type fakeBody struct {
	mode     BodyMode
	speed    float64
	pos      mgl64.Vec3
	velocity mgl64.Vec3
	impulses []mgl64.Vec3
	resets   int
}

func (b *fakeBody) SetMode(m BodyMode) { b.mode = m }
func (b *fakeBody) ApplyImpulse(i mgl64.Vec3) { b.impulses = append(b.impulses, i) }
func (b *fakeBody) SetVelocity(v mgl64.Vec3) { b.velocity = v }
func (b *fakeBody) Speed() float64 { return b.speed }
func (b *fakeBody) Position() mgl64.Vec3 { return b.pos }
func (b *fakeBody) SetPosition(p mgl64.Vec3) { b.pos = p }
func (b *fakeBody) ResetRotation() { b.resets++ }

func newTestMachine() (*PlayerStateMachine, *fakeBody, *TimedAnimator) {
	body := &fakeBody{}
	anim := NewTimedAnimator(map[string]float64{ClipGetup: 1.0})
	return NewPlayerStateMachine("p1", body, anim, DefaultConfig().Physics, nil), body, anim
}

func TestPlayerStateTransitionTable(t *testing.T) {
	m, _, _ := newTestMachine()
	assert.Equal(t, StateWalking, m.State())

	assert.False(t, m.Transition(StateRecovering, RagdollData{}), "walking cannot recover")
	assert.Equal(t, StateWalking, m.State())

	require.True(t, m.TriggerHeld())
	assert.False(t, m.TriggerHeld(), "already held")
	require.True(t, m.TriggerRagdoll(nil, nil))
	assert.False(t, m.Transition(StateWalking, RagdollData{}), "ragdoll only leaves through recovering")
	assert.False(t, m.TriggerHeld())
}

func TestPlayerStateRagdollAppliesMotion(t *testing.T) {
	m, body, _ := newTestMachine()
	impulse := mgl64.Vec3{0.3, 0.1, 0}
	vel := mgl64.Vec3{0, 0, 2}

	var changes []StateChange
	m.OnStateChange(func(c StateChange) { changes = append(changes, c) })

	require.True(t, m.TriggerRagdoll(&impulse, &vel))
	assert.Equal(t, ModeDynamic, body.mode)
	assert.Equal(t, vel, body.velocity)
	assert.Equal(t, []mgl64.Vec3{impulse}, body.impulses)
	assert.Equal(t, impulse, m.RagdollImpulse())

	require.Len(t, changes, 1)
	assert.Equal(t, StateWalking, changes[0].From)
	assert.Equal(t, StateRagdoll, changes[0].To)
	assert.Equal(t, "p1", changes[0].PlayerID)
}

func TestPlayerStateRecoveryNeedsStillFrames(t *testing.T) {
	m, body, _ := newTestMachine()
	require.True(t, m.TriggerRagdoll(nil, nil))

	// Past the minimum time while still tumbling
	body.speed = 1
	m.Update(0.75)
	body.speed = 0

	// 29 slow frames is one short of the debounce
	for i := 0; i < 29; i++ {
		m.Update(0.02)
	}
	assert.Equal(t, StateRagdoll, m.State())

	// A burst of motion restarts the count
	body.speed = 1
	m.Update(0.02)
	body.speed = 0
	for i := 0; i < 29; i++ {
		m.Update(0.02)
	}
	assert.Equal(t, StateRagdoll, m.State())

	m.Update(0.02)
	assert.Equal(t, StateRecovering, m.State())
}

func TestPlayerStateRecoveryNeedsMinimumTime(t *testing.T) {
	m, _, _ := newTestMachine()
	require.True(t, m.TriggerRagdoll(nil, nil))

	// A still body: the first 7 frames of 1/16s fall inside the 0.5s
	// minimum and are not counted, the 8th is the first slow frame
	const dt = 0.0625
	for i := 0; i < 36; i++ {
		m.Update(dt)
	}
	assert.Equal(t, StateRagdoll, m.State(), "29 counted frames so far")

	m.Update(dt)
	assert.Equal(t, StateRecovering, m.State())
}

func TestPlayerStateRagdollOnlyFromWalkingOrHeld(t *testing.T) {
	m, body, _ := newTestMachine()
	require.True(t, m.TriggerRagdoll(nil, nil))
	assert.False(t, m.TriggerRagdoll(nil, nil), "already ragdolled")

	require.True(t, m.Transition(StateRecovering, RagdollData{}))
	impulse := mgl64.Vec3{1, 0, 0}
	assert.False(t, m.TriggerRagdoll(&impulse, nil), "getting up cannot be knocked over")
	assert.Equal(t, StateRecovering, m.State())
	assert.Equal(t, ModeKinematic, body.mode)
	assert.Empty(t, body.impulses)
}

func TestPlayerStateRecoveringStandsUpAndWalks(t *testing.T) {
	m, body, anim := newTestMachine()
	require.True(t, m.TriggerRagdoll(nil, nil))
	body.pos = mgl64.Vec3{0.1, 0.3, -0.2}
	require.True(t, m.Transition(StateRecovering, RagdollData{}))

	assert.Equal(t, ModeKinematic, body.mode)
	assert.Equal(t, mgl64.Vec3{0.1, 0, -0.2}, body.pos, "placed back on the floor")
	assert.Equal(t, 1, body.resets)
	assert.Equal(t, ClipGetup, anim.Current())
	assert.Zero(t, m.RagdollImpulse(), "impulse cleared on leaving ragdoll")

	m.Update(0.5)
	assert.Equal(t, StateRecovering, m.State(), "getup still playing")

	anim.Advance(1.0)
	m.Update(0.02)
	assert.Equal(t, StateWalking, m.State())
	assert.Equal(t, ClipIdle, anim.Current())
}

func TestPlayerStateClientFinishedGetup(t *testing.T) {
	m, _, anim := newTestMachine()
	require.True(t, m.TriggerRagdoll(nil, nil))
	require.True(t, m.Transition(StateRecovering, RagdollData{}))

	anim.Finish(ClipGetup)
	m.Update(0.02)
	assert.Equal(t, StateWalking, m.State())
}

func TestPlayerStateRelease(t *testing.T) {
	t.Run("not held", func(t *testing.T) {
		m, _, _ := newTestMachine()
		assert.False(t, m.TriggerRelease(nil))
		assert.Equal(t, StateWalking, m.State())
	})

	t.Run("gentle release walks", func(t *testing.T) {
		m, body, _ := newTestMachine()
		require.True(t, m.TriggerHeld())
		throw := mgl64.Vec3{0, 0, 0.1}
		require.True(t, m.TriggerRelease(&throw))
		assert.Equal(t, StateWalking, m.State())
		assert.Empty(t, body.impulses)
	})

	t.Run("hard throw ragdolls", func(t *testing.T) {
		m, body, _ := newTestMachine()
		require.True(t, m.TriggerHeld())
		throw := mgl64.Vec3{0, 0, 1}
		require.True(t, m.TriggerRelease(&throw))
		assert.Equal(t, StateRagdoll, m.State())
		require.Len(t, body.impulses, 1)
		// 0.5kg * 0.8 forward, plus 30% of that upward
		assert.InDelta(t, 0.4, body.impulses[0][2], 1e-9)
		assert.InDelta(t, 0.12, body.impulses[0][1], 1e-9)
	})
}

func TestPlayerStateForceState(t *testing.T) {
	m, body, _ := newTestMachine()
	require.True(t, m.TriggerRagdoll(nil, nil))
	m.ForceState(StateWalking)
	assert.Equal(t, StateWalking, m.State())
	assert.Equal(t, ModeKinematic, body.mode)
}
