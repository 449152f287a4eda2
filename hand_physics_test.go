package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameDt = 1.0 / 60

func newTestHand(t *testing.T) (*PhysicsWorld, *HandPhysics) {
	t.Helper()
	w := newTestWorld()
	return w, NewHandPhysics(w, HandRight, DefaultConfig().Physics.Hand)
}

func TestParseHandBodyID(t *testing.T) {
	side, finger, ok := ParseHandBodyID(HandBodyID(HandLeft, "index"))
	require.True(t, ok)
	assert.Equal(t, HandLeft, side)
	assert.Equal(t, "index", finger)

	for _, id := range []string{"player_1", "hand_", "hand_left", "hand_middle_index", "hand_right_"} {
		_, _, ok := ParseHandBodyID(id)
		assert.False(t, ok, id)
	}
}

func TestHandPhysicsStartsParked(t *testing.T) {
	w, h := newTestHand(t)
	assert.False(t, h.IsActive())
	for _, ft := range fingertipJoints {
		b, ok := w.Body(HandBodyID(HandRight, ft.name))
		require.True(t, ok, ft.name)
		assert.Equal(t, BodyKinematic, b.Type)
		assert.Equal(t, -100.0, b.Position[1])

		_, tracked := h.Position(ft.name)
		assert.False(t, tracked)
	}
}

func TestHandPhysicsTracksJoints(t *testing.T) {
	_, h := newTestHand(t)
	center := mgl64.Vec3{0, 0.1, -0.3}
	frame := syntheticHand(center)

	h.Update(frame.Joints, frameDt)
	require.True(t, h.IsActive())

	pos, ok := h.Position("middle")
	require.True(t, ok)
	assert.Equal(t, frame.Joints[14].V(), pos)
	assert.Zero(t, h.Speed(""), "one sample has no velocity yet")
}

func TestHandPhysicsVelocity(t *testing.T) {
	_, h := newTestHand(t)
	center := mgl64.Vec3{0, 0.1, -0.3}
	h.Update(syntheticHand(center).Joints, frameDt)

	// 1 cm per frame along x is 0.6 m/s
	h.Update(syntheticHand(center.Add(mgl64.Vec3{0.01, 0, 0})).Joints, frameDt)
	v := h.Velocity("ring")
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0, v[1], 1e-9)
	assert.InDelta(t, 0.6, h.Speed(""), 1e-6, "empty finger picks the fastest tip")
	assert.InDelta(t, 0.6*h.VirtualMass(), h.ImpactForce("ring"), 1e-6)

	// Holding still decays the average but stays above the noise floor
	h.Update(syntheticHand(center.Add(mgl64.Vec3{0.01, 0, 0})).Joints, frameDt)
	assert.InDelta(t, 0.3, h.Velocity("ring")[0], 1e-6)
}

func TestHandPhysicsNoiseFloor(t *testing.T) {
	_, h := newTestHand(t)
	center := mgl64.Vec3{0, 0.1, -0.3}
	h.Update(syntheticHand(center).Joints, frameDt)
	// 0.1 mm per frame is 6 mm/s, under the floor
	h.Update(syntheticHand(center.Add(mgl64.Vec3{0.0001, 0, 0})).Joints, frameDt)
	assert.Zero(t, h.Speed(""))
}

func TestHandPhysicsLostTrackingParks(t *testing.T) {
	_, h := newTestHand(t)
	h.Update(syntheticHand(mgl64.Vec3{0, 0.1, 0}).Joints, frameDt)

	h.Update(nil, frameDt)
	assert.False(t, h.IsActive())
	_, ok := h.Position("index")
	assert.False(t, ok)
	assert.Zero(t, h.Speed(""))
}

func TestHandPhysicsUntrackedJoint(t *testing.T) {
	_, h := newTestHand(t)
	frame := syntheticHand(mgl64.Vec3{0, 0.1, 0})
	frame.Joints[24] = nil

	h.Update(frame.Joints, frameDt)
	_, ok := h.Position("pinky")
	assert.False(t, ok)
	_, ok = h.Position("ring")
	assert.True(t, ok)
}

func TestHandPhysicsPinchParksThumbAndIndex(t *testing.T) {
	_, h := newTestHand(t)
	frame := syntheticHand(mgl64.Vec3{0, 0.1, 0})
	tip := *frame.Joints[9]
	tip.X += 0.01
	frame.Joints[4] = &tip

	h.Update(frame.Joints, frameDt)
	_, ok := h.Position("thumb")
	assert.False(t, ok, "thumb parks while pinching")
	_, ok = h.Position("index")
	assert.False(t, ok)
	_, ok = h.Position("middle")
	assert.True(t, ok)
}

func TestHandPhysicsIgnoresBadDt(t *testing.T) {
	_, h := newTestHand(t)
	h.Update(syntheticHand(mgl64.Vec3{}).Joints, 0)
	assert.False(t, h.IsActive())
}

func TestHandPhysicsDispose(t *testing.T) {
	w, h := newTestHand(t)
	base := w.BodyCount()
	h.Dispose()
	assert.Equal(t, base-len(fingertipJoints), w.BodyCount())
	_, ok := w.Body(HandBodyID(HandRight, "thumb"))
	assert.False(t, ok)
}
