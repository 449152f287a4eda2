package main

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bodyAt(shape Shape, pos mgl64.Vec3) *Body {
	b := NewBody(BodyDynamic, 1, shape)
	b.Position = pos
	return b
}

func TestCheckSphereOverlap(t *testing.T) {
	// Overlapping spheres
	if !CheckSphereOverlap(mgl64.Vec3{}, 1, mgl64.Vec3{1.5, 0, 0}, 1) {
		t.Error("spheres should overlap")
	}

	// Touching spheres
	if !CheckSphereOverlap(mgl64.Vec3{}, 1, mgl64.Vec3{2, 0, 0}, 1) {
		t.Error("spheres should overlap (touching)")
	}

	// Separated spheres
	if CheckSphereOverlap(mgl64.Vec3{}, 1, mgl64.Vec3{2.5, 0, 0}, 1) {
		t.Error("spheres should not overlap")
	}

	// Same position
	if !CheckSphereOverlap(mgl64.Vec3{1, 1, 1}, 0.1, mgl64.Vec3{1, 1, 1}, 0.1) {
		t.Error("same position should overlap")
	}
}

func TestCollideSpheresNormalPointsAtoB(t *testing.T) {
	a := bodyAt(SphereShape(0.1), mgl64.Vec3{})
	b := bodyAt(SphereShape(0.1), mgl64.Vec3{0.15, 0, 0})

	c, ok := collide(a, b)
	require.True(t, ok)
	assert.InDelta(t, 1, c.normal[0], 1e-9)
	assert.InDelta(t, 0.05, c.depth, 1e-9)

	_, ok = collide(a, bodyAt(SphereShape(0.1), mgl64.Vec3{0.3, 0, 0}))
	assert.False(t, ok)
}

func TestCollideCapsules(t *testing.T) {
	a := bodyAt(CapsuleShape(0.025, 0.1), mgl64.Vec3{0, 0.05, 0})
	b := bodyAt(CapsuleShape(0.025, 0.1), mgl64.Vec3{0.04, 0.06, 0})

	c, ok := collide(a, b)
	require.True(t, ok)
	assert.InDelta(t, 1, c.normal[0], 1e-9, "side-by-side capsules push apart horizontally")
	assert.InDelta(t, 0.01, c.depth, 1e-9)
}

func TestCollideSphereBox(t *testing.T) {
	box := bodyAt(BoxShape(0.2, 0.2, 0.2), mgl64.Vec3{})
	sphere := bodyAt(SphereShape(0.05), mgl64.Vec3{0, 0.13, 0})

	c, ok := collide(sphere, box)
	require.True(t, ok)
	assert.InDelta(t, -1, c.normal[1], 1e-9, "normal points from sphere down into the box")
	assert.InDelta(t, 0.02, c.depth, 1e-9)

	// Same pair in the other order flips the normal
	c, ok = collide(box, sphere)
	require.True(t, ok)
	assert.InDelta(t, 1, c.normal[1], 1e-9)

	sphere.Position = mgl64.Vec3{0, 0.2, 0}
	_, ok = collide(sphere, box)
	assert.False(t, ok)
}

func TestCollideSphereInsideBox(t *testing.T) {
	box := bodyAt(BoxShape(0.2, 0.2, 0.2), mgl64.Vec3{})
	sphere := bodyAt(SphereShape(0.02), mgl64.Vec3{0.09, 0, 0})

	c, ok := collide(sphere, box)
	require.True(t, ok)
	assert.InDelta(t, -1, c.normal[0], 1e-9, "pushed out through the nearest face")
	assert.InDelta(t, 0.03, c.depth, 1e-9)
}

func TestCollideBoxesCorner(t *testing.T) {
	a := bodyAt(BoxShape(0.1, 0.1, 0.1), mgl64.Vec3{})
	b := bodyAt(BoxShape(0.1, 0.1, 0.1), mgl64.Vec3{0.09, 0.09, 0.09})

	c, ok := collide(a, b)
	require.True(t, ok)
	assert.Greater(t, c.depth, 0.0)

	b.Position = mgl64.Vec3{0.2, 0, 0}
	_, ok = collide(a, b)
	assert.False(t, ok)
}

func TestCollidePlane(t *testing.T) {
	floor := NewBody(BodyStatic, 0, Shape{Kind: ShapePlane})

	sphere := bodyAt(SphereShape(0.05), mgl64.Vec3{0, 0.04, 0})
	c, ok := collide(floor, sphere)
	require.True(t, ok)
	assert.Equal(t, worldUp, c.normal)
	assert.InDelta(t, 0.01, c.depth, 1e-9)

	c, ok = collide(sphere, floor)
	require.True(t, ok)
	assert.Equal(t, worldUp.Mul(-1), c.normal)

	box := bodyAt(BoxShape(0.1, 0.1, 0.1), mgl64.Vec3{0, 0.04, 0})
	c, ok = collide(floor, box)
	require.True(t, ok)
	assert.InDelta(t, 0.01, c.depth, 1e-9)
	assert.InDelta(t, 0, c.point[1], 1e-9)

	box.Position[1] = 0.2
	_, ok = collide(floor, box)
	assert.False(t, ok)
}

func TestClosestPointsSegments(t *testing.T) {
	// Two crossing segments, one above the other
	p, q := closestPointsSegments(
		mgl64.Vec3{-1, 0, 0}, mgl64.Vec3{1, 0, 0},
		mgl64.Vec3{0, 1, -1}, mgl64.Vec3{0, 1, 1},
	)
	assert.InDelta(t, 0, p.Sub(mgl64.Vec3{0, 0, 0}).Len(), 1e-9)
	assert.InDelta(t, 0, q.Sub(mgl64.Vec3{0, 1, 0}).Len(), 1e-9)
}
