package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Vec3 is the wire form of a 3D vector
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is the wire form of a rotation quaternion
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

var (
	worldUp      = mgl64.Vec3{0, 1, 0}
	zeroVec      = mgl64.Vec3{}
	identityQuat = mgl64.QuatIdent()
)

// V converts to the math type
func (v Vec3) V() mgl64.Vec3 { return mgl64.Vec3{v.X, v.Y, v.Z} }

// ToVec3 converts from the math type
func ToVec3(v mgl64.Vec3) Vec3 { return Vec3{X: v[0], Y: v[1], Z: v[2]} }

// Q converts to the math type. The all-zero quaternion decodes as identity.
func (q Quat) Q() mgl64.Quat {
	if q.X == 0 && q.Y == 0 && q.Z == 0 && q.W == 0 {
		return identityQuat
	}
	return mgl64.Quat{W: q.W, V: mgl64.Vec3{q.X, q.Y, q.Z}}
}

// ToQuat converts from the math type
func ToQuat(q mgl64.Quat) Quat { return Quat{X: q.V[0], Y: q.V[1], Z: q.V[2], W: q.W} }

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isFiniteVec(v mgl64.Vec3) bool {
	return isFinite(v[0]) && isFinite(v[1]) && isFinite(v[2])
}

func isFiniteQuat(q mgl64.Quat) bool {
	return isFinite(q.W) && isFiniteVec(q.V)
}

// ToPhysicsSpace maps a render-space (feet) position to the body center,
// which sits offset above the feet.
func ToPhysicsSpace(render mgl64.Vec3, offset float64) mgl64.Vec3 {
	return mgl64.Vec3{render[0], render[1] + offset, render[2]}
}

// ToRenderSpace maps a body center back to the feet position.
func ToRenderSpace(physics mgl64.Vec3, offset float64) mgl64.Vec3 {
	return mgl64.Vec3{physics[0], physics[1] - offset, physics[2]}
}

// tiltAngle is the angle in radians between the body's local up axis and
// world up.
func tiltAngle(q mgl64.Quat) float64 {
	up := q.Rotate(worldUp)
	return math.Acos(Clamp(up[1], -1, 1))
}

// uprightKeepingYaw returns the upright orientation with the same heading
// as q.
func uprightKeepingYaw(q mgl64.Quat) mgl64.Quat {
	fwd := q.Rotate(mgl64.Vec3{0, 0, 1})
	right := q.Rotate(mgl64.Vec3{1, 0, 0})
	var yaw float64
	if fwd[0]*fwd[0]+fwd[2]*fwd[2] >= right[0]*right[0]+right[2]*right[2] {
		yaw = math.Atan2(fwd[0], fwd[2])
	} else {
		yaw = math.Atan2(-right[2], right[0])
	}
	return mgl64.QuatRotate(yaw, worldUp)
}

// clampLength scales v down to max length, leaving shorter vectors alone
func clampLength(v mgl64.Vec3, max float64) mgl64.Vec3 {
	l := v.Len()
	if l <= max || l == 0 {
		return v
	}
	return v.Mul(max / l)
}
