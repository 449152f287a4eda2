package main

import "github.com/go-gl/mathgl/mgl64"

// SafeApplyLinearVelocity writes an externally supplied velocity into b.
// Non-finite input is rejected, speeds below MinApplySpeed are not applied
// and anything above MaxLinearVelocity is scaled down. Reports whether the
// body was changed.
func SafeApplyLinearVelocity(b *Body, v mgl64.Vec3, lim SafetyConfig) bool {
	v, ok := sanitizeVelocity(v, lim.MaxLinearVelocity, lim.MinApplySpeed)
	if !ok {
		return false
	}
	b.Velocity = v
	b.WakeUp()
	return true
}

// SafeApplyAngularVelocity is SafeApplyLinearVelocity for spin
func SafeApplyAngularVelocity(b *Body, v mgl64.Vec3, lim SafetyConfig) bool {
	v, ok := sanitizeVelocity(v, lim.MaxAngularVelocity, lim.MinApplySpeed)
	if !ok {
		return false
	}
	b.AngularVelocity = v
	b.WakeUp()
	return true
}

// SafeApplyImpulse applies a finite impulse at rel and clamps the
// resulting velocities.
func SafeApplyImpulse(b *Body, impulse, rel mgl64.Vec3, lim SafetyConfig) bool {
	if !isFiniteVec(impulse) || !isFiniteVec(rel) || b.Type != BodyDynamic {
		return false
	}
	b.ApplyImpulse(impulse, rel)
	b.Velocity = clampLength(b.Velocity, lim.MaxLinearVelocity)
	b.AngularVelocity = clampLength(b.AngularVelocity, lim.MaxAngularVelocity)
	return true
}

// ClampVelocity returns v limited to max; non-finite input becomes zero
func ClampVelocity(v mgl64.Vec3, max float64) mgl64.Vec3 {
	if !isFiniteVec(v) {
		return zeroVec
	}
	return clampLength(v, max)
}

func sanitizeVelocity(v mgl64.Vec3, max, min float64) (mgl64.Vec3, bool) {
	if !isFiniteVec(v) {
		return zeroVec, false
	}
	if v.Len() < min {
		return zeroVec, false
	}
	return clampLength(v, max), true
}
