package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// contact is one touching point between two bodies. normal points from a
// to b; depth is the penetration (positive when overlapping).
type contact struct {
	a, b   *Body
	normal mgl64.Vec3
	depth  float64
	point  mgl64.Vec3
}

// CheckSphereOverlap checks if two spheres overlap
func CheckSphereOverlap(c1 mgl64.Vec3, r1 float64, c2 mgl64.Vec3, r2 float64) bool {
	radSum := r1 + r2
	return c2.Sub(c1).LenSqr() <= radSum*radSum
}

// coreSegment returns the inner segment and radius of a rounded shape.
// Spheres have a zero-length segment.
func coreSegment(b *Body) (mgl64.Vec3, mgl64.Vec3, float64) {
	if b.Shape.Kind == ShapeCapsule && b.Shape.HalfHeight > 0 {
		axis := b.Quaternion.Rotate(worldUp).Mul(b.Shape.HalfHeight)
		return b.Position.Sub(axis), b.Position.Add(axis), b.Shape.Radius
	}
	return b.Position, b.Position, b.Shape.Radius
}

// closestPointOnSegment projects p onto segment a-b
func closestPointOnSegment(a, b, p mgl64.Vec3) mgl64.Vec3 {
	ab := b.Sub(a)
	l2 := ab.LenSqr()
	if l2 < 1e-12 {
		return a
	}
	t := Clamp(p.Sub(a).Dot(ab)/l2, 0, 1)
	return a.Add(ab.Mul(t))
}

// closestPointsSegments returns the closest pair of points between segments
// p1-q1 and p2-q2.
func closestPointsSegments(p1, q1, p2, q2 mgl64.Vec3) (mgl64.Vec3, mgl64.Vec3) {
	d1 := q1.Sub(p1)
	d2 := q2.Sub(p2)
	r := p1.Sub(p2)
	a := d1.LenSqr()
	e := d2.LenSqr()
	f := d2.Dot(r)

	var s, t float64
	switch {
	case a < 1e-12 && e < 1e-12:
		return p1, p2
	case a < 1e-12:
		t = Clamp(f/e, 0, 1)
	default:
		c := d1.Dot(r)
		if e < 1e-12 {
			s = Clamp(-c/a, 0, 1)
		} else {
			b := d1.Dot(d2)
			denom := a*e - b*b
			if denom > 1e-12 {
				s = Clamp((b*f-c*e)/denom, 0, 1)
			}
			t = (b*s + f) / e
			if t < 0 {
				t = 0
				s = Clamp(-c/a, 0, 1)
			} else if t > 1 {
				t = 1
				s = Clamp((b-c)/a, 0, 1)
			}
		}
	}
	return p1.Add(d1.Mul(s)), p2.Add(d2.Mul(t))
}

func boxToLocal(box *Body, p mgl64.Vec3) mgl64.Vec3 {
	return box.Quaternion.Conjugate().Rotate(p.Sub(box.Position))
}

func boxToWorld(box *Body, local mgl64.Vec3) mgl64.Vec3 {
	return box.Quaternion.Rotate(local).Add(box.Position)
}

// closestPointOnBox clamps p into the oriented box
func closestPointOnBox(box *Body, p mgl64.Vec3) mgl64.Vec3 {
	local := boxToLocal(box, p)
	h := box.Shape.HalfExtents
	for i := 0; i < 3; i++ {
		local[i] = Clamp(local[i], -h[i], h[i])
	}
	return boxToWorld(box, local)
}

// boxCorners returns the eight world-space corners of a box body
func boxCorners(box *Body) [8]mgl64.Vec3 {
	var out [8]mgl64.Vec3
	h := box.Shape.HalfExtents
	i := 0
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				out[i] = boxToWorld(box, mgl64.Vec3{sx * h[0], sy * h[1], sz * h[2]})
				i++
			}
		}
	}
	return out
}

// pointInBox reports the penetration of p into the box along its shallowest
// face, with the outward face normal in world space.
func pointInBox(box *Body, p mgl64.Vec3) (mgl64.Vec3, float64, bool) {
	local := boxToLocal(box, p)
	h := box.Shape.HalfExtents
	best := math.Inf(1)
	axis := 0
	for i := 0; i < 3; i++ {
		pen := h[i] - math.Abs(local[i])
		if pen < 0 {
			return zeroVec, 0, false
		}
		if pen < best {
			best = pen
			axis = i
		}
	}
	var n mgl64.Vec3
	if local[axis] >= 0 {
		n[axis] = 1
	} else {
		n[axis] = -1
	}
	return box.Quaternion.Rotate(n), best, true
}

func collideSpheres(a *Body, ca mgl64.Vec3, ra float64, b *Body, cb mgl64.Vec3, rb float64) (contact, bool) {
	d := cb.Sub(ca)
	dist := d.Len()
	if dist >= ra+rb {
		return contact{}, false
	}
	n := worldUp
	if dist > 1e-9 {
		n = d.Mul(1 / dist)
	}
	depth := ra + rb - dist
	return contact{a: a, b: b, normal: n, depth: depth, point: ca.Add(n.Mul(ra - depth/2))}, true
}

func collideRounded(a, b *Body) (contact, bool) {
	pa, qa, ra := coreSegment(a)
	pb, qb, rb := coreSegment(b)
	ca, cb := closestPointsSegments(pa, qa, pb, qb)
	return collideSpheres(a, ca, ra, b, cb, rb)
}

// collideRoundedBox tests a sphere or capsule against a box. The returned
// normal points from the rounded body to the box.
func collideRoundedBox(r, box *Body) (contact, bool) {
	p, q, radius := coreSegment(r)
	c := closestPointOnSegment(p, q, box.Position)
	onBox := closestPointOnBox(box, c)
	c = closestPointOnSegment(p, q, onBox)
	onBox = closestPointOnBox(box, c)

	if outward, pen, inside := pointInBox(box, c); inside {
		return contact{a: r, b: box, normal: outward.Mul(-1), depth: pen + radius, point: c}, true
	}
	d := onBox.Sub(c)
	dist := d.Len()
	if dist >= radius || dist < 1e-12 {
		return contact{}, false
	}
	return contact{a: r, b: box, normal: d.Mul(1 / dist), depth: radius - dist, point: onBox}, true
}

// collideBoxes tests the corners of each box against the other and keeps the
// deepest one. Edge-edge crossings are not detected.
func collideBoxes(a, b *Body) (contact, bool) {
	var best contact
	found := false
	for _, p := range boxCorners(a) {
		if outward, pen, ok := pointInBox(b, p); ok && (!found || pen > best.depth) {
			best = contact{a: a, b: b, normal: outward.Mul(-1), depth: pen, point: p}
			found = true
		}
	}
	for _, p := range boxCorners(b) {
		if outward, pen, ok := pointInBox(a, p); ok && (!found || pen > best.depth) {
			best = contact{a: a, b: b, normal: outward, depth: pen, point: p}
			found = true
		}
	}
	return best, found
}

// collidePlane tests a body against the horizontal ground plane through the
// floor body's position.
func collidePlane(floor, b *Body) (contact, bool) {
	groundY := floor.Position[1]
	switch b.Shape.Kind {
	case ShapeBox:
		var sum mgl64.Vec3
		n := 0
		deepest := 0.0
		for _, c := range boxCorners(b) {
			if pen := groundY - c[1]; pen > 0 {
				sum = sum.Add(c)
				n++
				deepest = math.Max(deepest, pen)
			}
		}
		if n == 0 {
			return contact{}, false
		}
		pt := sum.Mul(1 / float64(n))
		pt[1] = groundY
		return contact{a: floor, b: b, normal: worldUp, depth: deepest, point: pt}, true
	case ShapePlane:
		return contact{}, false
	default:
		p, q, r := coreSegment(b)
		low := p
		if q[1] < p[1] {
			low = q
		}
		pen := groundY - (low[1] - r)
		if pen <= 0 {
			return contact{}, false
		}
		return contact{a: floor, b: b, normal: worldUp, depth: pen, point: mgl64.Vec3{low[0], groundY, low[2]}}, true
	}
}

// collide dispatches on the shape pair. The contact normal points from a
// to b.
func collide(a, b *Body) (contact, bool) {
	ka, kb := a.Shape.Kind, b.Shape.Kind
	switch {
	case ka == ShapePlane:
		return collidePlane(a, b)
	case kb == ShapePlane:
		c, ok := collidePlane(b, a)
		return c.flipped(), ok
	case ka == ShapeBox && kb == ShapeBox:
		return collideBoxes(a, b)
	case kb == ShapeBox:
		return collideRoundedBox(a, b)
	case ka == ShapeBox:
		c, ok := collideRoundedBox(b, a)
		return c.flipped(), ok
	default:
		return collideRounded(a, b)
	}
}

func (c contact) flipped() contact {
	c.a, c.b = c.b, c.a
	c.normal = c.normal.Mul(-1)
	return c
}
