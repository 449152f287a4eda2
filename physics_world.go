package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	solverIterations     = 4
	restitutionThreshold = 0.2 // approach speeds below this do not bounce
	correctionPercent    = 0.6
	correctionSlop       = 0.0005
	sleepSpeedLimit      = 0.1
	sleepTimeLimit       = 1.0
	floorBodyID          = "ground"
)

// BodyType controls how a body participates in the simulation
type BodyType int

const (
	BodyDynamic   BodyType = iota // moved by forces and contacts
	BodyKinematic                 // moved by its owner; pushes dynamic bodies
	BodyStatic                    // never moves
)

// ShapeKind selects the collision shape of a body
type ShapeKind int

const (
	ShapeSphere ShapeKind = iota
	ShapeCapsule
	ShapeBox
	ShapePlane
)

// Shape is a collision shape in body-local space
type Shape struct {
	Kind        ShapeKind
	Radius      float64    // sphere, capsule
	HalfHeight  float64    // capsule: half length of the inner segment along local Y
	HalfExtents mgl64.Vec3 // box
}

// SphereShape returns a sphere of radius r
func SphereShape(r float64) Shape { return Shape{Kind: ShapeSphere, Radius: r} }

// CapsuleShape returns a vertical capsule with the given total height
func CapsuleShape(radius, height float64) Shape {
	return Shape{Kind: ShapeCapsule, Radius: radius, HalfHeight: math.Max(height/2-radius, 0)}
}

// BoxShape returns a box with the given full dimensions
func BoxShape(w, h, d float64) Shape {
	return Shape{Kind: ShapeBox, HalfExtents: mgl64.Vec3{w / 2, h / 2, d / 2}}
}

func (s Shape) boundingRadius() float64 {
	switch s.Kind {
	case ShapeCapsule:
		return s.HalfHeight + s.Radius
	case ShapeBox:
		return s.HalfExtents.Len()
	case ShapePlane:
		return math.Inf(1)
	}
	return s.Radius
}

// Material identifies which contact material applies to a body
type Material int

const (
	MaterialDefault Material = iota
	MaterialPlayer
	MaterialHand
	MaterialGround
)

type materialPair struct{ a, b Material }

func newMaterialPair(a, b Material) materialPair {
	if a > b {
		a, b = b, a
	}
	return materialPair{a, b}
}

// Body is a rigid body in the physics world
type Body struct {
	Type            BodyType
	Shape           Shape
	Material        Material
	Group           uint32
	Mask            uint32
	Position        mgl64.Vec3
	Quaternion      mgl64.Quat
	Velocity        mgl64.Vec3
	AngularVelocity mgl64.Vec3
	LinearDamping   float64
	AngularDamping  float64

	mass       float64
	invMass    float64
	invInertia float64
	sleeping   bool
	sleepTime  float64
	serial     uint64
	id         string
}

// NewBody creates a body with the given type, mass and shape at the origin
func NewBody(typ BodyType, mass float64, shape Shape) *Body {
	b := &Body{
		Shape:      shape,
		Quaternion: identityQuat,
		Group:      GroupPlayer,
		Mask:       GroupPlayer | GroupHand | GroupEnvironment,
		mass:       mass,
	}
	b.SetType(typ)
	return b
}

// ID returns the id the body is registered under, or "" if unregistered
func (b *Body) ID() string { return b.id }

// Mass returns the configured mass, also while kinematic
func (b *Body) Mass() float64 { return b.mass }

// SetType switches the body type. Only dynamic bodies have finite mass in
// the solver.
func (b *Body) SetType(t BodyType) {
	b.Type = t
	b.invMass, b.invInertia = 0, 0
	if t == BodyDynamic && b.mass > 0 {
		b.invMass = 1 / b.mass
		r := b.Shape.boundingRadius()
		if inertia := 0.4 * b.mass * r * r; inertia > 0 {
			b.invInertia = 1 / inertia
		}
	}
}

// ApplyImpulse changes the velocity of a dynamic body by impulse applied
// at rel, a point relative to the body center.
func (b *Body) ApplyImpulse(impulse, rel mgl64.Vec3) {
	if b.Type != BodyDynamic {
		return
	}
	b.applyImpulseAt(impulse, rel)
	b.WakeUp()
}

func (b *Body) applyImpulseAt(impulse, rel mgl64.Vec3) {
	b.Velocity = b.Velocity.Add(impulse.Mul(b.invMass))
	b.AngularVelocity = b.AngularVelocity.Add(rel.Cross(impulse).Mul(b.invInertia))
}

// WakeUp makes a sleeping body simulate again
func (b *Body) WakeUp() {
	b.sleeping = false
	b.sleepTime = 0
}

// Sleeping reports whether the body has been put to sleep
func (b *Body) Sleeping() bool { return b.sleeping }

// Speed returns the linear speed
func (b *Body) Speed() float64 { return b.Velocity.Len() }

func (b *Body) active() bool {
	switch b.Type {
	case BodyKinematic:
		return true
	case BodyDynamic:
		return !b.sleeping
	}
	return false
}

func canCollide(a, b *Body) bool {
	return a.Group&b.Mask != 0 && b.Group&a.Mask != 0
}

// ContactEvent is raised once when two bodies start touching
type ContactEvent struct {
	A, B   *Body
	Normal mgl64.Vec3 // from A to B
	Point  mgl64.Vec3
}

type pairKey struct{ lo, hi uint64 }

func newPairKey(a, b *Body) pairKey {
	if a.serial > b.serial {
		a, b = b, a
	}
	return pairKey{a.serial, b.serial}
}

// PhysicsWorld owns every rigid body of a room. It is not safe for
// concurrent use; the room loop is its only caller.
type PhysicsWorld struct {
	cfg         PhysicsConfig
	gravity     mgl64.Vec3
	bodies      []*Body
	byID        map[string]*Body
	floor       *Body
	materials   map[materialPair]ContactMaterial
	grid        SpatialGrid
	touching    map[pairKey]bool
	listeners   []func(ContactEvent)
	accumulator float64
	nextSerial  uint64
	time        float64

	marks   []int
	scratch []int
}

// NewPhysicsWorld creates a world with gravity, contact materials and a
// static ground plane at y=0.
func NewPhysicsWorld(cfg PhysicsConfig) *PhysicsWorld {
	w := &PhysicsWorld{
		cfg:      cfg,
		gravity:  mgl64.Vec3{0, cfg.Gravity, 0},
		byID:     make(map[string]*Body),
		touching: make(map[pairKey]bool),
		materials: map[materialPair]ContactMaterial{
			newMaterialPair(MaterialPlayer, MaterialHand):   cfg.Materials.PlayerHand,
			newMaterialPair(MaterialPlayer, MaterialGround): cfg.Materials.PlayerGround,
			newMaterialPair(MaterialPlayer, MaterialPlayer): cfg.Materials.PlayerPlayer,
		},
	}
	floor := NewBody(BodyStatic, 0, Shape{Kind: ShapePlane})
	floor.Material = MaterialGround
	floor.Group = GroupEnvironment
	floor.Mask = GroupPlayer
	w.AddBody(floorBodyID, floor)
	w.floor = floor
	return w
}

// AddBody registers b under id, replacing any body already registered there
func (w *PhysicsWorld) AddBody(id string, b *Body) {
	if old, ok := w.byID[id]; ok {
		w.removeBody(old)
	}
	w.nextSerial++
	b.serial = w.nextSerial
	b.id = id
	w.byID[id] = b
	w.bodies = append(w.bodies, b)
}

// RemoveBody unregisters the body with the given id
func (w *PhysicsWorld) RemoveBody(id string) {
	if b, ok := w.byID[id]; ok {
		w.removeBody(b)
	}
}

func (w *PhysicsWorld) removeBody(b *Body) {
	delete(w.byID, b.id)
	for i, other := range w.bodies {
		if other == b {
			w.bodies = append(w.bodies[:i], w.bodies[i+1:]...)
			break
		}
	}
	for k := range w.touching {
		if k.lo == b.serial || k.hi == b.serial {
			delete(w.touching, k)
		}
	}
	b.id = ""
}

// Body looks up a body by id
func (w *PhysicsWorld) Body(id string) (*Body, bool) {
	b, ok := w.byID[id]
	return b, ok
}

// BodyID returns the id a body is registered under
func (w *PhysicsWorld) BodyID(b *Body) (string, bool) {
	if b == nil || b.id == "" {
		return "", false
	}
	if w.byID[b.id] != b {
		return "", false
	}
	return b.id, true
}

// BodyCount returns the number of registered bodies, including the ground
func (w *PhysicsWorld) BodyCount() int { return len(w.bodies) }

// OnBeginContact subscribes fn to begin-contact events
func (w *PhysicsWorld) OnBeginContact(fn func(ContactEvent)) {
	w.listeners = append(w.listeners, fn)
}

// Time returns the simulated time in seconds
func (w *PhysicsWorld) Time() float64 { return w.time }

// Step advances the world by dt seconds in fixed steps, running at most
// MaxSubSteps steps per call. Time beyond the cap is dropped.
func (w *PhysicsWorld) Step(dt float64) {
	if !(dt > 0) || !isFinite(dt) {
		return
	}
	h := w.cfg.FixedTimeStep
	w.accumulator += dt
	substeps := 0
	for w.accumulator >= h-1e-12 && substeps < w.cfg.MaxSubSteps {
		w.internalStep(h)
		w.accumulator -= h
		substeps++
	}
	if w.accumulator >= h {
		w.accumulator = math.Mod(w.accumulator, h)
	}
	if w.accumulator < 0 {
		w.accumulator = 0
	}
}

func (w *PhysicsWorld) internalStep(h float64) {
	for _, b := range w.bodies {
		if b.Type == BodyDynamic && !b.sleeping {
			b.Velocity = b.Velocity.Add(w.gravity.Mul(h))
		}
	}

	contacts := w.detect()

	for iter := 0; iter < solverIterations; iter++ {
		for i := range contacts {
			w.resolveVelocity(&contacts[i], iter == 0)
		}
	}
	for i := range contacts {
		w.correctPosition(&contacts[i])
	}

	w.integrate(h)
	w.time += h
	w.dispatchEvents(contacts)
}

// detect runs the grid broadphase and narrowphase for every eligible pair
func (w *PhysicsWorld) detect() []contact {
	w.grid.Clear()
	for i, b := range w.bodies {
		if b.Shape.Kind == ShapePlane {
			continue
		}
		w.grid.InsertCircle(b.Position[0], b.Position[2], b.Shape.boundingRadius(), i)
	}
	if cap(w.marks) < len(w.bodies) {
		w.marks = make([]int, len(w.bodies))
	}
	w.marks = w.marks[:len(w.bodies)]
	for i := range w.marks {
		w.marks[i] = -1
	}

	var contacts []contact
	for i, a := range w.bodies {
		if a.Shape.Kind == ShapePlane {
			continue
		}
		ra := a.Shape.boundingRadius()
		w.scratch = w.grid.QueryBuf(a.Position[0], a.Position[2], ra, w.scratch[:0])
		for _, j := range w.scratch {
			if j <= i || w.marks[j] == i {
				continue
			}
			w.marks[j] = i
			b := w.bodies[j]
			if !w.eligible(a, b) {
				continue
			}
			if math.Abs(a.Position[1]-b.Position[1]) > ra+b.Shape.boundingRadius() {
				continue
			}
			if c, ok := collide(a, b); ok {
				contacts = append(contacts, c)
			}
		}
	}

	// Ground contacts for simulated bodies only
	for _, b := range w.bodies {
		if b.Type != BodyDynamic || b.sleeping || !canCollide(w.floor, b) {
			continue
		}
		if c, ok := collide(w.floor, b); ok {
			contacts = append(contacts, c)
		}
	}
	return contacts
}

func (w *PhysicsWorld) eligible(a, b *Body) bool {
	if !canCollide(a, b) {
		return false
	}
	if !a.active() && !b.active() {
		return false
	}
	return true
}

func (w *PhysicsWorld) material(a, b *Body) ContactMaterial {
	if m, ok := w.materials[newMaterialPair(a.Material, b.Material)]; ok {
		return m
	}
	return w.cfg.Materials.Default
}

func (w *PhysicsWorld) resolveVelocity(c *contact, first bool) {
	a, b := c.a, c.b
	if a.invMass+b.invMass == 0 {
		return
	}
	if first {
		// A sleeping body touched by something moving wakes up
		if a.sleeping && (b.Type == BodyKinematic || b.Speed() > sleepSpeedLimit) {
			a.WakeUp()
		}
		if b.sleeping && (a.Type == BodyKinematic || a.Speed() > sleepSpeedLimit) {
			b.WakeUp()
		}
	}
	if a.sleeping || b.sleeping {
		return
	}

	n := c.normal
	ra := c.point.Sub(a.Position)
	rb := c.point.Sub(b.Position)
	rel := pointVelocity(b, rb).Sub(pointVelocity(a, ra))
	vn := rel.Dot(n)
	if vn >= 0 {
		return
	}

	mat := w.material(a, b)
	e := mat.Restitution
	if !first || -vn < restitutionThreshold {
		e = 0
	}
	k := a.invMass + b.invMass +
		a.invInertia*ra.Cross(n).LenSqr() + b.invInertia*rb.Cross(n).LenSqr()
	j := -(1 + e) * vn / k
	impulse := n.Mul(j)
	a.applyImpulseAt(impulse.Mul(-1), ra)
	b.applyImpulseAt(impulse, rb)

	rel = pointVelocity(b, rb).Sub(pointVelocity(a, ra))
	tangent := rel.Sub(n.Mul(rel.Dot(n)))
	if tl := tangent.Len(); tl > 1e-9 && mat.Friction > 0 {
		t := tangent.Mul(1 / tl)
		kt := a.invMass + b.invMass +
			a.invInertia*ra.Cross(t).LenSqr() + b.invInertia*rb.Cross(t).LenSqr()
		jt := Clamp(-rel.Dot(t)/kt, -mat.Friction*j, mat.Friction*j)
		fi := t.Mul(jt)
		a.applyImpulseAt(fi.Mul(-1), ra)
		b.applyImpulseAt(fi, rb)
	}
}

func pointVelocity(b *Body, r mgl64.Vec3) mgl64.Vec3 {
	return b.Velocity.Add(b.AngularVelocity.Cross(r))
}

func (w *PhysicsWorld) correctPosition(c *contact) {
	total := c.a.invMass + c.b.invMass
	if total == 0 || c.depth <= correctionSlop {
		return
	}
	corr := c.normal.Mul((c.depth - correctionSlop) / total * correctionPercent)
	if c.a.invMass > 0 && !c.a.sleeping {
		c.a.Position = c.a.Position.Sub(corr.Mul(c.a.invMass))
	}
	if c.b.invMass > 0 && !c.b.sleeping {
		c.b.Position = c.b.Position.Add(corr.Mul(c.b.invMass))
	}
}

func (w *PhysicsWorld) integrate(h float64) {
	for _, b := range w.bodies {
		switch b.Type {
		case BodyStatic:
			continue
		case BodyDynamic:
			if b.sleeping {
				continue
			}
			b.Velocity = b.Velocity.Mul(math.Pow(1-b.LinearDamping, h))
			b.AngularVelocity = b.AngularVelocity.Mul(math.Pow(1-b.AngularDamping, h))
		}
		b.Position = b.Position.Add(b.Velocity.Mul(h))
		if b.AngularVelocity.LenSqr() > 0 {
			omega := mgl64.Quat{V: b.AngularVelocity}
			b.Quaternion = b.Quaternion.Add(omega.Mul(b.Quaternion).Scale(0.5 * h)).Normalize()
		}
		if b.Type == BodyDynamic {
			w.updateSleep(b, h)
		}
	}
}

func (w *PhysicsWorld) updateSleep(b *Body, h float64) {
	limit2 := sleepSpeedLimit * sleepSpeedLimit
	if b.Velocity.LenSqr() < limit2 && b.AngularVelocity.LenSqr() < limit2 {
		b.sleepTime += h
		if b.sleepTime >= sleepTimeLimit {
			b.sleeping = true
			b.Velocity = zeroVec
			b.AngularVelocity = zeroVec
		}
		return
	}
	b.sleepTime = 0
}

// dispatchEvents raises begin-contact for pairs that were not touching on
// the previous step and forgets pairs that separated.
func (w *PhysicsWorld) dispatchEvents(contacts []contact) {
	now := make(map[pairKey]bool, len(contacts))
	var begun []contact
	for _, c := range contacts {
		k := newPairKey(c.a, c.b)
		if now[k] {
			continue
		}
		now[k] = true
		if !w.touching[k] {
			begun = append(begun, c)
		}
	}
	// Sleeping pairs keep their state; they are skipped by detection
	for k := range w.touching {
		if !now[k] && w.pairAsleep(k) {
			now[k] = true
		}
	}
	w.touching = now
	for _, c := range begun {
		ev := ContactEvent{A: c.a, B: c.b, Normal: c.normal, Point: c.point}
		for _, fn := range w.listeners {
			fn(ev)
		}
	}
}

func (w *PhysicsWorld) pairAsleep(k pairKey) bool {
	var a, b *Body
	for _, body := range w.bodies {
		if body.serial == k.lo {
			a = body
		} else if body.serial == k.hi {
			b = body
		}
	}
	if a == nil || b == nil {
		return false
	}
	return !a.active() && !b.active()
}
