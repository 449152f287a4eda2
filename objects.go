package main

import (
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// ObjectKind tells the host how to treat a replicated object. It is kept
// apart from anything a client renders.
type ObjectKind int

const (
	KindGeneric ObjectKind = iota
	KindPlayer
	KindCamera
	KindBlock
)

func (k ObjectKind) String() string {
	switch k {
	case KindPlayer:
		return "player"
	case KindCamera:
		return "camera"
	case KindBlock:
		return "block"
	}
	return "generic"
}

// ParseObjectKind is the inverse of ObjectKind.String
func ParseObjectKind(s string) ObjectKind {
	switch s {
	case "player":
		return KindPlayer
	case "camera":
		return KindCamera
	case "block":
		return KindBlock
	}
	return KindGeneric
}

// NetworkObject is a replicated entity with an owner slot
type NetworkObject struct {
	ID        string
	Kind      ObjectKind
	Position  mgl64.Vec3
	Rotation  mgl64.Quat
	HeldBy    string // peer id, empty when free
	HandIndex int    // hand holding it when held by the VR peer
}

// Free reports whether nobody holds the object
func (o *NetworkObject) Free() bool { return o.HeldBy == "" }

// ObjectRegistry keeps objects in insertion order
type ObjectRegistry struct {
	objects map[string]*NetworkObject
	order   []string
}

// NewObjectRegistry creates an empty registry
func NewObjectRegistry() *ObjectRegistry {
	return &ObjectRegistry{objects: make(map[string]*NetworkObject)}
}

// Add registers obj, replacing an object with the same id
func (r *ObjectRegistry) Add(obj *NetworkObject) {
	if obj.Rotation == (mgl64.Quat{}) {
		obj.Rotation = identityQuat
	}
	if _, ok := r.objects[obj.ID]; !ok {
		r.order = append(r.order, obj.ID)
	}
	r.objects[obj.ID] = obj
}

// Get looks up an object
func (r *ObjectRegistry) Get(id string) (*NetworkObject, bool) {
	o, ok := r.objects[id]
	return o, ok
}

// Remove drops an object
func (r *ObjectRegistry) Remove(id string) {
	if _, ok := r.objects[id]; !ok {
		return
	}
	delete(r.objects, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// All returns the objects in insertion order
func (r *ObjectRegistry) All() []*NetworkObject {
	out := make([]*NetworkObject, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.objects[id])
	}
	return out
}

// HeldBy returns the objects held by peer
func (r *ObjectRegistry) HeldBy(peer string) []*NetworkObject {
	var out []*NetworkObject
	for _, id := range r.order {
		if o := r.objects[id]; o.HeldBy == peer {
			out = append(out, o)
		}
	}
	return out
}

// Len returns the number of objects
func (r *ObjectRegistry) Len() int { return len(r.order) }

// playerIDFromObject extracts the player id from a player_<id> object id
func playerIDFromObject(id string) (string, bool) {
	pid, ok := strings.CutPrefix(id, "player_")
	return pid, ok && pid != ""
}
