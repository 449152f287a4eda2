package main

import (
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

// Contact sources reported in ragdoll events
const (
	SourceHand   = "hand"
	SourcePlayer = "player"
)

// RagdollEvent asks the host to knock a player over
type RagdollEvent struct {
	PlayerID   string
	Impulse    mgl64.Vec3
	Velocity   mgl64.Vec3
	SourceType string
	SourceID   string
}

// CollisionHooks connects the handler to ownership state and the host
type CollisionHooks struct {
	IsPlayerHeld      func(playerID string) bool
	IsBlockHeldByHand func(blockID string, hand int) bool
	OnPlayerRagdoll   func(RagdollEvent)
}

type bodyKind int

const (
	kindUnknown bodyKind = iota
	kindHand
	kindPlayer
	kindBlock
)

func classifyBodyID(id string) bodyKind {
	switch {
	case strings.HasPrefix(id, "hand_"):
		if _, _, ok := ParseHandBodyID(id); ok {
			return kindHand
		}
	case strings.HasPrefix(id, "player_"):
		return kindPlayer
	case strings.HasPrefix(id, "block_"):
		return kindBlock
	}
	return kindUnknown
}

// CollisionHandler turns begin-contact events into gameplay reactions:
// hand strikes on players and blocks, and players knocking each other.
type CollisionHandler struct {
	world *PhysicsWorld
	hands map[Handedness]*HandPhysics
	cfg   PhysicsConfig
	hooks CollisionHooks
	log   *zap.SugaredLogger

	counts map[string]int
}

// NewCollisionHandler subscribes a handler to the world's contacts
func NewCollisionHandler(world *PhysicsWorld, cfg PhysicsConfig, hooks CollisionHooks, log *zap.SugaredLogger) *CollisionHandler {
	if log == nil {
		log = nopLogger()
	}
	h := &CollisionHandler{
		world:  world,
		hands:  make(map[Handedness]*HandPhysics),
		cfg:    cfg,
		hooks:  hooks,
		log:    log,
		counts: make(map[string]int),
	}
	world.OnBeginContact(h.HandleContact)
	return h
}

// SetHand registers the hand whose colliders report under its side
func (h *CollisionHandler) SetHand(hand *HandPhysics) {
	h.hands[hand.Side()] = hand
}

// Counts returns how many contacts of each kind produced a reaction
func (h *CollisionHandler) Counts() map[string]int {
	out := make(map[string]int, len(h.counts))
	for k, v := range h.counts {
		out[k] = v
	}
	return out
}

// HandleContact dispatches a begin-contact event by the ids of the bodies
func (h *CollisionHandler) HandleContact(ev ContactEvent) {
	aID, okA := h.world.BodyID(ev.A)
	bID, okB := h.world.BodyID(ev.B)
	if !okA || !okB {
		return
	}
	ka, kb := classifyBodyID(aID), classifyBodyID(bID)
	switch {
	case ka == kindHand && kb == kindPlayer:
		h.handPlayer(aID, bID)
	case kb == kindHand && ka == kindPlayer:
		h.handPlayer(bID, aID)
	case ka == kindHand && kb == kindBlock:
		h.handBlock(aID, bID, ev.B)
	case kb == kindHand && ka == kindBlock:
		h.handBlock(bID, aID, ev.A)
	case ka == kindPlayer && kb == kindPlayer:
		h.playerPlayer(aID, ev.A, bID, ev.B)
	}
}

func (h *CollisionHandler) handPlayer(handID, playerBodyID string) {
	side, finger, _ := ParseHandBodyID(handID)
	hand := h.hands[side]
	if hand == nil {
		return
	}
	playerID := strings.TrimPrefix(playerBodyID, "player_")
	if h.hooks.IsPlayerHeld != nil && h.hooks.IsPlayerHeld(playerID) {
		return
	}
	v := hand.Velocity(finger)
	if v.Len()*hand.VirtualMass() < h.cfg.Forces.RagdollThreshold {
		return
	}
	impulse := v.Mul(hand.VirtualMass() * h.cfg.Forces.ImpulseMultiplier)
	impulse[1] += impulse.Len() * h.cfg.Forces.UpwardImpulseBoost
	h.counts["hand_player"]++
	h.log.Debugw("hand struck player", "player", playerID, "hand", handID, "speed", v.Len())
	h.emit(RagdollEvent{
		PlayerID:   playerID,
		Impulse:    impulse,
		Velocity:   v,
		SourceType: SourceHand,
		SourceID:   handID,
	})
}

func (h *CollisionHandler) handBlock(handID, blockID string, block *Body) {
	side, finger, _ := ParseHandBodyID(handID)
	hand := h.hands[side]
	if hand == nil {
		return
	}
	if h.hooks.IsBlockHeldByHand != nil && h.hooks.IsBlockHeldByHand(blockID, side.index()) {
		return
	}
	v := hand.Velocity(finger)
	if v.Len() < h.cfg.Hand.MinBlockHitSpeed {
		return
	}
	v = clampLength(v, h.cfg.Hand.MaxHandSpeed)
	impulse := v.Mul(hand.VirtualMass() * h.cfg.Forces.ImpulseMultiplier)
	if !SafeApplyImpulse(block, impulse, zeroVec, h.cfg.Safety) {
		return
	}
	if handPos, ok := hand.Position(finger); ok {
		torque := handPos.Sub(block.Position).Cross(impulse).Mul(h.cfg.Hand.TorqueScale)
		block.AngularVelocity = ClampVelocity(block.AngularVelocity.Add(torque), h.cfg.Safety.MaxAngularVelocity)
	}
	block.WakeUp()
	h.counts["hand_block"]++
}

func (h *CollisionHandler) playerPlayer(aID string, a *Body, bID string, b *Body) {
	if h.isHeld(aID) || h.isHeld(bID) {
		return
	}
	h.knock(aID, a, bID)
	h.knock(bID, b, aID)
}

// knock lets a fast-moving source player bowl over the target
func (h *CollisionHandler) knock(sourceBodyID string, source *Body, targetBodyID string) {
	v := source.Velocity
	if v.Len()*source.Mass() < h.cfg.Forces.ChainReactionThreshold {
		return
	}
	target := strings.TrimPrefix(targetBodyID, "player_")
	impulse := v.Mul(source.Mass() * h.cfg.Forces.ImpulseMultiplier)
	impulse[1] += impulse.Len() * h.cfg.Forces.UpwardImpulseBoost * 0.5
	h.counts["player_player"]++
	h.emit(RagdollEvent{
		PlayerID:   target,
		Impulse:    impulse,
		Velocity:   v,
		SourceType: SourcePlayer,
		SourceID:   strings.TrimPrefix(sourceBodyID, "player_"),
	})
}

func (h *CollisionHandler) isHeld(playerBodyID string) bool {
	return h.hooks.IsPlayerHeld != nil && h.hooks.IsPlayerHeld(strings.TrimPrefix(playerBodyID, "player_"))
}

func (h *CollisionHandler) emit(ev RagdollEvent) {
	if h.hooks.OnPlayerRagdoll != nil {
		h.hooks.OnPlayerRagdoll(ev)
	}
}
