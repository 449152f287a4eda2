package main

import "github.com/go-gl/mathgl/mgl64"

// GrabRequest grants peer ownership of an object when nobody holds it.
// Player objects are routed to PickupPlayer. The check and the assignment
// happen on the room loop, so two requests can never both win.
func (h *Host) GrabRequest(peerID, objectID string, hand int) bool {
	obj, ok := h.objects.Get(objectID)
	if !ok {
		return h.deny(peerID, objectID, "unknown object")
	}
	if obj.Kind == KindPlayer {
		pid, _ := playerIDFromObject(objectID)
		if !h.PickupPlayer(peerID, pid, hand) {
			return h.deny(peerID, objectID, "player not available")
		}
		return true
	}
	if !obj.Free() {
		return h.deny(peerID, objectID, "held by "+obj.HeldBy)
	}

	obj.HeldBy = peerID
	obj.HandIndex = hand
	if b, ok := h.blocks[objectID]; ok {
		h.scheduler.Cancel(cooldownKey(objectID))
		b.SetHandCollision(true)
		b.SetHeld(true)
	}
	h.stats.GrabsGranted++
	h.track(EvtGrab, peerID, objectID)
	h.log.Debugw("grab granted", "peer", peerID, "object", objectID, "hand", hand)
	return true
}

func (h *Host) deny(peerID, objectID, reason string) bool {
	h.stats.GrabsDenied++
	h.log.Debugw("grab denied", "peer", peerID, "object", objectID, "reason", reason)
	return false
}

// Release gives an object back. Only the holder may release it; a released
// block is thrown with the supplied velocities and ignores hands for the
// release cooldown so it does not collide with the hand that let go.
func (h *Host) Release(peerID string, m ObjectReleaseMsg) bool {
	obj, ok := h.objects.Get(m.ObjectID)
	if !ok {
		return false
	}
	if obj.Kind == KindPlayer {
		pid, _ := playerIDFromObject(m.ObjectID)
		return h.ReleasePlayer(peerID, pid, m.Velocity)
	}
	if obj.HeldBy != peerID {
		h.log.Debugw("release by non-holder ignored", "peer", peerID, "object", m.ObjectID, "holder", obj.HeldBy)
		return false
	}

	if m.Position != nil && isFiniteVec(m.Position.V()) {
		obj.Position = m.Position.V()
	}
	if m.Rotation != nil && isFiniteQuat(m.Rotation.Q()) {
		obj.Rotation = m.Rotation.Q().Normalize()
	}
	obj.HeldBy = ""
	obj.HandIndex = 0

	if b, ok := h.blocks[m.ObjectID]; ok {
		b.SetTransform(obj.Position, obj.Rotation)
		b.SetHeld(false)
		h.startCooldown(m.ObjectID, b.SetHandCollision)
		safety := h.cfg.Physics.Safety
		if m.Velocity != nil {
			SafeApplyLinearVelocity(b.Body(), m.Velocity.V(), safety)
		}
		if m.AngularVelocity != nil {
			SafeApplyAngularVelocity(b.Body(), m.AngularVelocity.V(), safety)
		}
	}
	h.track(EvtRelease, peerID, m.ObjectID)
	return true
}

// UpdateObject moves an object the peer holds. Held players are moved too
// and told their new position.
func (h *Host) UpdateObject(peerID, objectID string, pos mgl64.Vec3, rot mgl64.Quat) bool {
	if !isFiniteVec(pos) || !isFiniteQuat(rot) {
		return false
	}
	obj, ok := h.objects.Get(objectID)
	if !ok || obj.HeldBy != peerID {
		return false
	}
	rot = rot.Normalize()
	obj.Position = pos
	obj.Rotation = rot

	switch obj.Kind {
	case KindPlayer:
		pid, _ := playerIDFromObject(objectID)
		rec, ok := h.players[pid]
		if !ok {
			return false
		}
		rec.Body.SetPosition(pos)
		rec.Body.SetRotation(rot)
		h.send(pid, Envelope{T: MsgPlayerPosition, Data: PlayerPositionMsg{
			PlayerID: pid,
			Position: ToVec3(pos),
			Rotation: ToQuat(rot),
		}})
	case KindBlock:
		if b, ok := h.blocks[objectID]; ok {
			b.SetTransform(pos, rot)
		}
	}
	return true
}

// PickupPlayer lets the VR peer lift a player that is free and able to be
// held.
func (h *Host) PickupPlayer(holderID, playerID string, hand int) bool {
	if holderID == "" || holderID != h.vrPeer || holderID == playerID {
		return false
	}
	rec, ok := h.players[playerID]
	if !ok || rec.HeldBy != "" {
		return false
	}
	if !rec.SM.TriggerHeld() {
		return false
	}
	rec.HeldBy = holderID
	if obj, ok := h.objects.Get(PlayerBodyID(playerID)); ok {
		obj.HeldBy = holderID
		obj.HandIndex = hand
	}
	h.scheduler.Cancel(cooldownKey(PlayerBodyID(playerID)))
	rec.Body.SetHandCollision(true)

	h.send(playerID, Envelope{T: MsgPlayerPickup, Data: PlayerPickupMsg{PlayerID: playerID, HolderID: holderID}})
	h.stats.GrabsGranted++
	h.track(EvtPickup, holderID, playerID)
	h.log.Infow("player picked up", "player", playerID, "holder", holderID)
	return true
}

// ReleasePlayer puts a held player down or throws them. A hard enough
// throw ragdolls the player; a gentle one stands them on the ground.
func (h *Host) ReleasePlayer(holderID, playerID string, throw *Vec3) bool {
	rec, ok := h.players[playerID]
	if !ok || rec.HeldBy == "" || rec.HeldBy != holderID {
		return false
	}

	var throwVel *mgl64.Vec3
	if throw != nil {
		safety := h.cfg.Physics.Safety
		if v, ok := sanitizeVelocity(throw.V(), safety.MaxLinearVelocity, safety.MinApplySpeed); ok {
			throwVel = &v
		}
	}

	rec.HeldBy = ""
	if obj, ok := h.objects.Get(PlayerBodyID(playerID)); ok {
		obj.HeldBy = ""
		obj.HandIndex = 0
	}

	h.source = &ragdollSource{kind: "throw", id: holderID, velocity: throwVel}
	rec.SM.TriggerRelease(throwVel)
	h.source = nil
	if rec.SM.State() == StateWalking {
		pos := rec.Body.Position()
		rec.Body.SetPosition(mgl64.Vec3{pos[0], 0, pos[2]})
	}
	h.startCooldown(PlayerBodyID(playerID), rec.Body.SetHandCollision)

	msg := PlayerReleaseMsg{PlayerID: playerID}
	if throwVel != nil {
		v := ToVec3(*throwVel)
		msg.ThrowVelocity = &v
	}
	h.send(playerID, Envelope{T: MsgPlayerRelease, Data: msg})
	h.track(EvtRelease, holderID, PlayerBodyID(playerID))
	h.log.Infow("player released", "player", playerID, "holder", holderID, "state", rec.SM.State())
	return true
}

// ReleaseAllHeldBy drops everything a departing peer holds, without
// throwing it.
func (h *Host) ReleaseAllHeldBy(peerID string) {
	for _, obj := range h.objects.HeldBy(peerID) {
		if obj.Kind == KindPlayer {
			pid, _ := playerIDFromObject(obj.ID)
			h.ReleasePlayer(peerID, pid, nil)
			continue
		}
		h.Release(peerID, ObjectReleaseMsg{ObjectID: obj.ID})
	}
}

// startCooldown turns hand collision off for a released body and back on
// after the release cooldown.
func (h *Host) startCooldown(bodyID string, setHandCollision func(bool)) {
	setHandCollision(false)
	h.scheduler.After(cooldownKey(bodyID), h.cfg.Net.ReleaseCooldown, func() {
		setHandCollision(true)
	})
}
