package main

import (
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"
)

// PlayerState is the logical state of an avatar
type PlayerState string

const (
	StateWalking    PlayerState = "walking"
	StateHeld       PlayerState = "held"
	StateRagdoll    PlayerState = "ragdoll"
	StateRecovering PlayerState = "recovering"
)

var allowedTransitions = map[PlayerState][]PlayerState{
	StateWalking:    {StateHeld, StateRagdoll},
	StateHeld:       {StateWalking, StateRagdoll},
	StateRagdoll:    {StateRecovering},
	StateRecovering: {StateWalking, StateRagdoll},
}

// RagdollData optionally carries the motion to apply when entering ragdoll
type RagdollData struct {
	Impulse  *mgl64.Vec3
	Velocity *mgl64.Vec3
}

// StateChange is reported to listeners after every transition
type StateChange struct {
	PlayerID string
	From, To PlayerState
	Data     RagdollData
}

// ragdollBody is the part of the avatar body the state machine drives
type ragdollBody interface {
	SetMode(BodyMode)
	ApplyImpulse(mgl64.Vec3)
	SetVelocity(mgl64.Vec3)
	Speed() float64
	Position() mgl64.Vec3
	SetPosition(mgl64.Vec3)
	ResetRotation()
}

// PlayerStateMachine enforces the avatar state transitions and switches
// the body between animation-driven and simulated motion.
type PlayerStateMachine struct {
	playerID    string
	body        ragdollBody
	anim        Animator
	forces      ForceConfig
	playerMass  float64
	virtualMass float64
	log         *zap.SugaredLogger

	state       PlayerState
	ragdollTime float64
	stillFrames int
	impulse     mgl64.Vec3
	listeners   []func(StateChange)
}

// NewPlayerStateMachine creates a machine in Walking
func NewPlayerStateMachine(playerID string, body ragdollBody, anim Animator, cfg PhysicsConfig, log *zap.SugaredLogger) *PlayerStateMachine {
	if log == nil {
		log = nopLogger()
	}
	return &PlayerStateMachine{
		playerID:    playerID,
		body:        body,
		anim:        anim,
		forces:      cfg.Forces,
		playerMass:  cfg.Player.Mass,
		virtualMass: cfg.Hand.VirtualMass,
		log:         log,
		state:       StateWalking,
	}
}

// State returns the current state
func (m *PlayerStateMachine) State() PlayerState { return m.state }

// RagdollImpulse returns the impulse that started the current ragdoll
func (m *PlayerStateMachine) RagdollImpulse() mgl64.Vec3 { return m.impulse }

// OnStateChange subscribes fn to transitions
func (m *PlayerStateMachine) OnStateChange(fn func(StateChange)) {
	m.listeners = append(m.listeners, fn)
}

// CanTransitionTo reports whether to is reachable from the current state
func (m *PlayerStateMachine) CanTransitionTo(to PlayerState) bool {
	for _, s := range allowedTransitions[m.state] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves to the given state. Disallowed transitions are logged
// and leave the state untouched.
func (m *PlayerStateMachine) Transition(to PlayerState, data RagdollData) bool {
	if !m.CanTransitionTo(to) {
		m.log.Warnw("invalid state transition", "player", m.playerID, "from", m.state, "to", to)
		return false
	}
	m.apply(to, data)
	return true
}

// ForceState moves to s regardless of the transition table. It is only used
// to put an avatar back on its feet after it left the play area.
func (m *PlayerStateMachine) ForceState(s PlayerState) {
	if s == m.state {
		return
	}
	m.apply(s, RagdollData{})
}

func (m *PlayerStateMachine) apply(to PlayerState, data RagdollData) {
	from := m.state
	m.exit(from)
	m.state = to
	m.enter(to, data)
	change := StateChange{PlayerID: m.playerID, From: from, To: to, Data: data}
	for _, fn := range m.listeners {
		fn(change)
	}
}

func (m *PlayerStateMachine) exit(s PlayerState) {
	if s == StateRagdoll {
		m.impulse = zeroVec
	}
}

func (m *PlayerStateMachine) enter(s PlayerState, data RagdollData) {
	switch s {
	case StateRagdoll:
		m.ragdollTime = 0
		m.stillFrames = 0
		m.body.SetMode(ModeDynamic)
		if data.Velocity != nil {
			m.body.SetVelocity(*data.Velocity)
		}
		if data.Impulse != nil {
			m.impulse = *data.Impulse
			m.body.ApplyImpulse(*data.Impulse)
		}
	case StateRecovering:
		m.body.SetMode(ModeKinematic)
		pos := m.body.Position()
		m.body.SetPosition(mgl64.Vec3{pos[0], 0, pos[2]})
		m.body.ResetRotation()
		if m.anim != nil {
			m.anim.Play(ClipGetup)
		}
	case StateWalking:
		m.body.SetMode(ModeKinematic)
		if m.anim != nil {
			m.anim.Play(ClipIdle)
		}
	case StateHeld:
		m.body.SetMode(ModeKinematic)
	}
}

// Update advances ragdoll settling and recovery completion
func (m *PlayerStateMachine) Update(dt float64) {
	switch m.state {
	case StateRagdoll:
		m.updateRagdoll(dt)
	case StateRecovering:
		if m.anim == nil || m.anim.IsComplete(ClipGetup) {
			m.Transition(StateWalking, RagdollData{})
		}
	}
}

// updateRagdoll waits out the minimum ragdoll time, then counts
// consecutive slow frames until recovery starts.
func (m *PlayerStateMachine) updateRagdoll(dt float64) {
	m.ragdollTime += dt
	if m.ragdollTime < m.forces.MinRagdollTime {
		return
	}
	if m.body.Speed() < m.forces.RecoveryVelocity {
		m.stillFrames++
	} else {
		m.stillFrames = 0
	}
	if m.stillFrames >= m.forces.RecoveryFrames {
		m.Transition(StateRecovering, RagdollData{})
	}
}

// TriggerRagdoll enters Ragdoll with an optional impulse and velocity. Only
// a walking or held player can be knocked over.
func (m *PlayerStateMachine) TriggerRagdoll(impulse, velocity *mgl64.Vec3) bool {
	if m.state != StateWalking && m.state != StateHeld {
		return false
	}
	return m.Transition(StateRagdoll, RagdollData{Impulse: impulse, Velocity: velocity})
}

// TriggerHeld enters Held
func (m *PlayerStateMachine) TriggerHeld() bool {
	return m.Transition(StateHeld, RagdollData{})
}

// TriggerRelease leaves Held. A throw hard enough to exceed the ragdoll
// threshold sends the avatar straight into Ragdoll; otherwise it walks.
func (m *PlayerStateMachine) TriggerRelease(throw *mgl64.Vec3) bool {
	if m.state != StateHeld {
		m.log.Warnw("release while not held", "player", m.playerID, "state", m.state)
		return false
	}
	if throw != nil && throw.Len()*m.virtualMass >= m.forces.RagdollThreshold {
		impulse := throw.Mul(m.playerMass * m.forces.ImpulseMultiplier)
		impulse[1] += impulse.Len() * m.forces.UpwardImpulseBoost
		return m.Transition(StateRagdoll, RagdollData{Impulse: &impulse})
	}
	return m.Transition(StateWalking, RagdollData{})
}
