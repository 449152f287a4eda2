package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Collision groups. Bodies only collide when each one's group is in the
// other's mask.
const (
	GroupPlayer      uint32 = 1
	GroupHand        uint32 = 2
	GroupEnvironment uint32 = 4
)

// Config is the full server configuration
type Config struct {
	Physics PhysicsConfig `yaml:"physics"`
	Net     NetConfig     `yaml:"net"`
	Auth    AuthConfig    `yaml:"auth"`
}

// PhysicsConfig holds the tuned simulation constants
type PhysicsConfig struct {
	Gravity       float64 `yaml:"gravity"`
	FixedTimeStep float64 `yaml:"fixedTimeStep"`
	MaxSubSteps   int     `yaml:"maxSubSteps"`

	Player    PlayerBodyConfig `yaml:"player"`
	Hand      HandConfig       `yaml:"hand"`
	Block     BlockConfig      `yaml:"block"`
	Forces    ForceConfig      `yaml:"forces"`
	Materials MaterialsConfig  `yaml:"materials"`
	Safety    SafetyConfig     `yaml:"safety"`
}

// PlayerBodyConfig describes the avatar capsule
type PlayerBodyConfig struct {
	Mass           float64 `yaml:"mass"`
	Height         float64 `yaml:"height"`
	Radius         float64 `yaml:"radius"`
	LinearDamping  float64 `yaml:"linearDamping"`
	AngularDamping float64 `yaml:"angularDamping"`
}

// HandConfig describes the fingertip colliders of a tracked hand
type HandConfig struct {
	FingertipRadius       float64 `yaml:"fingertipRadius"`
	VirtualMass           float64 `yaml:"virtualMass"`
	VelocityHistoryLength int     `yaml:"velocityHistoryLength"`
	NoiseFloor            float64 `yaml:"noiseFloor"`
	PinchDistance         float64 `yaml:"pinchDistance"`
	ParkY                 float64 `yaml:"parkY"`
	MinBlockHitSpeed      float64 `yaml:"minBlockHitSpeed"`
	MaxHandSpeed          float64 `yaml:"maxHandSpeed"`
	TorqueScale           float64 `yaml:"torqueScale"`
	TrackingTimeout       float64 `yaml:"trackingTimeout"`
}

// BlockConfig describes the grabbable test blocks
type BlockConfig struct {
	Mass               float64 `yaml:"mass"`
	Width              float64 `yaml:"width"`
	Height             float64 `yaml:"height"`
	Depth              float64 `yaml:"depth"`
	LinearDamping      float64 `yaml:"linearDamping"`
	AngularDamping     float64 `yaml:"angularDamping"`
	StableThreshold    float64 `yaml:"stableThreshold"`
	StableTimeRequired float64 `yaml:"stableTimeRequired"`
	TiltThresholdDeg   float64 `yaml:"tiltThresholdDeg"`
	RightingDuration   float64 `yaml:"rightingDuration"`
}

// ForceConfig holds ragdoll thresholds and impulse shaping
type ForceConfig struct {
	RagdollThreshold       float64 `yaml:"ragdollThreshold"`
	ChainReactionThreshold float64 `yaml:"chainReactionThreshold"`
	RecoveryVelocity       float64 `yaml:"recoveryVelocity"`
	RecoveryFrames         int     `yaml:"recoveryFrames"`
	MinRagdollTime         float64 `yaml:"minRagdollTime"`
	ImpulseMultiplier      float64 `yaml:"impulseMultiplier"`
	UpwardImpulseBoost     float64 `yaml:"upwardImpulseBoost"`
	GetupDuration          float64 `yaml:"getupDuration"`
}

// ContactMaterial is the friction/restitution pair used for a material pair
type ContactMaterial struct {
	Friction    float64 `yaml:"friction"`
	Restitution float64 `yaml:"restitution"`
}

// MaterialsConfig lists the contact materials between body materials
type MaterialsConfig struct {
	PlayerHand   ContactMaterial `yaml:"playerHand"`
	PlayerGround ContactMaterial `yaml:"playerGround"`
	PlayerPlayer ContactMaterial `yaml:"playerPlayer"`
	Default      ContactMaterial `yaml:"default"`
}

// SafetyConfig bounds velocities written into the simulation
type SafetyConfig struct {
	MaxLinearVelocity  float64 `yaml:"maxLinearVelocity"`
	MaxAngularVelocity float64 `yaml:"maxAngularVelocity"`
	MinApplySpeed      float64 `yaml:"minApplySpeed"`
}

// NetConfig holds tick rates and replication tuning
type NetConfig struct {
	TickRate          int           `yaml:"tickRate"`
	BroadcastRate     int           `yaml:"broadcastRate"`
	FullStateEvery    int           `yaml:"fullStateEvery"`
	MovementThreshold float64       `yaml:"movementThreshold"`
	ReleaseCooldown   time.Duration `yaml:"releaseCooldown"`
	MaxPlayersPerRoom int           `yaml:"maxPlayersPerRoom"`
	MaxRooms          int           `yaml:"maxRooms"`
	RoomIdleTimeout   time.Duration `yaml:"roomIdleTimeout"`
	MessagesPerSecond float64       `yaml:"messagesPerSecond"`
	MessageBurst      int           `yaml:"messageBurst"`
}

// AuthConfig controls join tickets and room passwords
type AuthConfig struct {
	TicketTTL  time.Duration `yaml:"ticketTTL"`
	BcryptCost int           `yaml:"bcryptCost"`
}

// DefaultConfig returns the tuned defaults
func DefaultConfig() Config {
	return Config{
		Physics: PhysicsConfig{
			Gravity:       -9.82,
			FixedTimeStep: 1.0 / 60.0,
			MaxSubSteps:   3,
			Player: PlayerBodyConfig{
				Mass:           0.5,
				Height:         0.10,
				Radius:         0.025,
				LinearDamping:  0.4,
				AngularDamping: 0.6,
			},
			Hand: HandConfig{
				FingertipRadius:       0.012,
				VirtualMass:           5.0,
				VelocityHistoryLength: 5,
				NoiseFloor:            0.01,
				PinchDistance:         0.03,
				ParkY:                 -100,
				MinBlockHitSpeed:      0.3,
				MaxHandSpeed:          20,
				TorqueScale:           0.5,
				TrackingTimeout:       0.5,
			},
			Block: BlockConfig{
				Mass:               0.2,
				Width:              0.05,
				Height:             0.10,
				Depth:              0.05,
				LinearDamping:      0.3,
				AngularDamping:     0.3,
				StableThreshold:    0.05,
				StableTimeRequired: 1.0,
				TiltThresholdDeg:   30,
				RightingDuration:   0.5,
			},
			Forces: ForceConfig{
				RagdollThreshold:       2.0,
				ChainReactionThreshold: 1.5,
				RecoveryVelocity:       0.05,
				RecoveryFrames:         30,
				MinRagdollTime:         0.5,
				ImpulseMultiplier:      0.8,
				UpwardImpulseBoost:     0.3,
				GetupDuration:          1.0,
			},
			Materials: MaterialsConfig{
				PlayerHand:   ContactMaterial{Friction: 0.5, Restitution: 0.1},
				PlayerGround: ContactMaterial{Friction: 0.6, Restitution: 0.2},
				PlayerPlayer: ContactMaterial{Friction: 0.4, Restitution: 0.3},
				Default:      ContactMaterial{Friction: 0.3, Restitution: 0.2},
			},
			Safety: SafetyConfig{
				MaxLinearVelocity:  20,
				MaxAngularVelocity: 50,
				MinApplySpeed:      0.1,
			},
		},
		Net: NetConfig{
			TickRate:          60,
			BroadcastRate:     20,
			FullStateEvery:    20,
			MovementThreshold: 0.001,
			ReleaseCooldown:   150 * time.Millisecond,
			MaxPlayersPerRoom: 16,
			MaxRooms:          100,
			RoomIdleTimeout:   30 * time.Second,
			MessagesPerSecond: 120,
			MessageBurst:      60,
		},
		Auth: AuthConfig{
			TicketTTL:  12 * time.Hour,
			BcryptCost: 10,
		},
	}
}

// LoadConfig overlays the YAML file at path onto the defaults. An empty
// path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the simulation cannot run with
func (c Config) Validate() error {
	var errs []error
	p := c.Physics
	if p.FixedTimeStep <= 0 {
		errs = append(errs, errors.New("physics.fixedTimeStep must be positive"))
	}
	if p.MaxSubSteps < 1 {
		errs = append(errs, errors.New("physics.maxSubSteps must be at least 1"))
	}
	if p.Player.Mass <= 0 || p.Block.Mass <= 0 {
		errs = append(errs, errors.New("body masses must be positive"))
	}
	if p.Player.Height <= 0 || p.Player.Radius <= 0 {
		errs = append(errs, errors.New("player dimensions must be positive"))
	}
	if p.Hand.VirtualMass <= 0 || p.Hand.VelocityHistoryLength < 1 {
		errs = append(errs, errors.New("hand virtualMass and velocityHistoryLength must be positive"))
	}
	if p.Hand.TrackingTimeout <= 0 {
		errs = append(errs, errors.New("physics.hand.trackingTimeout must be positive"))
	}
	if p.Forces.RagdollThreshold <= 0 || p.Forces.RecoveryFrames < 1 {
		errs = append(errs, errors.New("forces.ragdollThreshold and forces.recoveryFrames must be positive"))
	}
	if p.Safety.MaxLinearVelocity <= 0 || p.Safety.MaxAngularVelocity <= 0 {
		errs = append(errs, errors.New("safety limits must be positive"))
	}
	n := c.Net
	if n.TickRate <= 0 || n.BroadcastRate <= 0 || n.BroadcastRate > n.TickRate {
		errs = append(errs, errors.New("net.tickRate and net.broadcastRate must be positive with broadcastRate <= tickRate"))
	}
	if n.FullStateEvery < 1 {
		errs = append(errs, errors.New("net.fullStateEvery must be at least 1"))
	}
	return errors.Join(errs...)
}

// BroadcastEvery is the number of physics ticks between state broadcasts
func (n NetConfig) BroadcastEvery() int {
	return n.TickRate / n.BroadcastRate
}

// TickDuration is the wall-clock length of one physics tick
func (n NetConfig) TickDuration() time.Duration {
	return time.Second / time.Duration(n.TickRate)
}
