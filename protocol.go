package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Lobby messages, client -> server
const (
	MsgCreate = "create" // create room
	MsgJoin   = "join"
	MsgLeave  = "leave"
	MsgList   = "list"  // list rooms
	MsgCheck  = "check" // check if room exists
)

// Lobby messages, server -> client
const (
	MsgCreated = "created"
	MsgJoined  = "joined"
	MsgRooms   = "rooms"
	MsgChecked = "checked"
	MsgError   = "error"
)

// Room messages
const (
	MsgPlayerJoin       = "player_join"
	MsgPlayerLeave      = "player_leave"
	MsgPlayerState      = "player_state"
	MsgVRHandTracking   = "vr_hand_tracking"
	MsgVRHeadTracking   = "vr_head_tracking"
	MsgGrabRequest      = "grab_request"
	MsgVRGrabRequest    = "vr_grab_request"
	MsgGrabResponse     = "grab_response"
	MsgObjectRelease    = "object_release"
	MsgObjectUpdate     = "object_update"
	MsgPlayerPickup     = "player_pickup"
	MsgPlayerRelease    = "player_release"
	MsgPlayerPosition   = "player_position"
	MsgRagdollTriggered = "ragdoll_triggered"
	MsgRagdollRecovery  = "ragdoll_recovery"
	MsgRecoveryComplete = "recovery_complete"
	MsgWorldState       = "world_state" // sent as a binary msgpack frame
)

// HostPeerID names the host in player_leave when a room closes
const HostPeerID = "host"

// ErrUnknownMessage is returned for envelope types the room does not handle
var ErrUnknownMessage = errors.New("unknown message type")

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages — json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// PeerRole is what a connection does in a room
type PeerRole string

const (
	RoleVR        PeerRole = "vr"
	RolePC        PeerRole = "pc"
	RoleSpectator PeerRole = "spectator"
)

// ParseRole maps a wire role, defaulting to pc
func ParseRole(s string) PeerRole {
	switch PeerRole(s) {
	case RoleVR, RoleSpectator:
		return PeerRole(s)
	}
	return RolePC
}

// CreateMsg asks for a new room
type CreateMsg struct {
	Name     string `json:"name"`
	RoomName string `json:"rname"`
	Password string `json:"password,omitempty"`
}

// CreatedMsg answers create. The VR ticket claims the room's VR slot; the
// host token authorises the room's QR code.
type CreatedMsg struct {
	SID       string `json:"sid"`
	VRTicket  string `json:"vrTicket"`
	HostToken string `json:"hostToken"`
}

// JoinMsg asks to enter a room
type JoinMsg struct {
	Name      string `json:"name"`
	SessionID string `json:"sid"`
	Role      string `json:"role"`
	Ticket    string `json:"ticket,omitempty"`
	Password  string `json:"password,omitempty"`
}

// JoinedMsg confirms a join and tells the peer its id
type JoinedMsg struct {
	SID  string   `json:"sid"`
	ID   string   `json:"id"`
	Role PeerRole `json:"role"`
}

// CheckMsg asks whether a room exists
type CheckMsg struct {
	SID string `json:"sid"`
}

// CheckedMsg answers check
type CheckedMsg struct {
	SID         string `json:"sid"`
	Exists      bool   `json:"exists"`
	Name        string `json:"name,omitempty"`
	Players     int    `json:"players"`
	Locked      bool   `json:"locked"`
	VRConnected bool   `json:"vr"`
}

// RoomInfo is one entry of the room list
type RoomInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
	Locked  bool   `json:"locked"`
}

// ErrorMsg carries a human-readable failure
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// Message is a decoded room message. The set of implementations is closed;
// the host switches over them exhaustively.
type Message interface {
	messageType() string
}

// PlayerStateMsg is a PC player's own avatar pose
type PlayerStateMsg struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// HandFrame is one tracked hand: JointCount joint positions, nil when a
// joint is not tracked.
type HandFrame struct {
	Joints   []*Vec3 `json:"joints"`
	Pinching bool    `json:"pinching,omitempty"`
}

// HandTrackingMsg carries both hands; a missing hand means tracking is lost
type HandTrackingMsg struct {
	Left  *HandFrame `json:"left,omitempty"`
	Right *HandFrame `json:"right,omitempty"`
}

// HeadTrackingMsg is the headset pose
type HeadTrackingMsg struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// GrabRequestMsg asks to take ownership of an object
type GrabRequestMsg struct {
	ObjectID  string `json:"objectId"`
	HandIndex int    `json:"handIndex"`
}

// VRGrabRequestMsg is a grab request from the headset's hands
type VRGrabRequestMsg struct {
	GrabRequestMsg
}

// ObjectReleaseMsg gives ownership back, optionally throwing the object
type ObjectReleaseMsg struct {
	ObjectID        string `json:"objectId"`
	Position        *Vec3  `json:"position,omitempty"`
	Rotation        *Quat  `json:"rotation,omitempty"`
	Velocity        *Vec3  `json:"velocity,omitempty"`
	AngularVelocity *Vec3  `json:"angularVelocity,omitempty"`
}

// ObjectUpdateMsg moves an object the sender holds
type ObjectUpdateMsg struct {
	ObjectID string `json:"objectId"`
	Position Vec3   `json:"position"`
	Rotation Quat   `json:"rotation"`
}

// RecoveryCompleteMsg reports the client finished the get-up animation
type RecoveryCompleteMsg struct{}

func (PlayerStateMsg) messageType() string      { return MsgPlayerState }
func (HandTrackingMsg) messageType() string     { return MsgVRHandTracking }
func (HeadTrackingMsg) messageType() string     { return MsgVRHeadTracking }
func (GrabRequestMsg) messageType() string      { return MsgGrabRequest }
func (VRGrabRequestMsg) messageType() string    { return MsgVRGrabRequest }
func (ObjectReleaseMsg) messageType() string    { return MsgObjectRelease }
func (ObjectUpdateMsg) messageType() string     { return MsgObjectUpdate }
func (RecoveryCompleteMsg) messageType() string { return MsgRecoveryComplete }

// DecodeMessage turns an envelope into a room message
func DecodeMessage(env InEnvelope) (Message, error) {
	var (
		msg Message
		err error
	)
	switch env.T {
	case MsgPlayerState:
		var m PlayerStateMsg
		err = decodeData(env.D, &m)
		msg = m
	case MsgVRHandTracking:
		var m HandTrackingMsg
		err = decodeData(env.D, &m)
		msg = m
	case MsgVRHeadTracking:
		var m HeadTrackingMsg
		err = decodeData(env.D, &m)
		msg = m
	case MsgGrabRequest:
		var m GrabRequestMsg
		err = decodeData(env.D, &m)
		msg = m
	case MsgVRGrabRequest:
		var m GrabRequestMsg
		err = decodeData(env.D, &m)
		msg = VRGrabRequestMsg{m}
	case MsgObjectRelease:
		var m ObjectReleaseMsg
		err = decodeData(env.D, &m)
		msg = m
	case MsgObjectUpdate:
		var m ObjectUpdateMsg
		err = decodeData(env.D, &m)
		msg = m
	case MsgRecoveryComplete:
		msg = RecoveryCompleteMsg{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, env.T)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.T, err)
	}
	return msg, nil
}

func decodeData(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// PlayerJoinMsg announces a peer
type PlayerJoinMsg struct {
	PlayerID string   `json:"playerId"`
	Name     string   `json:"name"`
	Role     PeerRole `json:"role"`
}

// PlayerLeaveMsg announces a departed peer
type PlayerLeaveMsg struct {
	PlayerID string `json:"playerId"`
}

// GrabResponseMsg answers a grab request
type GrabResponseMsg struct {
	ObjectID  string `json:"objectId"`
	Granted   bool   `json:"granted"`
	HandIndex int    `json:"handIndex"`
}

// PlayerPickupMsg tells a player they were picked up
type PlayerPickupMsg struct {
	PlayerID string `json:"playerId"`
	HolderID string `json:"holderId"`
}

// PlayerReleaseMsg tells a player they were put down or thrown
type PlayerReleaseMsg struct {
	PlayerID      string `json:"playerId"`
	ThrowVelocity *Vec3  `json:"throwVelocity,omitempty"`
}

// PlayerPositionMsg moves a held player
type PlayerPositionMsg struct {
	PlayerID string `json:"playerId"`
	Position Vec3   `json:"position"`
	Rotation Quat   `json:"rotation"`
}

// RagdollTriggeredMsg announces a player went ragdoll
type RagdollTriggeredMsg struct {
	PlayerID   string `json:"playerId"`
	Impulse    Vec3   `json:"impulse"`
	Velocity   *Vec3  `json:"velocity,omitempty"`
	SourceType string `json:"sourceType,omitempty"`
	SourceID   string `json:"sourceId,omitempty"`
}

// RagdollRecoveryMsg announces a player started getting up
type RagdollRecoveryMsg struct {
	PlayerID string `json:"playerId"`
	Position Vec3   `json:"position"`
}

// PlayerInfo is a player's entry in a world state
type PlayerInfo struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Role     PeerRole    `json:"role"`
	Position Vec3        `json:"position"`
	Rotation Quat        `json:"rotation"`
	State    PlayerState `json:"state"`
	HeldBy   string      `json:"heldBy,omitempty"`
}

// ObjectInfo is an object's entry in a world state
type ObjectInfo struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Position Vec3   `json:"position"`
	Rotation Quat   `json:"rotation"`
	HeldBy   string `json:"heldBy,omitempty"`
}

// PlayerPhysicsInfo is the simulated motion of an avatar
type PlayerPhysicsInfo struct {
	ID              string      `json:"id"`
	State           PlayerState `json:"state"`
	Position        Vec3        `json:"position"`
	Rotation        Quat        `json:"rotation"`
	Velocity        Vec3        `json:"velocity"`
	AngularVelocity Vec3        `json:"angularVelocity"`
}

// Transform is a position and rotation
type Transform struct {
	Position Vec3 `json:"position"`
	Rotation Quat `json:"rotation"`
}

// WorldState is the periodic authoritative snapshot. Delta states carry
// only entities that changed; full states carry everything.
type WorldState struct {
	Timestamp       int64               `json:"timestamp"`
	Tick            uint64              `json:"tick"`
	Players         []PlayerInfo        `json:"players"`
	Objects         []ObjectInfo        `json:"objects"`
	VRHead          *HeadTrackingMsg    `json:"vrHead,omitempty"`
	VRHands         *HandTrackingMsg    `json:"vrHands,omitempty"`
	PlayerPhysics   []PlayerPhysicsInfo `json:"playerPhysics"`
	CameraTransform *Transform          `json:"cameraTransform,omitempty"`
	IsFullState     bool                `json:"isFullState"`
}

// EncodeWorldState packs a world state into a msgpack frame, keyed by the
// same names as the JSON form.
func EncodeWorldState(ws *WorldState) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(ws); err != nil {
		return nil, fmt.Errorf("encode world state: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWorldState unpacks a msgpack world state frame
func DecodeWorldState(data []byte) (*WorldState, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	var ws WorldState
	if err := dec.Decode(&ws); err != nil {
		return nil, fmt.Errorf("decode world state: %w", err)
	}
	return &ws, nil
}
