package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	botSendInterval   = 33 * time.Millisecond // ~30 Hz, as headsets stream
	botGrabEvery      = 90                    // frames between grab/release
	handMoveThreshold = 0.002                 // 2mm
	handForceEvery    = 10
)

// BotConfig describes one scripted client
type BotConfig struct {
	URL       string
	Room      string
	Role      PeerRole
	Ticket    string
	Password  string
	Name      string
	Connector ConnectorConfig
}

// HandThrottle decides whether a hand frame is worth sending: a
// representative joint moved more than Threshold on some axis, a pinch
// changed, or ForceEvery frames passed without a send.
type HandThrottle struct {
	Threshold  float64
	ForceEvery int

	last    *HandTrackingMsg
	counter int
}

// ShouldSend reports whether m goes out, and if so remembers it
func (t *HandThrottle) ShouldSend(m *HandTrackingMsg) bool {
	t.counter++
	force := t.counter >= t.ForceEvery
	if force {
		t.counter = 0
	}
	if !force && t.last != nil && !handMoved(m.Left, t.last.Left, t.Threshold) && !handMoved(m.Right, t.last.Right, t.Threshold) {
		return false
	}
	t.last = copyHands(m)
	return true
}

func handMoved(cur, prev *HandFrame, threshold float64) bool {
	if cur == nil || prev == nil || len(cur.Joints) == 0 || len(prev.Joints) == 0 {
		return cur != prev
	}
	if cur.Pinching != prev.Pinching {
		return true
	}
	a, b := cur.Joints[0], prev.Joints[0]
	if a == nil || b == nil {
		return true
	}
	return math.Abs(a.X-b.X) > threshold || math.Abs(a.Y-b.Y) > threshold || math.Abs(a.Z-b.Z) > threshold
}

func copyHands(m *HandTrackingMsg) *HandTrackingMsg {
	cp := func(f *HandFrame) *HandFrame {
		if f == nil {
			return nil
		}
		out := &HandFrame{Pinching: f.Pinching, Joints: make([]*Vec3, len(f.Joints))}
		for i, j := range f.Joints {
			if j != nil {
				v := *j
				out.Joints[i] = &v
			}
		}
		return out
	}
	return &HandTrackingMsg{Left: cp(m.Left), Right: cp(m.Right)}
}

// syntheticHand lays out JointCount joints around a palm centre, fingers
// spread along x and joints along y
func syntheticHand(center mgl64.Vec3) *HandFrame {
	f := &HandFrame{Joints: make([]*Vec3, JointCount)}
	for i := 0; i < JointCount; i++ {
		finger, joint := i/5, i%5
		v := ToVec3(center.Add(mgl64.Vec3{float64(finger-2) * 0.035, float64(joint) * 0.012, 0}))
		f.Joints[i] = &v
	}
	return f
}

// Bot is a scripted client used for load and smoke tests. As vr it sweeps
// both hands through the blocks and periodically grabs one; as pc it walks
// in a circle.
type Bot struct {
	cfg     BotConfig
	log     *zap.SugaredLogger
	replica *Replica

	writeMu  sync.Mutex
	conn     *websocket.Conn
	throttle HandThrottle
	peerID   string
	joined   bool
	frames   int
	holding  string
}

// NewBot creates a bot
func NewBot(cfg BotConfig, log *zap.SugaredLogger) *Bot {
	if log == nil {
		log = nopLogger()
	}
	if cfg.Name == "" {
		cfg.Name = "bot-" + string(cfg.Role)
	}
	return &Bot{
		cfg:      cfg,
		log:      log,
		replica:  NewReplica(""),
		throttle: HandThrottle{Threshold: handMoveThreshold, ForceEvery: handForceEvery},
	}
}

// Replica exposes the bot's view of the room
func (b *Bot) Replica() *Replica { return b.replica }

// Run connects, joins and streams input until ctx ends or the connection
// drops
func (b *Bot) Run(ctx context.Context) error {
	conn, err := NewConnector(b.cfg.URL, b.cfg.Connector, nil, b.log).Connect(ctx)
	if err != nil {
		return err
	}
	b.conn = conn
	defer conn.Close()

	inbox := make(chan InEnvelope, 256)
	done := make(chan error, 1)
	go b.readLoop(inbox, done)

	if err := b.send(MsgJoin, JoinMsg{
		Name:      b.cfg.Name,
		SessionID: b.cfg.Room,
		Role:      string(b.cfg.Role),
		Ticket:    b.cfg.Ticket,
		Password:  b.cfg.Password,
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(botSendInterval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			b.send(MsgLeave, nil)
			return nil
		case err := <-done:
			return fmt.Errorf("connection closed: %w", err)
		case env := <-inbox:
			if err := b.handle(env); err != nil {
				return err
			}
		case now := <-ticker.C:
			if b.joined {
				b.step(now.Sub(start).Seconds())
			}
		}
	}
}

func (b *Bot) readLoop(inbox chan<- InEnvelope, done chan<- error) {
	for {
		msgType, payload, err := b.conn.ReadMessage()
		if err != nil {
			done <- err
			return
		}
		if msgType == websocket.BinaryMessage {
			ws, err := DecodeWorldState(payload)
			if err != nil {
				b.log.Warnw("bad world state", "error", err)
				continue
			}
			b.replica.ApplyWorldState(ws, time.Now())
			continue
		}
		var env InEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		b.replica.HandleEnvelope(env)
		select {
		case inbox <- env:
		default:
		}
	}
}

func (b *Bot) handle(env InEnvelope) error {
	switch env.T {
	case MsgJoined:
		var m JoinedMsg
		if err := json.Unmarshal(env.D, &m); err != nil {
			return err
		}
		b.peerID = m.ID
		b.joined = true
		b.replica.SetSelf(m.ID)
		b.log.Infow("bot joined", "room", m.SID, "id", m.ID, "role", m.Role)
	case MsgError:
		var m ErrorMsg
		json.Unmarshal(env.D, &m)
		if !b.joined {
			return errors.New("join refused: " + m.Msg)
		}
		b.log.Warnw("server error", "msg", m.Msg)
	case MsgGrabResponse:
		var m GrabResponseMsg
		if err := json.Unmarshal(env.D, &m); err == nil && m.Granted {
			b.holding = m.ObjectID
		}
	case MsgRagdollRecovery:
		var m RagdollRecoveryMsg
		if err := json.Unmarshal(env.D, &m); err == nil && m.PlayerID == b.peerID {
			b.send(MsgRecoveryComplete, nil)
		}
	}
	return nil
}

// step sends one frame of synthetic input at time t seconds
func (b *Bot) step(t float64) {
	b.frames++
	switch b.cfg.Role {
	case RoleVR:
		b.stepVR(t)
	case RolePC:
		b.stepPC(t)
	}
}

func (b *Bot) stepVR(t float64) {
	sway := 0.35 * math.Sin(t*1.5)
	hands := &HandTrackingMsg{
		Left:  syntheticHand(mgl64.Vec3{sway - 0.1, 0.04, -0.3}),
		Right: syntheticHand(mgl64.Vec3{-sway + 0.1, 0.04, -0.3}),
	}
	if b.throttle.ShouldSend(hands) {
		b.send(MsgVRHandTracking, hands)
	}
	b.send(MsgVRHeadTracking, HeadTrackingMsg{
		Position: Vec3{Y: 1.6},
		Rotation: ToQuat(mgl64.QuatRotate(sway, worldUp)),
	})

	if b.frames%botGrabEvery != 0 {
		return
	}
	if b.holding != "" {
		id := b.holding
		b.holding = ""
		b.replica.Release(id)
		b.send(MsgObjectRelease, ObjectReleaseMsg{
			ObjectID: id,
			Velocity: &Vec3{Y: 1.5, Z: 0.5},
		})
		return
	}
	free := b.replica.FreeObjects(KindBlock)
	if len(free) == 0 {
		return
	}
	target := free[b.frames/botGrabEvery%len(free)]
	b.replica.RequestGrab(target, 0)
	b.send(MsgVRGrabRequest, GrabRequestMsg{ObjectID: target, HandIndex: 0})
}

func (b *Bot) stepPC(t float64) {
	if b.replica.Self().Authoritative {
		return
	}
	const radius = 0.3
	pos := Vec3{X: radius * math.Cos(t*0.5), Z: radius * math.Sin(t*0.5)}
	b.send(MsgPlayerState, PlayerStateMsg{
		Position: pos,
		Rotation: ToQuat(mgl64.QuatRotate(-t*0.5, worldUp)),
	})
}

func (b *Bot) send(typ string, data interface{}) error {
	raw, err := json.Marshal(Envelope{T: typ, Data: data})
	if err != nil {
		return err
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return b.conn.WriteMessage(websocket.TextMessage, raw)
}
