package main

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16384 // two tracked hands fit comfortably
	sendBufSize    = 256
	maxNameLen     = 16
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
	limiter    *rate.Limiter

	mu     sync.Mutex
	room   *Room
	peerID string
	role   PeerRole
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		remoteAddr: remoteAddr,
		limiter:    rate.NewLimiter(rate.Limit(hub.cfg.Net.MessagesPerSecond), hub.cfg.Net.MessageBurst),
	}
}

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warnw("ws error", "addr", c.remoteAddr, "error", err)
			}
			break
		}

		if !c.limiter.Allow() {
			c.hub.log.Warnw("rate limit exceeded, disconnecting", "addr", c.remoteAddr)
			break
		}
		c.handleMessage(message)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// Check for binary marker (0xFF prefix from SendBinary)
			var err error
			if len(message) > 0 && message[0] == 0xFF {
				err = c.conn.WriteMessage(websocket.BinaryMessage, message[1:])
			} else {
				err = c.conn.WriteMessage(websocket.TextMessage, message)
			}
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendJSON sends a JSON message to the client
func (c *Client) SendJSON(msg interface{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Errorw("marshal error", "error", err)
		return
	}
	c.SendRaw(data)
}

// SendRaw sends pre-marshaled bytes as a text message to the client
func (c *Client) SendRaw(data []byte) {
	defer func() { recover() }() // send may already be closed
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// SendBinary sends pre-marshaled bytes as a binary WebSocket message
// Prefixes with 0xFF marker byte so WritePump can distinguish from text
func (c *Client) SendBinary(data []byte) {
	defer func() { recover() }()
	msg := make([]byte, len(data)+1)
	msg[0] = 0xFF // binary marker
	copy(msg[1:], data)
	select {
	case c.send <- msg:
	default:
	}
}

func (c *Client) sendError(msg string) {
	c.SendJSON(Envelope{T: MsgError, Data: ErrorMsg{Msg: msg}})
}

// handleMessage routes incoming messages (single-pass decode via InEnvelope)
func (c *Client) handleMessage(raw []byte) {
	var env InEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.hub.log.Debugw("unmarshal error", "addr", c.remoteAddr, "error", err)
		return
	}

	switch env.T {
	case MsgList:
		c.handleList()
	case MsgCreate:
		c.handleCreate(env.D)
	case MsgJoin:
		c.handleJoin(env.D)
	case MsgLeave:
		c.leaveRoom()
	case MsgCheck:
		c.handleCheck(env.D)
	default:
		c.handleRoomMessage(env)
	}
}

func (c *Client) handleList() {
	c.SendJSON(Envelope{T: MsgRooms, Data: c.hub.rooms.ListRooms()})
}

func (c *Client) handleCreate(data json.RawMessage) {
	var msg CreateMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if !c.hub.auth.Allow(c.remoteAddr) {
		c.sendError(ErrRateLimited.Error())
		return
	}

	hash, err := c.hub.auth.HashPassword(msg.Password)
	if err != nil {
		c.hub.log.Errorw("hash room password", "error", err)
		c.sendError("internal error")
		return
	}
	room, err := c.hub.rooms.CreateRoom(msg.RoomName, hash)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	vrTicket, err := c.hub.auth.IssueTicket(room.ID, string(RoleVR))
	if err != nil {
		c.hub.log.Errorw("issue vr ticket", "room", room.ID, "error", err)
		c.sendError("internal error")
		return
	}
	hostToken, err := c.hub.auth.IssueTicket(room.ID, RoleHost)
	if err != nil {
		c.hub.log.Errorw("issue host token", "room", room.ID, "error", err)
		c.sendError("internal error")
		return
	}
	c.SendJSON(Envelope{T: MsgCreated, Data: CreatedMsg{SID: room.ID, VRTicket: vrTicket, HostToken: hostToken}})
}

func (c *Client) handleJoin(data json.RawMessage) {
	var msg JoinMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if !c.hub.auth.Allow(c.remoteAddr) {
		c.sendError(ErrRateLimited.Error())
		return
	}
	name := truncateName(msg.Name, maxNameLen, GenerateGuestName())
	role := ParseRole(msg.Role)

	room, err := c.hub.rooms.GetRoom(msg.SessionID)
	if err != nil {
		c.sendError(err.Error())
		return
	}

	ticketRole := ""
	if msg.Ticket != "" {
		ticketRole, err = c.hub.auth.ValidateTicket(msg.Ticket, room.ID)
		if err != nil {
			c.hub.log.Infow("rejected ticket", "room", room.ID, "addr", c.remoteAddr, "error", err)
			c.sendError(ErrInvalidTicket.Error())
			return
		}
	}
	if role == RoleVR && ticketRole != string(RoleVR) {
		c.sendError("a VR ticket is required to join as vr")
		return
	}
	if ticketRole == "" {
		if err := c.hub.auth.CheckPassword(room.PasswordHash, msg.Password); err != nil {
			c.sendError(err.Error())
			return
		}
	}

	// Switching rooms leaves the old one first
	c.leaveRoom()

	peerID := GenerateID(4)
	if err := room.Join(peerID, name, role, c); err != nil {
		c.sendError(joinErrorText(err))
		return
	}
	c.mu.Lock()
	c.room = room
	c.peerID = peerID
	c.role = role
	c.mu.Unlock()
}

func joinErrorText(err error) string {
	switch {
	case errors.Is(err, ErrVRSlotTaken):
		return "a VR client is already connected"
	case errors.Is(err, ErrRoomFull):
		return "room full"
	case errors.Is(err, ErrRoomClosed):
		return ErrRoomNotFound.Error()
	}
	return err.Error()
}

func (c *Client) handleCheck(data json.RawMessage) {
	var msg CheckMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	room, err := c.hub.rooms.GetRoom(msg.SID)
	if err != nil {
		c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{SID: msg.SID, Exists: false}})
		return
	}
	info := room.Info()
	c.SendJSON(Envelope{T: MsgChecked, Data: CheckedMsg{
		SID:         msg.SID,
		Exists:      true,
		Name:        room.Name,
		Players:     info.Peers,
		Locked:      room.Locked(),
		VRConnected: info.VRConnected,
	}})
}

func (c *Client) handleRoomMessage(env InEnvelope) {
	c.mu.Lock()
	room, peerID := c.room, c.peerID
	c.mu.Unlock()
	if room == nil {
		return
	}
	msg, err := DecodeMessage(env)
	if err != nil {
		c.hub.log.Debugw("dropping message", "peer", peerID, "error", err)
		return
	}
	room.Enqueue(peerID, msg)
}

// leaveRoom detaches the client from its room, if any
func (c *Client) leaveRoom() {
	c.mu.Lock()
	room, peerID := c.room, c.peerID
	c.room = nil
	c.peerID = ""
	c.role = ""
	c.mu.Unlock()
	if room != nil {
		room.Leave(peerID)
	}
}
