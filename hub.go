package main

import (
	"sync"

	"go.uber.org/zap"
)

const (
	maxConnsPerIP = 8
	maxTotalConns = 1000
)

// Hub manages all connected clients and routes them to rooms
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	stop       chan struct{}
	rooms      *RoomManager
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int

	cfg     Config
	auth    *Auth
	journal *Journal
	log     *zap.SugaredLogger
}

// NewHub creates a Hub. db may be nil, in which case nothing is journaled
// and ticket secrets last for the life of the process.
func NewHub(cfg Config, db *DB, log *zap.SugaredLogger) *Hub {
	if log == nil {
		log = nopLogger()
	}
	journal := NewJournal(db, log.Named("journal"))
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		stop:       make(chan struct{}),
		rooms:      NewRoomManager(cfg, journal, log),
		ipConns:    make(map[string]int),
		cfg:        cfg,
		auth:       NewAuth(db, cfg.Auth, log.Named("auth")),
		journal:    journal,
		log:        log,
	}
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events until Shutdown
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			// Transport loss is a departure
			client.leaveRoom()

		case <-h.stop:
			return
		}
	}
}

// Shutdown stops every room, the hub loop and the journal writer
func (h *Hub) Shutdown() {
	close(h.stop)
	h.rooms.Close()
	h.journal.Stop()
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
