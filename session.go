package main

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxRoomNameLen = 30

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrTooManyRooms = errors.New("too many active rooms")
)

// RoomManager handles creation, lookup and idle cleanup of rooms
type RoomManager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	cfg     Config
	journal *Journal
	log     *zap.SugaredLogger
	stop    chan struct{}
	once    sync.Once
}

// NewRoomManager creates a RoomManager
func NewRoomManager(cfg Config, journal *Journal, log *zap.SugaredLogger) *RoomManager {
	if log == nil {
		log = nopLogger()
	}
	return &RoomManager{
		rooms:   make(map[string]*Room),
		cfg:     cfg,
		journal: journal,
		log:     log,
		stop:    make(chan struct{}),
	}
}

// CreateRoom creates and starts a room. passwordHash may be empty.
func (rm *RoomManager) CreateRoom(name, passwordHash string) (*Room, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if len(rm.rooms) >= rm.cfg.Net.MaxRooms {
		return nil, ErrTooManyRooms
	}
	name = truncateName(name, maxRoomNameLen, "Sandbox")

	id := GenerateUUID()
	var events EventSink
	if rm.journal != nil {
		events = rm.journal
	}
	room := NewRoom(id, name, rm.cfg, events, rm.log.Named("room").With("room", id))
	room.PasswordHash = passwordHash
	rm.rooms[id] = room
	go room.Run()

	rm.updateMetrics()
	if rm.journal != nil {
		rm.journal.Track(EvtRoomCreated, id, "", name)
	}
	rm.log.Infow("room created", "room", id, "name", name, "locked", passwordHash != "")
	return room, nil
}

// GetRoom returns a room by ID
func (rm *RoomManager) GetRoom(id string) (*Room, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	room, ok := rm.rooms[id]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

// RemoveRoom stops a room and forgets it
func (rm *RoomManager) RemoveRoom(id string) {
	rm.mu.Lock()
	room, ok := rm.rooms[id]
	delete(rm.rooms, id)
	rm.updateMetrics()
	rm.mu.Unlock()
	if !ok {
		return
	}
	room.Stop()
	rm.log.Infow("room removed", "room", id)
}

// ListRooms returns info about all active rooms, oldest first
func (rm *RoomManager) ListRooms() []RoomInfo {
	rm.mu.RLock()
	rooms := make([]*Room, 0, len(rm.rooms))
	for _, r := range rm.rooms {
		rooms = append(rooms, r)
	}
	rm.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Created.Before(rooms[j].Created) })
	list := make([]RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		list = append(list, RoomInfo{
			ID:      r.ID,
			Name:    r.Name,
			Players: r.Info().Peers,
			Locked:  r.Locked(),
		})
	}
	return list
}

// RoomCount returns the number of active rooms
func (rm *RoomManager) RoomCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.rooms)
}

// RunCleanup removes rooms that stayed empty for RoomIdleTimeout. It returns
// when Close is called.
func (rm *RoomManager) RunCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			rm.cleanup(now)
		case <-rm.stop:
			return
		}
	}
}

func (rm *RoomManager) cleanup(now time.Time) {
	rm.mu.RLock()
	var idle []string
	for id, r := range rm.rooms {
		if r.IdleFor(now) >= rm.cfg.Net.RoomIdleTimeout {
			idle = append(idle, id)
		}
	}
	rm.mu.RUnlock()

	for _, id := range idle {
		rm.log.Infow("removing idle room", "room", id)
		rm.RemoveRoom(id)
	}
}

// Close stops the cleanup loop and every room
func (rm *RoomManager) Close() {
	rm.once.Do(func() { close(rm.stop) })
	rm.mu.Lock()
	rooms := rm.rooms
	rm.rooms = make(map[string]*Room)
	rm.updateMetrics()
	rm.mu.Unlock()
	for _, r := range rooms {
		r.Stop()
	}
}

// updateMetrics must be called with rm.mu held
func (rm *RoomManager) updateMetrics() {
	if rm.journal != nil {
		rm.journal.SetActiveRooms(len(rm.rooms))
	}
}
