package main

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types recorded in the room journal
const (
	EvtRoomCreated = "room_created"
	EvtRoomClosed  = "room_closed"
	EvtPeerJoin    = "peer_join"
	EvtPeerLeave   = "peer_leave"
	EvtGrab        = "grab"
	EvtRelease     = "release"
	EvtPickup      = "player_pickup"
	EvtRagdoll     = "ragdoll"
	EvtRecovery    = "recovery"
)

const (
	journalBufSize    = 1024
	journalBatchSize  = 50
	journalFlushEvery = 2 * time.Second
)

// JournalEvent is a single recorded room event
type JournalEvent struct {
	Type      string
	RoomID    string
	PeerID    string
	Data      string
	Timestamp time.Time
}

// Journal records room telemetry with batched background writes. A nil
// database turns it into a counter of live metrics only.
type Journal struct {
	db     *DB
	log    *zap.SugaredLogger
	events chan JournalEvent
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	// Live metrics
	mu          sync.RWMutex
	activeRooms int
	dropped     int
}

// NewJournal creates and starts the journal writer
func NewJournal(db *DB, log *zap.SugaredLogger) *Journal {
	if log == nil {
		log = nopLogger()
	}
	j := &Journal{
		db:     db,
		log:    log,
		events: make(chan JournalEvent, journalBufSize),
		stop:   make(chan struct{}),
	}
	j.wg.Add(1)
	go j.writer()
	return j
}

// Track enqueues an event for async persistence (non-blocking)
func (j *Journal) Track(evtType, roomID, peerID, data string) {
	select {
	case j.events <- JournalEvent{
		Type:      evtType,
		RoomID:    roomID,
		PeerID:    peerID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full: drop rather than stall a room loop
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
	}
}

// SetActiveRooms updates the live room count
func (j *Journal) SetActiveRooms(n int) {
	j.mu.Lock()
	j.activeRooms = n
	j.mu.Unlock()
}

// LiveMetrics returns the live room count and the number of dropped events
func (j *Journal) LiveMetrics() (int, int) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.activeRooms, j.dropped
}

// EventCounts returns journaled event counts for a room
func (j *Journal) EventCounts(roomID string) (map[string]int, error) {
	if j.db == nil {
		return map[string]int{}, nil
	}
	return j.db.EventCounts(roomID)
}

// RecentEvents returns the newest journaled events of a room
func (j *Journal) RecentEvents(roomID string, limit int) ([]EventRow, error) {
	if j.db == nil {
		return nil, nil
	}
	return j.db.RecentEvents(roomID, limit)
}

// Stop flushes pending events and shuts the writer down
func (j *Journal) Stop() {
	j.once.Do(func() {
		close(j.stop)
		j.wg.Wait()
	})
}

// writer is the background goroutine that batches and writes events to DB
func (j *Journal) writer() {
	defer j.wg.Done()

	batch := make([]JournalEvent, 0, journalBatchSize)
	ticker := time.NewTicker(journalFlushEvery)
	defer ticker.Stop()

	for {
		select {
		case evt := <-j.events:
			batch = append(batch, evt)
			if len(batch) >= journalBatchSize {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = batch[:0]
			}
		case <-j.stop:
			for {
				select {
				case evt := <-j.events:
					batch = append(batch, evt)
					continue
				default:
				}
				break
			}
			if len(batch) > 0 {
				j.flush(batch)
			}
			return
		}
	}
}

func (j *Journal) flush(events []JournalEvent) {
	if j.db == nil || len(events) == 0 {
		return
	}
	if err := j.db.InsertEvents(events); err != nil {
		j.log.Errorw("journal flush failed", "events", len(events), "error", err)
	}
}
