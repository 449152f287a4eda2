package main

import (
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skip2/go-qrcode"
)

const (
	qrSize        = 320
	maxEventsPage = 100
)

var uuidPathRe = regexp.MustCompile(`^/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Non-browser clients don't send Origin
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return u.Host == r.Host
	},
}

func extractIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RoomStats is the body of GET /rooms/{id}/stats
type RoomStats struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Peers  int            `json:"peers"`
	Locked bool           `json:"locked"`
	Host   HostStats      `json:"host"`
	Events map[string]int `json:"events"`
}

// EventView is one entry of GET /rooms/{id}/events
type EventView struct {
	Type   string    `json:"type"`
	PeerID string    `json:"peerId,omitempty"`
	Data   string    `json:"data,omitempty"`
	At     time.Time `json:"at"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// joinURL is what the headset opens to enter a room as the VR client
func joinURL(publicURL, roomID, ticket string) string {
	q := url.Values{}
	q.Set("role", string(RoleVR))
	q.Set("ticket", ticket)
	return strings.TrimRight(publicURL, "/") + "/" + roomID + "?" + q.Encode()
}

// SetupRoutes configures HTTP routes. An empty clientDir serves no static
// files; publicURL is the externally reachable base used in join QR codes.
func SetupRoutes(hub *Hub, clientDir, publicURL string) *http.ServeMux {
	mux := http.NewServeMux()

	if clientDir != "" {
		// Serve static files with no-cache so browsers always revalidate
		fs := http.FileServer(http.Dir(clientDir))
		mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-cache")
			// SPA: serve index.html for root and room paths
			if r.URL.Path == "/" || uuidPathRe.MatchString(r.URL.Path) {
				http.ServeFile(w, r, filepath.Join(clientDir, "index.html"))
				return
			}
			fs.ServeHTTP(w, r)
		}))
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		rooms, dropped := hub.journal.LiveMetrics()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "ok",
			"rooms":         rooms,
			"clients":       hub.ClientCount(),
			"droppedEvents": dropped,
		})
	})

	mux.HandleFunc("GET /rooms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, hub.rooms.ListRooms())
	})

	mux.HandleFunc("GET /rooms/{id}/stats", func(w http.ResponseWriter, r *http.Request) {
		room, err := hub.rooms.GetRoom(r.PathValue("id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, ErrorMsg{Msg: err.Error()})
			return
		}
		counts, err := hub.journal.EventCounts(room.ID)
		if err != nil {
			hub.log.Errorw("event counts", "room", room.ID, "error", err)
		}
		info := room.Info()
		writeJSON(w, http.StatusOK, RoomStats{
			ID:     room.ID,
			Name:   room.Name,
			Peers:  info.Peers,
			Locked: room.Locked(),
			Host:   info.Stats,
			Events: counts,
		})
	})

	mux.HandleFunc("GET /rooms/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 || limit > maxEventsPage {
			limit = maxEventsPage
		}
		rows, err := hub.journal.RecentEvents(id, limit)
		if err != nil {
			hub.log.Errorw("recent events", "room", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, ErrorMsg{Msg: "internal error"})
			return
		}
		out := make([]EventView, 0, len(rows))
		for _, row := range rows {
			out = append(out, EventView{
				Type:   row.Type,
				PeerID: row.PeerID,
				Data:   row.Data,
				At:     row.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	})

	// Join QR for the headset; only the room's creator may render it
	mux.HandleFunc("GET /rooms/{id}/qr.png", func(w http.ResponseWriter, r *http.Request) {
		room, err := hub.rooms.GetRoom(r.PathValue("id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		role, err := hub.auth.ValidateTicket(r.URL.Query().Get("ticket"), room.ID)
		if err != nil {
			http.Error(w, ErrInvalidTicket.Error(), http.StatusUnauthorized)
			return
		}
		if role != RoleHost {
			http.Error(w, "host token required", http.StatusForbidden)
			return
		}
		vrTicket, err := hub.auth.IssueTicket(room.ID, string(RoleVR))
		if err != nil {
			hub.log.Errorw("issue vr ticket", "room", room.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		base := publicURL
		if base == "" {
			base = "https://" + r.Host
		}
		png, err := qrcode.Encode(joinURL(base, room.ID, vrTicket), qrcode.Medium, qrSize)
		if err != nil {
			hub.log.Errorw("encode qr", "room", room.ID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(png)
	})

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		if !hub.CanAccept(ip) {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.log.Errorw("upgrade error", "addr", ip, "error", err)
			return
		}

		hub.TrackConnect(ip)

		client := NewClient(hub, conn, ip)
		hub.register <- client

		go client.WritePump()
		go client.ReadPump()
	})

	return mux
}
