// Package wspush implements the realtime telemetry WebSocket surface
// (§4.10): room and admin subscribers, a 30s heartbeat, and the three push
// triggers (SendRoomUpdate, SendRoomLog, SendAdminUpdate) driven by
// internal/room.Registry's Events channel. Grounded on the teacher's
// internal/ws.Handler (upgrade-then-serve-synchronously, one send channel
// drained by a writer goroutine, one JSON `type` field dispatch) with its
// voice-presence payloads replaced by room snapshots.
package wspush

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/BennettNotFound/dotphira-mp/internal/admin"
	"github.com/BennettNotFound/dotphira-mp/internal/room"
)

// HeartbeatInterval is how often the server pings a WS client and checks
// its last-activity timestamp (§4.10).
const HeartbeatInterval = 30 * time.Second

// Hub owns the room/admin subscriber registries and fans out pushes
// triggered by room.Registry events.
type Hub struct {
	registry *room.Registry
	auth     *admin.Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.RWMutex
	roomSubs  map[string]map[*Client]struct{}
	adminSubs map[*Client]struct{}
}

// NewHub constructs a Hub bound to registry for room snapshots/events and
// auth for admin-subscribe token validation.
func NewHub(registry *room.Registry, auth *admin.Authenticator, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		registry: registry,
		auth:     auth,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		roomSubs:  make(map[string]map[*Client]struct{}),
		adminSubs: make(map[*Client]struct{}),
	}
}

// Register binds the WebSocket route on an Echo router.
func (h *Hub) Register(e *echo.Echo) {
	e.GET("/ws", h.handleWS)
}

func (h *Hub) handleWS(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("wspush: upgrade: %w", err)
	}
	cl := newClient(conn, remoteIP(c.Request()))
	h.serveClient(cl)
	return nil
}

func remoteIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	return r.RemoteAddr
}

// Run consumes registry.Events() and translates each event into the
// matching push trigger (§4.10) until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-h.registry.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case room.EventRoomUpdate:
				h.SendRoomUpdate(ev.RoomID)
			case room.EventRoomLog:
				h.SendRoomLog(ev.RoomID, ev.Message)
			case room.EventRoomCreated, room.EventRoomDisbanded:
				h.SendAdminUpdate()
			}
		}
	}
}

func (h *Hub) serveClient(cl *Client) {
	defer cl.conn.Close()
	defer h.cleanup(cl)

	go cl.writeLoop()
	stopHeartbeat := make(chan struct{})
	go h.heartbeatLoop(cl, stopHeartbeat)
	defer close(stopHeartbeat)

	for {
		var in inboundMessage
		if err := cl.conn.ReadJSON(&in); err != nil {
			return
		}
		cl.touch()
		h.handleInbound(cl, in)
	}
}

func (h *Hub) heartbeatLoop(cl *Client, stop <-chan struct{}) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if time.Since(cl.lastActivity()) > HeartbeatInterval {
				cl.close()
				return
			}
			cl.enqueue(outboundMessage{Type: "ping"})
		}
	}
}

func (h *Hub) handleInbound(cl *Client, in inboundMessage) {
	switch in.Type {
	case "ping":
		cl.enqueue(outboundMessage{Type: "pong"})
	case "subscribe":
		h.subscribeRoom(cl, in.RoomID)
		cl.enqueue(outboundMessage{Type: "subscribed", RoomID: in.RoomID})
	case "unsubscribe":
		h.unsubscribeRoom(cl)
		cl.enqueue(outboundMessage{Type: "unsubscribed"})
	case "admin_subscribe":
		if h.auth == nil || h.auth.Authorize(in.Token, cl.remoteIP) == admin.AuthNone {
			cl.enqueue(outboundMessage{Type: "error", Message: "unauthorized"})
			return
		}
		h.subscribeAdmin(cl)
		cl.enqueue(outboundMessage{Type: "admin_subscribed"})
		h.sendAdminUpdateTo(cl)
	case "admin_unsubscribe":
		h.unsubscribeAdmin(cl)
		cl.enqueue(outboundMessage{Type: "admin_unsubscribed"})
	default:
		cl.enqueue(outboundMessage{Type: "error", Message: "unsupported message type"})
	}
}

func (h *Hub) subscribeRoom(cl *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeRoomSubLocked(cl)
	set, ok := h.roomSubs[roomID]
	if !ok {
		set = make(map[*Client]struct{})
		h.roomSubs[roomID] = set
	}
	set[cl] = struct{}{}
	cl.roomID = roomID
}

func (h *Hub) unsubscribeRoom(cl *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeRoomSubLocked(cl)
}

func (h *Hub) removeRoomSubLocked(cl *Client) {
	if cl.roomID == "" {
		return
	}
	if set, ok := h.roomSubs[cl.roomID]; ok {
		delete(set, cl)
		if len(set) == 0 {
			delete(h.roomSubs, cl.roomID)
		}
	}
	cl.roomID = ""
}

func (h *Hub) subscribeAdmin(cl *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.adminSubs[cl] = struct{}{}
}

func (h *Hub) unsubscribeAdmin(cl *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.adminSubs, cl)
}

func (h *Hub) cleanup(cl *Client) {
	h.mu.Lock()
	h.removeRoomSubLocked(cl)
	delete(h.adminSubs, cl)
	h.mu.Unlock()
	cl.close()
}

// SendRoomUpdate snapshots roomID and fans it out to its subscribers (§4.10).
func (h *Hub) SendRoomUpdate(roomID string) {
	r, ok := h.registry.LookupRoom(roomID)
	if !ok {
		return
	}
	view := roomView(r.Snapshot())

	h.mu.RLock()
	subs := h.roomSubs[roomID]
	targets := make([]*Client, 0, len(subs))
	for cl := range subs {
		targets = append(targets, cl)
	}
	h.mu.RUnlock()

	msg := outboundMessage{Type: "room_update", RoomID: roomID, Data: view}
	for _, cl := range targets {
		cl.enqueue(msg)
	}
}

// SendRoomLog broadcasts a timestamped log line to roomID's subscribers (§4.10).
func (h *Hub) SendRoomLog(roomID, message string) {
	h.mu.RLock()
	subs := h.roomSubs[roomID]
	targets := make([]*Client, 0, len(subs))
	for cl := range subs {
		targets = append(targets, cl)
	}
	h.mu.RUnlock()

	msg := outboundMessage{Type: "room_log", RoomID: roomID, Data: logLine{
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	}}
	for _, cl := range targets {
		cl.enqueue(msg)
	}
}

// SendAdminUpdate snapshots every room and fans it out to admin subscribers
// (§4.10, triggered on room creation, disband, and admin subscribe).
func (h *Hub) SendAdminUpdate() {
	views := h.allRoomViews()

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.adminSubs))
	for cl := range h.adminSubs {
		targets = append(targets, cl)
	}
	h.mu.RUnlock()

	msg := outboundMessage{Type: "admin_update", Data: views}
	for _, cl := range targets {
		cl.enqueue(msg)
	}
}

func (h *Hub) sendAdminUpdateTo(cl *Client) {
	cl.enqueue(outboundMessage{Type: "admin_update", Data: h.allRoomViews()})
}

func (h *Hub) allRoomViews() []roomViewJSON {
	rooms := h.registry.Rooms()
	views := make([]roomViewJSON, 0, len(rooms))
	for _, r := range rooms {
		views = append(views, roomView(r.Snapshot()))
	}
	return views
}
