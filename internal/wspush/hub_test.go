package wspush

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/BennettNotFound/dotphira-mp/internal/admin"
	"github.com/BennettNotFound/dotphira-mp/internal/room"
)

type noBans struct{}

func (noBans) IsUserBanned(int64) bool             { return false }
func (noBans) IsRoomBanned(int64, string) bool     { return false }

type noReplay struct{}

func (noReplay) Open(int32, int32) (room.ReplayWriter, error) { return nil, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *room.Registry) {
	t.Helper()
	reg := room.New(discardLogger(), noBans{}, noReplay{})
	trust := admin.NewTrust()
	auth := admin.NewAuthenticator("admin-secret", "view-secret", trust)
	hub := NewHub(reg, auth, discardLogger())

	e := echo.New()
	hub.Register(e)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	return srv, hub, reg
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRoomSubscribeReceivesRoomUpdate(t *testing.T) {
	srv, hub, reg := newTestServer(t)
	conn := dialWS(t, srv)

	host := reg.InternUser(1, "host")
	r, err := reg.CreateRoom("ROOM01", host)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "subscribe", RoomID: r.ID}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var ack outboundMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != "subscribed" || ack.RoomID != r.ID {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	hub.SendRoomUpdate(r.ID)

	var update outboundMessage
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Type != "room_update" || update.RoomID != r.ID {
		t.Fatalf("unexpected push: %+v", update)
	}
}

func TestAdminSubscribeRejectsBadToken(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(inboundMessage{Type: "admin_subscribe", Token: "nope"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp outboundMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "error" {
		t.Fatalf("expected error response, got %+v", resp)
	}
}

func TestAdminSubscribeWithValidTokenGetsSnapshot(t *testing.T) {
	srv, _, reg := newTestServer(t)
	conn := dialWS(t, srv)

	host := reg.InternUser(2, "host2")
	if _, err := reg.CreateRoom("ROOM02", host); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	if err := conn.WriteJSON(inboundMessage{Type: "admin_subscribe", Token: "admin-secret"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack outboundMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != "admin_subscribed" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	var snapshot outboundMessage
	if err := conn.ReadJSON(&snapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snapshot.Type != "admin_update" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
}

func TestPingIsAnswered(t *testing.T) {
	srv, _, _ := newTestServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(inboundMessage{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp outboundMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "pong" {
		t.Fatalf("expected pong, got %+v", resp)
	}
}

func TestHubRunTranslatesRoomCreatedIntoAdminUpdate(t *testing.T) {
	srv, _, reg := newTestServer(t)
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(inboundMessage{Type: "admin_subscribe", Token: "admin-secret"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var ack outboundMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var firstSnapshot outboundMessage
	if err := conn.ReadJSON(&firstSnapshot); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}

	host := reg.InternUser(3, "host3")
	if _, err := reg.CreateRoom("ROOM03", host); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update outboundMessage
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("expected admin_update after room creation: %v", err)
	}
	if update.Type != "admin_update" {
		t.Fatalf("unexpected message: %+v", update)
	}
}
