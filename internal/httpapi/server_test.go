package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BennettNotFound/dotphira-mp/internal/admin"
	"github.com/BennettNotFound/dotphira-mp/internal/identity"
	"github.com/BennettNotFound/dotphira-mp/internal/room"
)

type noBans struct{}

func (noBans) IsUserBanned(int64) bool                { return false }
func (noBans) IsRoomBanned(int64, string) bool         { return false }

type noReplay struct{}

func (noReplay) Open(int32, int32) (room.ReplayWriter, error) { return nil, nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func newTestServer(t *testing.T) (*Server, *room.Registry) {
	t.Helper()
	bans, err := admin.NewBanStore(t.TempDir()+"/bans.json", discardLogger())
	if err != nil {
		t.Fatalf("NewBanStore: %v", err)
	}
	reg := room.New(discardLogger(), bans, noReplay{})
	idc := identity.New("http://unused.invalid", http.DefaultClient)
	trust := admin.NewTrust()
	auth := admin.NewAuthenticator("admin-secret", "view-secret", trust)

	srv := New(reg, idc, bans, trust, auth, nil, nil, "test server")
	return srv, reg
}

func TestRoomsEndpointListsRooms(t *testing.T) {
	srv, reg := newTestServer(t)
	host := reg.InternUser(1, "host")
	if _, err := reg.CreateRoom("ROOM01", host); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/rooms")
	if err != nil {
		t.Fatalf("GET /rooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Count int          `json:"count"`
		Rooms []publicRoom `json:"rooms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || body.Rooms[0].ID != "ROOM01" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.ServerName != "test server" || status.Version != "1.0.0" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestAdminRoutesRejectMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/admin/rooms")
	if err != nil {
		t.Fatalf("GET /admin/rooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestAdminRoutesAcceptHeaderToken(t *testing.T) {
	srv, reg := newTestServer(t)
	host := reg.InternUser(1, "host")
	if _, err := reg.CreateRoom("ROOM02", host); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/admin/rooms", nil)
	req.Header.Set("X-Admin-Token", "admin-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /admin/rooms: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestViewTokenIsReadOnly(t *testing.T) {
	srv, reg := newTestServer(t)
	host := reg.InternUser(1, "host")
	if _, err := reg.CreateRoom("ROOM03", host); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/rooms/ROOM03/disband", nil)
	req.Header.Set("X-Admin-Token", "view-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST disband: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
	var body apiError
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "view-token-readonly" {
		t.Fatalf("unexpected error slug: %q", body.Error)
	}
}

func TestAdminDisbandRoom(t *testing.T) {
	srv, reg := newTestServer(t)
	host := reg.InternUser(1, "host")
	if _, err := reg.CreateRoom("ROOM04", host); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/rooms/ROOM04/disband", nil)
	req.Header.Set("X-Admin-Token", "admin-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST disband: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if _, ok := reg.LookupRoom("ROOM04"); ok {
		t.Fatal("expected room to be disbanded")
	}
}

func TestAdminBanUserWithDisconnect(t *testing.T) {
	srv, reg := newTestServer(t)
	reg.InternUser(5, "banme")
	ts := httptest.NewServer(srv.Echo())
	defer ts.Close()

	body, _ := json.Marshal(banUserRequest{UserID: 5, Banned: true, Disconnect: true})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/admin/ban/user", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Admin-Token", "admin-secret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST ban/user: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !reg.IsUserBanned(5) {
		t.Fatal("expected user 5 to be banned")
	}
}
