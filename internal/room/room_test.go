package room

import (
	"log/slog"
	"testing"

	"github.com/BennettNotFound/dotphira-mp/internal/protocol"
)

// mockSender records every command sent to it, mirroring the teacher's
// mockSender test helper in room_test.go.
type mockSender struct {
	sent   []protocol.ServerCommand
	closed bool
}

func (m *mockSender) SendServer(cmd protocol.ServerCommand) { m.sent = append(m.sent, cmd) }
func (m *mockSender) CloseSession()                         { m.closed = true }

func newTestRegistry() *Registry {
	return New(slog.Default(), nil, nil)
}

func mustJoin(t *testing.T, reg *Registry, u *User, roomID string) *Room {
	t.Helper()
	r, err := reg.CreateRoom(roomID, u)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return r
}

func newBoundUser(reg *Registry, id int32, name string) (*User, *mockSender) {
	u := reg.InternUser(id, name)
	s := &mockSender{}
	u.Bind(s)
	return u, s
}

func TestRoomSoloLifecycle(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 42, "A")
	r := mustJoin(t, reg, host, "")

	if r.State() != protocol.RoomStateSelectChart {
		t.Fatalf("expected SelectChart, got %v", r.State())
	}

	if err := r.SelectChart(host, 100, "Chart100"); err != nil {
		t.Fatalf("SelectChart: %v", err)
	}
	if err := r.RequestStart(host); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	// RequestStart pre-readies the host, so a solo room starts at once.
	if r.State() != protocol.RoomStatePlaying {
		t.Fatalf("expected Playing after solo RequestStart, got %v", r.State())
	}
	if err := r.Ready(host); err != ErrWrongState {
		t.Fatalf("Ready while Playing: expected ErrWrongState, got %v", err)
	}
	if r.State() != protocol.RoomStatePlaying {
		t.Fatalf("expected Playing after rejected Ready, got %v", r.State())
	}

	if err := r.Played(host, 7, 900000, 0.98, true); err != nil {
		t.Fatalf("Played: %v", err)
	}
	if r.State() != protocol.RoomStateSelectChart {
		t.Fatalf("expected SelectChart after solo play, got %v", r.State())
	}
	chartID := r.Snapshot().SelectedChartID
	if chartID == nil || *chartID != 100 {
		t.Fatalf("expected chart 100 to remain selected, got %v", chartID)
	}
}

func TestRoomCycleRotationOnTwoPlayers(t *testing.T) {
	reg := newTestRegistry()
	p1, _ := newBoundUser(reg, 1, "P1")
	p2, s2 := newBoundUser(reg, 2, "P2")
	r := mustJoin(t, reg, p1, "")
	if err := r.AddUser(p2, false); err != nil {
		t.Fatalf("AddUser p2: %v", err)
	}
	if err := r.SetCycle(p1, true); err != nil {
		t.Fatalf("SetCycle: %v", err)
	}
	if err := r.SelectChart(p1, 5, "Chart5"); err != nil {
		t.Fatalf("SelectChart: %v", err)
	}
	if err := r.RequestStart(p1); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if err := r.Ready(p1); err != nil {
		t.Fatalf("Ready p1: %v", err)
	}
	if err := r.Ready(p2); err != nil {
		t.Fatalf("Ready p2: %v", err)
	}
	if r.State() != protocol.RoomStatePlaying {
		t.Fatalf("expected Playing, got %v", r.State())
	}
	if err := r.Played(p1, 1, 900000, 0.9, false); err != nil {
		t.Fatalf("Played p1: %v", err)
	}
	if err := r.Played(p2, 2, 950000, 0.95, true); err != nil {
		t.Fatalf("Played p2: %v", err)
	}

	if !r.IsHost(p2) {
		t.Fatal("expected p2 to become host after cycle rotation")
	}
	foundChangeHost := false
	for _, cmd := range s2.sent {
		if ch, ok := cmd.(protocol.CmdChangeHost); ok && ch.IsHost {
			foundChangeHost = true
		}
	}
	if !foundChangeHost {
		t.Fatal("expected p2 to receive ChangeHost(true)")
	}
}

func TestContestModeGatesAdmission(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 1, "host")
	r := mustJoin(t, reg, host, "")
	r.SetContestMode(true, []int64{10, 20})

	outsider, _ := newBoundUser(reg, 30, "outsider")
	if err := r.AddUser(outsider, false); err != ErrContestWhitelist {
		t.Fatalf("expected ErrContestWhitelist, got %v", err)
	}

	whitelisted, _ := newBoundUser(reg, 10, "allowed")
	if err := r.AddUser(whitelisted, true); err != nil {
		t.Fatalf("monitor join should bypass whitelist gate: %v", err)
	}
}

func TestHostSuccessionOnLeave(t *testing.T) {
	reg := newTestRegistry()
	p1, _ := newBoundUser(reg, 1, "P1")
	p2, s2 := newBoundUser(reg, 2, "P2")
	r := mustJoin(t, reg, p1, "")
	if err := r.AddUser(p2, false); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	r.Leave(p1)

	if !r.IsHost(p2) {
		t.Fatal("expected p2 to become host")
	}
	found := false
	for _, cmd := range s2.sent {
		if ch, ok := cmd.(protocol.CmdChangeHost); ok && ch.IsHost {
			found = true
		}
	}
	if !found {
		t.Fatal("expected p2 to receive ChangeHost(true)")
	}
	if reg.RoomCount() != 1 {
		t.Fatalf("room should persist with one player remaining, got count %d", reg.RoomCount())
	}
}

// fakeReplayWriter records every payload handed to it, standing in for
// internal/replay.Writer in tests that don't need a real file.
type fakeReplayWriter struct {
	touches [][]byte
	judges  [][]byte
}

func (f *fakeReplayWriter) WriteTouches(body []byte) error {
	f.touches = append(f.touches, body)
	return nil
}
func (f *fakeReplayWriter) WriteJudges(body []byte) error {
	f.judges = append(f.judges, body)
	return nil
}
func (f *fakeReplayWriter) UpdateRecordID(int32) error { return nil }
func (f *fakeReplayWriter) Dispose() error             { return nil }

func TestBroadcastTouchesAndJudgesAppendToReplayWriter(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 1, "host")
	other, _ := newBoundUser(reg, 2, "other")
	r := mustJoin(t, reg, host, "")
	if err := r.AddUser(other, false); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	w := &fakeReplayWriter{}
	host.SetReplayWriter(w)

	if err := r.SelectChart(host, 100, "Chart100"); err != nil {
		t.Fatalf("SelectChart: %v", err)
	}
	if err := r.RequestStart(host); err != nil {
		t.Fatalf("RequestStart: %v", err)
	}
	if err := r.Ready(host); err != nil {
		t.Fatalf("Ready(host): %v", err)
	}
	if err := r.Ready(other); err != nil {
		t.Fatalf("Ready(other): %v", err)
	}
	if r.State() != protocol.RoomStatePlaying {
		t.Fatalf("expected Playing, got %v", r.State())
	}

	r.BroadcastTouches(host, []protocol.TouchFrame{{Time: 1.0}})
	r.BroadcastJudges(host, []protocol.JudgeEvent{{Time: 1.0, LineID: 1, NoteID: 2, Judgement: 3}})

	if len(w.touches) != 1 {
		t.Fatalf("expected 1 recorded touches payload, got %d", len(w.touches))
	}
	if len(w.judges) != 1 {
		t.Fatalf("expected 1 recorded judges payload, got %d", len(w.judges))
	}
	if w.touches[0][0] != protocol.TagTouches {
		t.Fatalf("expected recorded payload to start with TagTouches, got %v", w.touches[0][0])
	}
	if w.judges[0][0] != protocol.TagJudges {
		t.Fatalf("expected recorded payload to start with TagJudges, got %v", w.judges[0][0])
	}
}

func TestRoomDisbandsWhenLastPlayerLeaves(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 1, "host")
	r := mustJoin(t, reg, host, "")
	r.Leave(host)
	if reg.RoomCount() != 0 {
		t.Fatalf("expected room to be disbanded, count=%d", reg.RoomCount())
	}
}

func TestNonHostCannotLockOrSelectChart(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 1, "host")
	other, _ := newBoundUser(reg, 2, "other")
	r := mustJoin(t, reg, host, "")
	if err := r.AddUser(other, false); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	if err := r.SetLocked(other, true); err != ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
	if err := r.SelectChart(other, 1, "x"); err != ErrNotHost {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}
