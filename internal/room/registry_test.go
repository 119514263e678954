package room

import "testing"

type fakeBans struct {
	bannedUsers map[int64]bool
	bannedRooms map[string]map[int64]bool
}

func (f *fakeBans) IsUserBanned(id int64) bool { return f.bannedUsers[id] }
func (f *fakeBans) IsRoomBanned(userID int64, roomID string) bool {
	return f.bannedRooms[roomID][userID]
}

func TestCreateRoomRandomID(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 1, "host")
	r, err := reg.CreateRoom("", host)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(r.ID) != 6 {
		t.Fatalf("expected a 6-digit room id, got %q", r.ID)
	}
}

func TestCreateRoomRejectsDuplicateID(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 1, "host")
	if _, err := reg.CreateRoom("ABC123", host); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	other, _ := newBoundUser(reg, 2, "other")
	if _, err := reg.CreateRoom("ABC123", other); err != ErrRoomExists {
		t.Fatalf("expected ErrRoomExists, got %v", err)
	}
}

func TestCreateRoomDisabledByFlag(t *testing.T) {
	reg := newTestRegistry()
	reg.SetRoomCreationEnabled(false)
	host, _ := newBoundUser(reg, 1, "host")
	if _, err := reg.CreateRoom("", host); err != ErrCreationOff {
		t.Fatalf("expected ErrCreationOff, got %v", err)
	}
}

func TestJoinRoomHonorsBans(t *testing.T) {
	bans := &fakeBans{
		bannedUsers: map[int64]bool{99: true},
		bannedRooms: map[string]map[int64]bool{"ABC123": {5: true}},
	}
	reg := New(nil, bans, nil)
	host, _ := newBoundUser(reg, 1, "host")
	if _, err := reg.CreateRoom("ABC123", host); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	banned, _ := newBoundUser(reg, 99, "banned")
	if _, err := reg.JoinRoom("ABC123", banned, false); err != ErrUserBanned {
		t.Fatalf("expected ErrUserBanned, got %v", err)
	}

	roomBanned, _ := newBoundUser(reg, 5, "roomBanned")
	if _, err := reg.JoinRoom("ABC123", roomBanned, false); err != ErrRoomBanned {
		t.Fatalf("expected ErrRoomBanned, got %v", err)
	}
}

func TestJoinRandomRoomPicksEligibleRoom(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 1, "host")
	r, err := reg.CreateRoom("", host)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	joiner, _ := newBoundUser(reg, 2, "joiner")
	got, err := reg.JoinRandomRoom(joiner, false)
	if err != nil {
		t.Fatalf("JoinRandomRoom: %v", err)
	}
	if got.ID != r.ID {
		t.Fatalf("expected to join %s, got %s", r.ID, got.ID)
	}

	r.SetLocked(host, true)
	other, _ := newBoundUser(reg, 3, "other")
	if _, err := reg.JoinRandomRoom(other, false); err != ErrNoRecruiting {
		t.Fatalf("expected ErrNoRecruiting once the only room is locked, got %v", err)
	}
}

func TestConnectionLostClearsRoomMembership(t *testing.T) {
	reg := newTestRegistry()
	host, _ := newBoundUser(reg, 1, "host")
	other, _ := newBoundUser(reg, 2, "other")
	r, err := reg.CreateRoom("", host)
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if err := r.AddUser(other, false); err != nil {
		t.Fatalf("AddUser: %v", err)
	}

	reg.HandleConnectionLost(other)
	if other.Room() != nil {
		t.Fatal("expected user to be removed from room on connection loss")
	}
	if other.Connected() {
		t.Fatal("expected user to be unbound on connection loss")
	}
}
