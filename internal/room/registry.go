package room

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// BanChecker is the narrow view the registry needs of the admin ban store
// (§4.9, §4.11). internal/admin implements it; internal/room never imports
// internal/admin, keeping the dependency direction pointing one way.
type BanChecker interface {
	IsUserBanned(userID int64) bool
	IsRoomBanned(userID int64, roomID string) bool
}

// ReplayOpener starts a replay recording for a (userID, chartID) pair.
// internal/replay implements it.
type ReplayOpener interface {
	Open(userID, chartID int32) (ReplayWriter, error)
}

// SessionHandle is the narrow view the registry needs of a live connection
// to drop it on ban/disconnect admin operations. internal/session
// implements it.
type SessionHandle interface {
	ID() uuid.UUID
	Close()
}

var (
	ErrRoomNotFound  = errors.New("room: not found")
	ErrRoomExists    = errors.New("room: id already in use")
	ErrUserBanned    = errors.New("room: user is banned")
	ErrRoomBanned    = errors.New("room: user is banned from this room")
	ErrUserNotFound  = errors.New("room: user not found")
	ErrNoRecruiting  = errors.New("room: no recruiting room available")
	ErrCreationOff   = errors.New("room: room creation is disabled")
)

// Registry is the process-wide concurrent state described in §4.9: the
// sessions/users/rooms tables plus the two mutable feature flags. It is
// grounded on the teacher's internal/core.ChannelState: one struct owning
// several sync.RWMutex-guarded maps plus atomic flags, with a broadcast
// helper that never blocks the caller for long (here realized through the
// bounded, non-blocking Events channel rather than ChannelState's
// select+time.After send).
type Registry struct {
	logger *slog.Logger
	bans   BanChecker
	replay ReplayOpener

	mu       sync.RWMutex
	sessions map[uuid.UUID]SessionHandle
	users    map[int32]*User
	rooms    map[string]*Room

	replayRecordingEnabled atomic.Bool
	roomCreationEnabled    atomic.Bool

	events chan Event
}

// New constructs a Registry. bans and replay may be nil in tests that don't
// exercise ban checks or replay recording.
func New(logger *slog.Logger, bans BanChecker, replay ReplayOpener) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	reg := &Registry{
		logger:   logger,
		bans:     bans,
		replay:   replay,
		sessions: make(map[uuid.UUID]SessionHandle),
		users:    make(map[int32]*User),
		rooms:    make(map[string]*Room),
		events:   make(chan Event, eventsBufferSize),
	}
	reg.roomCreationEnabled.Store(true)
	reg.users[SystemUserID] = newUser(SystemUserID, "system")
	return reg
}

// Events returns the channel the push layer consumes room notifications
// from (§9, §4.10 "Ambient addition — decoupling from Room").
func (reg *Registry) Events() <-chan Event { return reg.events }

// ReplayRecordingEnabled reports the current feature flag value.
func (reg *Registry) ReplayRecordingEnabled() bool { return reg.replayRecordingEnabled.Load() }

// SetReplayRecordingEnabled is an admin operation (§6 /admin/replay/config).
func (reg *Registry) SetReplayRecordingEnabled(v bool) { reg.replayRecordingEnabled.Store(v) }

// RoomCreationEnabled reports the current feature flag value.
func (reg *Registry) RoomCreationEnabled() bool { return reg.roomCreationEnabled.Load() }

// SetRoomCreationEnabled is an admin operation (§6 /admin/room-creation/config).
func (reg *Registry) SetRoomCreationEnabled(v bool) { reg.roomCreationEnabled.Store(v) }

func (reg *Registry) startReplay(userID, chartID int32) (ReplayWriter, error) {
	if reg.replay == nil {
		return nil, fmt.Errorf("room: no replay opener configured")
	}
	return reg.replay.Open(userID, chartID)
}

// RegisterSession adds a newly accepted connection to the session table.
func (reg *Registry) RegisterSession(s SessionHandle) {
	reg.mu.Lock()
	reg.sessions[s.ID()] = s
	reg.mu.Unlock()
}

// RemoveSession drops a session, e.g. on connection loss (§4.9).
func (reg *Registry) RemoveSession(id uuid.UUID) {
	reg.mu.Lock()
	delete(reg.sessions, id)
	reg.mu.Unlock()
}

// SessionCount returns the number of currently tracked sessions.
func (reg *Registry) SessionCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.sessions)
}

// InternUser returns the process-wide User for (id, name), creating it on
// first sight. An existing user keeps its id-stable identity across
// reconnects (§3 "Users are interned process-wide by id").
func (reg *Registry) InternUser(id int32, name string) *User {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if u, ok := reg.users[id]; ok {
		return u
	}
	u := newUser(id, name)
	reg.users[id] = u
	return u
}

// LookupUser returns the interned user for id, if any.
func (reg *Registry) LookupUser(id int32) (*User, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	u, ok := reg.users[id]
	return u, ok
}

// UserCount returns the number of interned users (including the system user).
func (reg *Registry) UserCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.users)
}

// IsUserBanned consults the admin ban store, if configured.
func (reg *Registry) IsUserBanned(id int32) bool {
	if reg.bans == nil {
		return false
	}
	return reg.bans.IsUserBanned(int64(id))
}

// LookupRoom returns a room by id.
func (reg *Registry) LookupRoom(id string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[id]
	return r, ok
}

// RoomCount returns the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Rooms returns a snapshot slice of every live room (for listing endpoints).
func (reg *Registry) Rooms() []*Room {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Room, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r)
	}
	return out
}

// CreateRoom creates a room with the given id (or a random 6-digit id if
// roomID is empty) and seats host as its first player (§4.8, §6).
func (reg *Registry) CreateRoom(roomID string, host *User) (*Room, error) {
	if !reg.roomCreationEnabled.Load() {
		return nil, ErrCreationOff
	}
	if host.Room() != nil {
		return nil, ErrAlreadyInRoom
	}
	if reg.IsUserBanned(host.ID) {
		return nil, ErrUserBanned
	}

	reg.mu.Lock()
	if roomID == "" {
		var err error
		roomID, err = reg.randomRoomIDLocked()
		if err != nil {
			reg.mu.Unlock()
			return nil, err
		}
	} else if _, exists := reg.rooms[roomID]; exists {
		reg.mu.Unlock()
		return nil, ErrRoomExists
	}
	r := newRoom(roomID, host, reg)
	reg.rooms[roomID] = r
	reg.mu.Unlock()

	host.setRoom(r)
	host.setMonitor(false)
	reg.emit(Event{Kind: EventRoomCreated, RoomID: roomID})
	return r, nil
}

// randomRoomIDLocked picks a random unused 6-digit decimal id. Caller must
// hold reg.mu. Collisions are retried a bounded number of times before
// surfacing an error (Open Question decision, DESIGN.md: unreachable in
// practice at 10^6 ids).
func (reg *Registry) randomRoomIDLocked() (string, error) {
	const attempts = 100
	for i := 0; i < attempts; i++ {
		id := fmt.Sprintf("%06d", rand.Intn(1_000_000))
		if _, exists := reg.rooms[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("room: could not find a free random room id after %d attempts", attempts)
}

// JoinRoom seats user into an existing room, honoring the per-room and
// admin bans (§4.8, §4.9).
func (reg *Registry) JoinRoom(roomID string, user *User, monitor bool) (*Room, error) {
	if user.Room() != nil {
		return nil, ErrAlreadyInRoom
	}
	if reg.IsUserBanned(user.ID) {
		return nil, ErrUserBanned
	}
	if reg.bans != nil && reg.bans.IsRoomBanned(int64(user.ID), roomID) {
		return nil, ErrRoomBanned
	}
	r, ok := reg.LookupRoom(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	if err := r.AddUser(user, monitor); err != nil {
		return nil, err
	}
	return r, nil
}

// JoinRandomRoom seats user into a uniformly-chosen eligible recruiting
// room (§4.8 "Join to random recruiting room").
func (reg *Registry) JoinRandomRoom(user *User, monitor bool) (*Room, error) {
	if user.Room() != nil {
		return nil, ErrAlreadyInRoom
	}
	candidates := make([]*Room, 0)
	for _, r := range reg.Rooms() {
		if r.CanJoinRandomly() {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoRecruiting
	}
	r := candidates[rand.Intn(len(candidates))]
	if err := r.AddUser(user, monitor); err != nil {
		return nil, err
	}
	return r, nil
}

// LeaveRoom runs the full room-leave protocol for user, if seated (§4.8,
// §4.9 connection-lost handling calls this too).
func (reg *Registry) LeaveRoom(user *User) {
	r := user.Room()
	if r == nil {
		return
	}
	r.Leave(user)
}

// disbandRoom removes a room from the registry, force-closes every member
// connection, and emits EventRoomDisbanded. Called once a room empties
// naturally or a contest room completes its single play (§4.8).
func (reg *Registry) disbandRoom(r *Room, logMessage string) {
	reg.mu.Lock()
	delete(reg.rooms, r.ID)
	reg.mu.Unlock()

	if logMessage != "" {
		reg.logger.Info("room disbanded", "room_id", r.ID, "reason", logMessage)
	}
	r.closeAllSessions()
	reg.emit(Event{Kind: EventRoomDisbanded, RoomID: r.ID, Message: logMessage})
}

// DisbandRoomByID is the admin-forced disband operation (§6 /admin/rooms/{id}/disband).
func (reg *Registry) DisbandRoomByID(id string) error {
	r, ok := reg.LookupRoom(id)
	if !ok {
		return ErrRoomNotFound
	}
	reg.disbandRoom(r, "admin disband")
	return nil
}

// HandleConnectionLost runs the §4.9 connection-lost cleanup for a session
// bound to user (unbind, room leave). Session removal from reg.sessions and
// pipeline closing are the caller's (internal/session) responsibility.
func (reg *Registry) HandleConnectionLost(user *User) {
	if user == nil {
		return
	}
	user.Unbind()
	reg.LeaveRoom(user)
}
