package room

import (
	"sync"
	"time"

	"github.com/BennettNotFound/dotphira-mp/internal/protocol"
)

// SystemUserID is the distinguished server-originated chat sender (§4.9).
const SystemUserID int32 = 0

// Sender is the narrow interface a User needs from whatever owns its
// connection. internal/session implements it; internal/room never imports
// internal/session, avoiding a cycle (the teacher's room.go takes an
// analogous DatagramSender interface rather than a concrete *Client).
type Sender interface {
	SendServer(cmd protocol.ServerCommand)
	CloseSession()
}

// ReplayWriter is the narrow interface a User needs from its active replay
// recording. internal/replay.Writer implements it.
type ReplayWriter interface {
	WriteTouches(body []byte) error
	WriteJudges(body []byte) error
	UpdateRecordID(id int32) error
	Dispose() error
}

// User is a process-wide identity, interned by id (§3). Re-authentication
// of an existing id rebinds Sender rather than creating a new User.
type User struct {
	ID   int32
	Name string

	mu           sync.RWMutex
	sender       Sender
	room         *Room
	monitor      bool
	lastGameTime time.Time
	replay       ReplayWriter
}

func newUser(id int32, name string) *User {
	return &User{ID: id, Name: name}
}

// Bind attaches a live connection to the user, replacing any previous one.
func (u *User) Bind(s Sender) {
	u.mu.Lock()
	u.sender = s
	u.mu.Unlock()
}

// Unbind detaches the connection; subsequent sends are no-ops.
func (u *User) Unbind() {
	u.mu.Lock()
	u.sender = nil
	u.mu.Unlock()
}

// Connected reports whether a live connection is currently bound.
func (u *User) Connected() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.sender != nil
}

// Send enqueues cmd on the user's connection, if any. Silently dropped for
// a disconnected user, matching the "post-close sends are dropped" pipeline
// semantics this composes with.
func (u *User) Send(cmd protocol.ServerCommand) {
	u.mu.RLock()
	s := u.sender
	u.mu.RUnlock()
	if s != nil {
		s.SendServer(cmd)
	}
}

// Disconnect force-closes the user's live connection, if any (§6
// POST /admin/users/{id}/disconnect). The session's own close handling
// takes care of leaving any room and unbinding.
func (u *User) Disconnect() {
	u.mu.RLock()
	s := u.sender
	u.mu.RUnlock()
	if s != nil {
		s.CloseSession()
	}
}

// Room returns the room the user currently occupies, or nil.
func (u *User) Room() *Room {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.room
}

func (u *User) setRoom(r *Room) {
	u.mu.Lock()
	u.room = r
	u.mu.Unlock()
}

// Monitor reports whether the user is currently a room monitor (spectator).
func (u *User) Monitor() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.monitor
}

func (u *User) setMonitor(m bool) {
	u.mu.Lock()
	u.monitor = m
	u.mu.Unlock()
}

// LastGameTime returns the last time the user completed or aborted a play.
func (u *User) LastGameTime() time.Time {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.lastGameTime
}

func (u *User) touchGameTime() {
	u.mu.Lock()
	u.lastGameTime = time.Now()
	u.mu.Unlock()
}

// SetReplayWriter installs or clears the user's active replay recording.
func (u *User) SetReplayWriter(w ReplayWriter) {
	u.mu.Lock()
	u.replay = w
	u.mu.Unlock()
}

// ReplayWriterFor returns the user's active replay writer, if any.
func (u *User) ReplayWriterFor() ReplayWriter {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.replay
}

// Info projects the user to the wire UserInfo struct.
func (u *User) Info() protocol.UserInfo {
	return protocol.UserInfo{ID: u.ID, Name: u.Name, Monitor: u.Monitor()}
}
