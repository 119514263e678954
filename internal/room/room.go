package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BennettNotFound/dotphira-mp/internal/protocol"
)

// DefaultMaxPlayerCount is the default room player cap (§3).
const DefaultMaxPlayerCount = 32678

// Authorization errors (§7): reported as a result.failure on the
// originating command, state unchanged.
var (
	ErrNotHost           = errors.New("room: issuer is not host")
	ErrWrongState        = errors.New("room: wrong state for this operation")
	ErrNotInRoom         = errors.New("room: user not in room")
	ErrAlreadyInRoom     = errors.New("room: user already in a room")
	ErrRoomLocked        = errors.New("room: room is locked")
	ErrRoomFull          = errors.New("room: room is full")
	ErrContestWhitelist  = errors.New("room: user not in contest whitelist")
	ErrNoChartSelected   = errors.New("room: no chart selected")
	ErrAlreadyResulted   = errors.New("room: user already has a result")
	ErrNotPlaying        = errors.New("room: room is not playing")
)

// PlayResult is one player's reported outcome for the current play (§4.8).
type PlayResult struct {
	Score     int32
	Accuracy  float32
	FullCombo bool
}

// Room is the per-room state machine (§3, §4.8). Every method that
// mutates the room acquires mu for the full operation, including any
// broadcast, so that all recipients observe the same relative ordering of
// Message/ChangeState/ChangeHost events (§5).
type Room struct {
	ID string

	registry *Registry
	logger   *slog.Logger

	mu              sync.Mutex
	players         []*User
	monitors        map[int32]*User
	host            *User
	state           protocol.RoomState
	selectedChartID *int32
	locked          bool
	cycle           bool
	recruiting      bool
	live            bool
	contestMode     bool
	maxPlayerCount  int
	whitelist       map[int64]struct{}

	ready         map[int32]struct{}
	playResults   map[int32]PlayResult
	playRecordIDs map[int32]int32
	aborted       map[int32]struct{}
}

func newRoom(id string, host *User, registry *Registry) *Room {
	r := &Room{
		ID:             id,
		registry:       registry,
		logger:         registry.logger.With("room_id", id),
		monitors:       make(map[int32]*User),
		state:          protocol.RoomStateSelectChart,
		recruiting:     true,
		maxPlayerCount: DefaultMaxPlayerCount,
		whitelist:      make(map[int64]struct{}),
		ready:          make(map[int32]struct{}),
		playResults:    make(map[int32]PlayResult),
		playRecordIDs:  make(map[int32]int32),
		aborted:        make(map[int32]struct{}),
	}
	r.players = append(r.players, host)
	r.host = host
	return r
}

// State returns the room's current lifecycle state.
func (r *Room) State() protocol.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// IsHost reports whether u is the current host.
func (r *Room) IsHost(u *User) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.host == u
}

// PlayerCount returns the current number of seated players.
func (r *Room) PlayerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Snapshot is a point-in-time, lock-free view of a room used for JSON
// projections (HTTP API, WebSocket push) and for ClientRoomState on
// re-authentication.
type Snapshot struct {
	ID              string
	State           protocol.RoomState
	HostID          int32
	HostName        string
	Locked          bool
	Cycle           bool
	Live            bool
	Recruiting      bool
	ContestMode     bool
	SelectedChartID *int32
	Players         []protocol.UserInfo
	Monitors        []protocol.UserInfo
}

// Snapshot copies out the room's current public state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:          r.ID,
		State:       r.state,
		Locked:      r.locked,
		Cycle:       r.cycle,
		Live:        r.live,
		Recruiting:  r.recruiting,
		ContestMode: r.contestMode,
	}
	if r.selectedChartID != nil {
		id := *r.selectedChartID
		s.SelectedChartID = &id
	}
	if r.host != nil {
		s.HostID = r.host.ID
		s.HostName = r.host.Name
	}
	for _, p := range r.players {
		s.Players = append(s.Players, p.Info())
	}
	for _, m := range r.monitors {
		s.Monitors = append(s.Monitors, m.Info())
	}
	return s
}

// ClientState projects the room for a single member's ClientRoomState
// (used on (re)authentication, §4.5 step 3).
func (r *Room) ClientState(u *User) protocol.ClientRoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs := protocol.ClientRoomState{
		RoomID:          r.ID,
		State:           r.state,
		Live:            r.live,
		Locked:          r.locked,
		Cycle:           r.cycle,
		IsHost:          r.host == u,
		SelectedChartID: r.selectedChartID,
	}
	_, cs.IsReady = r.ready[u.ID]
	for _, p := range r.players {
		cs.Members = append(cs.Members, protocol.RoomMember{ID: p.ID, Info: p.Info()})
	}
	for _, m := range r.monitors {
		cs.Members = append(cs.Members, protocol.RoomMember{ID: m.ID, Info: m.Info()})
	}
	return cs
}

func (r *Room) broadcastAll(cmd protocol.ServerCommand) {
	for _, p := range r.players {
		p.Send(cmd)
	}
	for _, m := range r.monitors {
		m.Send(cmd)
	}
}

func (r *Room) broadcastExcept(except int32, cmd protocol.ServerCommand) {
	for _, p := range r.players {
		if p.ID != except {
			p.Send(cmd)
		}
	}
	for _, m := range r.monitors {
		if m.ID != except {
			m.Send(cmd)
		}
	}
}

func (r *Room) message(m protocol.Message) {
	r.broadcastAll(protocol.CmdMessagePush{Message: m})
}

func (r *Room) changeState(state protocol.RoomState) {
	r.state = state
	r.broadcastAll(protocol.CmdChangeState{State: state, ChartID: r.selectedChartID})
}

func (r *Room) playerIndex(u *User) int {
	for i, p := range r.players {
		if p == u {
			return i
		}
	}
	return -1
}

func (r *Room) memberIndex(id int32) bool {
	for _, p := range r.players {
		if p.ID == id {
			return true
		}
	}
	if _, ok := r.monitors[id]; ok {
		return true
	}
	return false
}

// AddUser seats u into the room as a player or monitor (§4.8 Membership).
func (r *Room) AddUser(u *User, monitor bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.locked && !monitor {
		return ErrRoomLocked
	}
	if !monitor {
		if r.contestMode {
			if _, ok := r.whitelist[int64(u.ID)]; !ok {
				return ErrContestWhitelist
			}
		}
		if len(r.players) >= r.maxPlayerCount {
			return ErrRoomFull
		}
	}

	if monitor {
		r.monitors[u.ID] = u
		r.live = true
	} else {
		r.players = append(r.players, u)
		if r.host == nil {
			r.host = u
		}
	}
	u.setRoom(r)
	u.setMonitor(monitor)

	r.broadcastAll(protocol.CmdOnJoinRoom{User: u.Info()})
	r.message(protocol.Message{Type: protocol.MsgJoinRoom, User: u.ID, Name: u.Name})
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

// Leave removes u from the room, running host succession or disbanding the
// room if it is left empty (§4.8 Membership / OnUserLeave).
func (r *Room) Leave(u *User) {
	r.mu.Lock()

	wasMonitor := false
	if _, ok := r.monitors[u.ID]; ok {
		delete(r.monitors, u.ID)
		wasMonitor = true
	} else {
		idx := r.playerIndex(u)
		if idx < 0 {
			r.mu.Unlock()
			return
		}
		r.players = append(r.players[:idx], r.players[idx+1:]...)
	}
	u.setRoom(nil)
	u.setMonitor(false)

	r.message(protocol.Message{Type: protocol.MsgLeaveRoom, User: u.ID, Name: u.Name})

	if !wasMonitor && r.host == u {
		if len(r.players) > 0 {
			r.host = r.players[0]
			r.host.Send(protocol.CmdChangeHost{IsHost: true})
			r.message(protocol.Message{Type: protocol.MsgNewHost, User: r.host.ID})
		} else {
			r.host = nil
		}
	}

	if len(r.players) == 0 {
		r.mu.Unlock()
		r.registry.disbandRoom(r, "")
		return
	}

	r.evaluateLocked()
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	r.mu.Unlock()
}

// SetLocked toggles the room's locked flag; host-only (§4.8).
func (r *Room) SetLocked(by *User, locked bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host != by {
		return ErrNotHost
	}
	r.locked = locked
	if locked {
		r.recruiting = false
	}
	r.message(protocol.Message{Type: protocol.MsgLockRoom, Lock: locked})
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

// SetCycle toggles host-rotation mode; host-only (§4.8).
func (r *Room) SetCycle(by *User, cycle bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host != by {
		return ErrNotHost
	}
	r.cycle = cycle
	r.message(protocol.Message{Type: protocol.MsgCycleRoom, Cycle: cycle})
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

// SelectChart records the chosen chart; host-only, SelectChart state only
// (§4.8). chartName is resolved by the caller via internal/identity before
// the lock is taken (§5, §9 "external HTTP inside command handling").
func (r *Room) SelectChart(by *User, chartID int32, chartName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host != by {
		return ErrNotHost
	}
	if r.state != protocol.RoomStateSelectChart {
		return ErrWrongState
	}
	r.selectedChartID = &chartID
	r.message(protocol.Message{Type: protocol.MsgSelectChart, User: by.ID, Name: chartName, ChartID: chartID})
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

// RequestStart begins the ready-check phase; host-only (§4.8).
func (r *Room) RequestStart(by *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.host != by {
		return ErrNotHost
	}
	if r.state != protocol.RoomStateSelectChart {
		return ErrWrongState
	}
	if r.selectedChartID == nil {
		return ErrNoChartSelected
	}
	r.ready[by.ID] = struct{}{}
	r.message(protocol.Message{Type: protocol.MsgGameStart, User: by.ID})
	r.changeState(protocol.RoomStateWaitingForReady)
	r.evaluateLocked()
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

// Ready marks u as ready during WaitingForReady (§4.8).
func (r *Room) Ready(u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != protocol.RoomStateWaitingForReady {
		return ErrWrongState
	}
	r.ready[u.ID] = struct{}{}
	r.message(protocol.Message{Type: protocol.MsgReady, User: u.ID})
	r.evaluateLocked()
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

// CancelReady reverts readiness. Host cancellation resets the whole room to
// SelectChart; a non-host cancellation only removes the issuer (§4.8).
func (r *Room) CancelReady(u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != protocol.RoomStateWaitingForReady {
		return ErrWrongState
	}
	if r.host == u {
		r.ready = make(map[int32]struct{})
		r.playResults = make(map[int32]PlayResult)
		r.aborted = make(map[int32]struct{})
		r.message(protocol.Message{Type: protocol.MsgCancelGame, User: u.ID})
		r.changeState(protocol.RoomStateSelectChart)
	} else {
		delete(r.ready, u.ID)
		r.message(protocol.Message{Type: protocol.MsgCancelReady, User: u.ID})
	}
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

// StartGameManually is the admin-forced WaitingForReady→Playing transition
// (§4.8). If force is false it still requires every member to be ready.
func (r *Room) StartGameManually(force bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != protocol.RoomStateWaitingForReady {
		return ErrWrongState
	}
	if !force && !r.allReadyLocked() {
		return ErrWrongState
	}
	r.enterPlayingLocked()
	return nil
}

func (r *Room) allReadyLocked() bool {
	for _, p := range r.players {
		if _, ok := r.ready[p.ID]; !ok {
			return false
		}
	}
	for _, m := range r.monitors {
		if _, ok := r.ready[m.ID]; !ok {
			return false
		}
	}
	return true
}

func (r *Room) enterPlayingLocked() {
	r.playResults = make(map[int32]PlayResult)
	r.playRecordIDs = make(map[int32]int32)
	r.aborted = make(map[int32]struct{})

	if r.registry.ReplayRecordingEnabled() && r.selectedChartID != nil {
		for _, p := range r.players {
			w, err := r.registry.startReplay(p.ID, *r.selectedChartID)
			if err != nil {
				r.logger.Warn("failed to start replay writer", "user_id", p.ID, "err", err)
				continue
			}
			p.SetReplayWriter(w)
		}
	}

	r.message(protocol.Message{Type: protocol.MsgStartPlaying})
	r.changeState(protocol.RoomStatePlaying)
}

func (r *Room) evaluateLocked() {
	switch r.state {
	case protocol.RoomStateWaitingForReady:
		if !r.contestMode && r.allReadyLocked() {
			r.enterPlayingLocked()
		}
	case protocol.RoomStatePlaying:
		if r.allResolvedLocked() {
			r.finishPlayingLocked()
		}
	}
}

func (r *Room) allResolvedLocked() bool {
	for _, p := range r.players {
		_, played := r.playResults[p.ID]
		_, gaveUp := r.aborted[p.ID]
		if !played && !gaveUp {
			return false
		}
	}
	return true
}

// Played records u's result, stops its replay recording with the final
// record id, and re-evaluates completion (§4.8). recordID validation
// against the external record service happens in the caller (§4.6, §9).
func (r *Room) Played(u *User, recordID int32, score int32, accuracy float32, fullCombo bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != protocol.RoomStatePlaying {
		return ErrNotPlaying
	}
	if _, ok := r.playResults[u.ID]; ok {
		return ErrAlreadyResulted
	}
	if _, ok := r.aborted[u.ID]; ok {
		return ErrAlreadyResulted
	}
	r.playResults[u.ID] = PlayResult{Score: score, Accuracy: accuracy, FullCombo: fullCombo}
	r.playRecordIDs[u.ID] = recordID
	u.touchGameTime()
	if w := u.ReplayWriterFor(); w != nil {
		if err := w.UpdateRecordID(recordID); err != nil {
			r.logger.Warn("replay UpdateRecordID failed", "user_id", u.ID, "err", err)
		}
	}
	r.message(protocol.Message{Type: protocol.MsgPlayed, User: u.ID, Score: score, Accuracy: accuracy, FullCombo: fullCombo})
	r.evaluateLocked()
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

// Abort marks u as having given up on the current play (§4.8).
func (r *Room) Abort(u *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != protocol.RoomStatePlaying {
		return ErrNotPlaying
	}
	if _, ok := r.playResults[u.ID]; ok {
		return ErrAlreadyResulted
	}
	r.aborted[u.ID] = struct{}{}
	u.touchGameTime()
	r.message(protocol.Message{Type: protocol.MsgAbort, User: u.ID})
	r.evaluateLocked()
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
	return nil
}

func (r *Room) finishPlayingLocked() {
	for _, p := range r.players {
		if w := p.ReplayWriterFor(); w != nil {
			if err := w.Dispose(); err != nil {
				r.logger.Warn("replay Dispose failed", "user_id", p.ID, "err", err)
			}
			p.SetReplayWriter(nil)
		}
	}
	r.message(protocol.Message{Type: protocol.MsgGameEnd})

	if r.contestMode {
		r.logger.Info("contest room disbanding after play", "room_id", r.ID)
		r.message(protocol.Message{Type: protocol.MsgChat, User: SystemUserID, Name: "房间已被管理员解散:比赛已结束"})
		r.registry.emit(Event{Kind: EventRoomLog, RoomID: r.ID, Message: "contest ended, room disbanding"})
		r.state = protocol.RoomStatePlaying // frozen; registry tears the room down below
		go r.registry.disbandRoom(r, "contest ended")
		return
	}

	r.ready = make(map[int32]struct{})
	if r.cycle && len(r.players) >= 2 {
		oldHost := r.host
		idx := r.playerIndex(oldHost)
		newHost := r.players[(idx+1)%len(r.players)]
		r.host = newHost
		oldHost.Send(protocol.CmdChangeHost{IsHost: false})
		newHost.Send(protocol.CmdChangeHost{IsHost: true})
		r.message(protocol.Message{Type: protocol.MsgNewHost, User: newHost.ID})
	}
	r.changeState(protocol.RoomStateSelectChart)
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
}

// SetContestMode toggles whitelist gating (admin operation, §6).
func (r *Room) SetContestMode(enabled bool, whitelist []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contestMode = enabled
	if whitelist != nil {
		r.whitelist = make(map[int64]struct{}, len(whitelist))
		for _, id := range whitelist {
			r.whitelist[id] = struct{}{}
		}
	}
	r.registry.emit(Event{Kind: EventRoomUpdate, RoomID: r.ID})
}

// SetWhitelist replaces the contest whitelist without touching contestMode.
func (r *Room) SetWhitelist(whitelist []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whitelist = make(map[int64]struct{}, len(whitelist))
	for _, id := range whitelist {
		r.whitelist[id] = struct{}{}
	}
}

// SetMaxPlayerCount is an admin operation (§6 POST /admin/rooms/{id}/max_users).
func (r *Room) SetMaxPlayerCount(n int) {
	r.mu.Lock()
	r.maxPlayerCount = n
	r.mu.Unlock()
}

// BroadcastTouches relays u's reported touch frames to every other room
// member while the room is Playing (§4.8, high-frequency input push), and
// appends the raw command payload to u's active replay recording, if any
// (§4.7).
func (r *Room) BroadcastTouches(u *User, frames []protocol.TouchFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != protocol.RoomStatePlaying {
		return
	}
	if w := u.ReplayWriterFor(); w != nil {
		_ = w.WriteTouches(protocol.EncodeClientCommand(protocol.CmdTouches{Frames: frames}))
	}
	r.broadcastExcept(u.ID, protocol.CmdTouchesPush{PlayerID: u.ID, Frames: frames})
}

// BroadcastJudges relays u's reported note judgements to every other room
// member while the room is Playing (§4.8), and appends the raw command
// payload to u's active replay recording, if any (§4.7).
func (r *Room) BroadcastJudges(u *User, events []protocol.JudgeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != protocol.RoomStatePlaying {
		return
	}
	if w := u.ReplayWriterFor(); w != nil {
		_ = w.WriteJudges(protocol.EncodeClientCommand(protocol.CmdJudges{Events: events}))
	}
	r.broadcastExcept(u.ID, protocol.CmdJudgesPush{PlayerID: u.ID, Events: events})
}

// Chat relays a chat message from u to the room (§4.8).
func (r *Room) Chat(u *User, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.message(protocol.Message{Type: protocol.MsgChat, User: u.ID, Name: text})
}

// SystemChat broadcasts a server-originated chat line (§4.8, admin broadcast).
func (r *Room) SystemChat(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.message(protocol.Message{Type: protocol.MsgChat, User: SystemUserID, Name: text})
	r.registry.emit(Event{Kind: EventRoomLog, RoomID: r.ID, Message: text})
}

// CanJoinRandomly reports whether the room is eligible for random matching
// (§4.8 "Join to random recruiting room").
func (r *Room) CanJoinRandomly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recruiting && !r.locked && len(r.players) < r.maxPlayerCount
}

// closeAllSessions force-disconnects every member; used on disband.
func (r *Room) closeAllSessions() {
	r.mu.Lock()
	members := make([]*User, 0, len(r.players)+len(r.monitors))
	members = append(members, r.players...)
	for _, m := range r.monitors {
		members = append(members, m)
	}
	r.mu.Unlock()
	for _, u := range members {
		u.mu.RLock()
		s := u.sender
		u.mu.RUnlock()
		if s != nil {
			s.CloseSession()
		}
	}
}

// String implements fmt.Stringer for convenient logging.
func (r *Room) String() string {
	return fmt.Sprintf("Room(%s)", r.ID)
}
