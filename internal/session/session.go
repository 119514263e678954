// Session binds one Pipeline to a process-wide room.User and dispatches
// every decoded ClientCommand (§4.5). Grounded on the teacher's Session
// (client.go, now removed — see DESIGN.md) for the authenticate-then-dispatch
// shape and the unauthenticated-command gating; adapted from its WebTransport
// datagram/stream split to the single ULEB128-framed net.Conn used here.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BennettNotFound/dotphira-mp/internal/identity"
	"github.com/BennettNotFound/dotphira-mp/internal/protocol"
	"github.com/BennettNotFound/dotphira-mp/internal/room"
)

// Config carries the per-process session tunables (§4.5, §7).
type Config struct {
	// WelcomeMessage is posted as a private system chat line ~300ms after a
	// successful authenticate. Empty disables it.
	WelcomeMessage string
	// SuppressWelcomeUserID never receives the welcome line (used for a
	// privileged/service account that reconnects often).
	SuppressWelcomeUserID int32
	// HeartbeatInterval is how often the idle check runs.
	HeartbeatInterval time.Duration
	// IdleTimeout is the max allowed gap since the last received frame
	// before the connection is treated as lost.
	IdleTimeout time.Duration
	// RequestTimeout bounds each outbound identity service call.
	RequestTimeout time.Duration
}

// DefaultConfig returns the tunables used when main.go doesn't override them.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Second,
		IdleTimeout:       10 * time.Second,
		RequestTimeout:    5 * time.Second,
	}
}

// Session is one accepted connection: a Pipeline plus the authenticate and
// command-dispatch state machine layered on top of it.
type Session struct {
	id       uuid.UUID
	pipeline *Pipeline
	registry *room.Registry
	identity *identity.Client
	logger   *slog.Logger
	cfg      Config

	mu   sync.RWMutex
	user *room.User

	stop chan struct{}
	once sync.Once
}

// New constructs a Session around conn. The caller must call Serve to run it.
func New(conn net.Conn, logger *slog.Logger, registry *room.Registry, idc *identity.Client, cfg Config) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	s := &Session{
		id:       id,
		registry: registry,
		identity: idc,
		logger:   logger.With("session_id", id.String()),
		cfg:      cfg,
		stop:     make(chan struct{}),
	}
	s.pipeline = NewPipeline(conn, s.logger, s.handle, s.handleClosed)
	return s
}

// ID implements room.SessionHandle.
func (s *Session) ID() uuid.UUID { return s.id }

// Close implements room.SessionHandle and room.Sender.CloseSession: it tears
// down the pipeline, which triggers handleClosed exactly once.
func (s *Session) Close() {
	s.pipeline.Close()
}

// CloseSession implements room.Sender.
func (s *Session) CloseSession() { s.Close() }

// SendServer implements room.Sender.
func (s *Session) SendServer(cmd protocol.ServerCommand) {
	s.pipeline.Enqueue(protocol.EncodeServerCommand(cmd))
}

// Serve reads the leading protocol version byte, registers the session, and
// then runs the pipeline until the connection closes (§4.3, §4.9).
func (s *Session) Serve() {
	if _, err := s.pipeline.ReadVersionByte(); err != nil {
		s.logger.Debug("connection closed before version byte", "err", err)
		return
	}
	s.registry.RegisterSession(s)
	go s.heartbeatLoop()
	s.pipeline.Run()
}

func (s *Session) boundUser() *room.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) bind(u *room.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Session) heartbeatLoop() {
	t := time.NewTicker(s.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			if time.Since(s.pipeline.LastActivity()) > s.cfg.IdleTimeout {
				s.logger.Debug("idle timeout, closing connection")
				s.pipeline.Close()
				return
			}
		}
	}
}

// handleClosed runs the connection-lost cleanup exactly once (§4.9).
func (s *Session) handleClosed(err error) {
	s.once.Do(func() {
		close(s.stop)
		u := s.boundUser()
		if u != nil {
			s.registry.HandleConnectionLost(u)
		}
		s.registry.RemoveSession(s.id)
		if err != nil {
			s.logger.Debug("connection closed", "err", err)
		}
	})
}

func (s *Session) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
}

// handle dispatches one decoded ClientCommand. It is invoked synchronously
// from the pipeline's receiver goroutine, so every room/registry call below
// is free to block briefly without risking reordering frames from this
// connection (§4.4, §4.5).
func (s *Session) handle(cmd protocol.ClientCommand) {
	if _, ok := cmd.(protocol.CmdPing); ok {
		s.SendServer(protocol.CmdPong{})
		return
	}
	if c, ok := cmd.(protocol.CmdAuthenticate); ok {
		s.handleAuthenticate(c.Token)
		return
	}

	u := s.boundUser()
	if u == nil {
		// Unauthenticated: every other command is silently ignored (§4.5).
		return
	}

	switch c := cmd.(type) {
	case protocol.CmdChat:
		s.handleChat(u, c)
	case protocol.CmdTouches:
		s.handleTouches(u, c)
	case protocol.CmdJudges:
		s.handleJudges(u, c)
	case protocol.CmdCreateRoom:
		s.handleCreateRoom(u, c)
	case protocol.CmdJoinRoom:
		s.handleJoinRoom(u, c)
	case protocol.CmdLeaveRoom:
		s.handleLeaveRoom(u)
	case protocol.CmdLockRoom:
		s.respondUnit(u, protocol.STagLockRoom, func(r *room.Room) error { return r.SetLocked(u, c.Lock) })
	case protocol.CmdCycleRoom:
		s.respondUnit(u, protocol.STagCycleRoom, func(r *room.Room) error { return r.SetCycle(u, c.Cycle) })
	case protocol.CmdSelectChart:
		s.handleSelectChart(u, c)
	case protocol.CmdRequestStart:
		s.respondUnit(u, protocol.STagRequestStart, func(r *room.Room) error { return r.RequestStart(u) })
	case protocol.CmdReady:
		s.respondUnit(u, protocol.STagReady, func(r *room.Room) error { return r.Ready(u) })
	case protocol.CmdCancelReady:
		s.respondUnit(u, protocol.STagCancelReady, func(r *room.Room) error { return r.CancelReady(u) })
	case protocol.CmdPlayed:
		s.handlePlayed(u, c)
	case protocol.CmdAbort:
		s.respondUnit(u, protocol.STagAbort, func(r *room.Room) error { return r.Abort(u) })
	default:
		s.logger.Warn("unhandled client command", "type", fmt.Sprintf("%T", cmd))
	}
}

func (s *Session) handleAuthenticate(token string) {
	ctx, cancel := s.requestContext()
	defer cancel()

	me, err := s.identity.Me(ctx, token)
	if err != nil {
		s.SendServer(protocol.CmdAuthenticateResult{Result: protocol.Fail[protocol.AuthOutcome]("authentication failed")})
		return
	}
	if s.registry.IsUserBanned(me.ID) {
		s.SendServer(protocol.CmdAuthenticateResult{Result: protocol.Fail[protocol.AuthOutcome]("banned")})
		return
	}

	u := s.registry.InternUser(me.ID, me.Name)
	u.Bind(s)
	s.bind(u)

	outcome := protocol.AuthOutcome{User: u.Info()}
	if r := u.Room(); r != nil {
		cs := r.ClientState(u)
		outcome.Room = &cs
	}
	s.SendServer(protocol.CmdAuthenticateResult{Result: protocol.Ok(outcome)})

	if s.cfg.WelcomeMessage != "" && me.ID != s.cfg.SuppressWelcomeUserID {
		go func() {
			time.Sleep(300 * time.Millisecond)
			s.SendServer(protocol.CmdMessagePush{Message: protocol.Message{
				Type: protocol.MsgChat,
				User: room.SystemUserID,
				Name: s.cfg.WelcomeMessage,
			}})
		}()
	}
}

func (s *Session) handleChat(u *room.User, c protocol.CmdChat) {
	r := u.Room()
	if r == nil {
		s.SendServer(protocol.CmdChatResult{Result: protocol.Fail[struct{}]("not in a room")})
		return
	}
	r.Chat(u, c.Message)
	s.SendServer(protocol.CmdChatResult{Result: protocol.Ok(struct{}{})})
}

func (s *Session) handleTouches(u *room.User, c protocol.CmdTouches) {
	r := u.Room()
	if r == nil || u.Monitor() {
		return
	}
	r.BroadcastTouches(u, c.Frames)
}

func (s *Session) handleJudges(u *room.User, c protocol.CmdJudges) {
	r := u.Room()
	if r == nil || u.Monitor() {
		return
	}
	r.BroadcastJudges(u, c.Events)
}

func (s *Session) handleCreateRoom(u *room.User, c protocol.CmdCreateRoom) {
	_, err := s.registry.CreateRoom(c.RoomID, u)
	if err != nil {
		s.SendServer(protocol.CmdCreateRoomResult{Result: protocol.Fail[struct{}](err.Error())})
		return
	}
	s.SendServer(protocol.CmdCreateRoomResult{Result: protocol.Ok(struct{}{})})
}

func (s *Session) handleJoinRoom(u *room.User, c protocol.CmdJoinRoom) {
	var r *room.Room
	var err error
	if c.RoomID == "" {
		r, err = s.registry.JoinRandomRoom(u, c.Monitor)
	} else {
		r, err = s.registry.JoinRoom(c.RoomID, u, c.Monitor)
	}
	if err != nil {
		s.SendServer(protocol.CmdJoinRoomResult{Result: protocol.Fail[protocol.JoinRoomResponse](err.Error())})
		return
	}
	snap := r.Snapshot()
	users := make([]protocol.UserInfo, 0, len(snap.Players)+len(snap.Monitors))
	users = append(users, snap.Players...)
	users = append(users, snap.Monitors...)
	s.SendServer(protocol.CmdJoinRoomResult{Result: protocol.Ok(protocol.JoinRoomResponse{
		State: snap.State,
		Users: users,
		Live:  snap.Live,
	})})
}

func (s *Session) handleLeaveRoom(u *room.User) {
	if u.Room() == nil {
		s.SendServer(protocol.CmdLeaveRoomResult{Result: protocol.Fail[struct{}]("not in a room")})
		return
	}
	s.registry.LeaveRoom(u)
	s.SendServer(protocol.CmdLeaveRoomResult{Result: protocol.Ok(struct{}{})})
}

func (s *Session) handleSelectChart(u *room.User, c protocol.CmdSelectChart) {
	r := u.Room()
	if r == nil {
		s.SendServer(protocol.CmdSelectChartResult{Result: protocol.Fail[struct{}]("not in a room")})
		return
	}

	ctx, cancel := s.requestContext()
	chart, err := s.identity.Chart(ctx, c.ChartID)
	cancel()
	name := chart.Name
	if err != nil {
		name = identity.FallbackChartName(c.ChartID)
	}

	if err := r.SelectChart(u, c.ChartID, name); err != nil {
		s.SendServer(protocol.CmdSelectChartResult{Result: protocol.Fail[struct{}](err.Error())})
		return
	}
	s.SendServer(protocol.CmdSelectChartResult{Result: protocol.Ok(struct{}{})})
}

func (s *Session) handlePlayed(u *room.User, c protocol.CmdPlayed) {
	r := u.Room()
	if r == nil {
		s.SendServer(protocol.CmdPlayedResult{Result: protocol.Fail[struct{}]("not in a room")})
		return
	}

	ctx, cancel := s.requestContext()
	rec, err := s.identity.Record(ctx, c.RecordID)
	cancel()
	if err != nil {
		s.SendServer(protocol.CmdPlayedResult{Result: protocol.Fail[struct{}]("record lookup failed")})
		return
	}
	if rec.Player != u.ID {
		s.SendServer(protocol.CmdPlayedResult{Result: protocol.Fail[struct{}]("record does not belong to this user")})
		return
	}

	if err := r.Played(u, c.RecordID, rec.Score, rec.Accuracy, rec.FullCombo); err != nil {
		s.SendServer(protocol.CmdPlayedResult{Result: protocol.Fail[struct{}](err.Error())})
		return
	}
	s.SendServer(protocol.CmdPlayedResult{Result: protocol.Ok(struct{}{})})
}

// respondUnit runs op against u's current room (failing with "not in a
// room" if there is none) and sends the matching Result[struct{}] response
// tagged tag.
func (s *Session) respondUnit(u *room.User, tag byte, op func(*room.Room) error) {
	r := u.Room()
	if r == nil {
		s.sendUnitResult(tag, protocol.Fail[struct{}]("not in a room"))
		return
	}
	if err := op(r); err != nil {
		s.sendUnitResult(tag, protocol.Fail[struct{}](err.Error()))
		return
	}
	s.sendUnitResult(tag, protocol.Ok(struct{}{}))
}

func (s *Session) sendUnitResult(tag byte, res protocol.Result[struct{}]) {
	switch tag {
	case protocol.STagLockRoom:
		s.SendServer(protocol.CmdLockRoomResult{Result: res})
	case protocol.STagCycleRoom:
		s.SendServer(protocol.CmdCycleRoomResult{Result: res})
	case protocol.STagRequestStart:
		s.SendServer(protocol.CmdRequestStartResult{Result: res})
	case protocol.STagReady:
		s.SendServer(protocol.CmdReadyResult{Result: res})
	case protocol.STagCancelReady:
		s.SendServer(protocol.CmdCancelReadyResult{Result: res})
	case protocol.STagAbort:
		s.SendServer(protocol.CmdAbortResult{Result: res})
	default:
		s.logger.Warn("sendUnitResult: unhandled tag", "tag", tag)
	}
}
