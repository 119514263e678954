package protocol

import "fmt"

// Client→server command tags (§4.3).
const (
	TagPing          = 0
	TagAuthenticate  = 1
	TagChat          = 2
	TagTouches       = 3
	TagJudges        = 4
	TagCreateRoom    = 5
	TagJoinRoom      = 6
	TagLeaveRoom     = 7
	TagLockRoom      = 8
	TagCycleRoom     = 9
	TagSelectChart   = 10
	TagRequestStart  = 11
	TagReady         = 12
	TagCancelReady   = 13
	TagPlayed        = 14
	TagAbort         = 15
)

// Server→client command tags (§4.3).
const (
	STagPong           = 0
	STagAuthenticate   = 1
	STagChat           = 2
	STagTouches        = 3
	STagJudges         = 4
	STagMessage        = 5
	STagChangeState    = 6
	STagChangeHost     = 7
	STagCreateRoom     = 8
	STagJoinRoom       = 9
	STagOnJoinRoom     = 10
	STagLeaveRoom      = 11
	STagLockRoom       = 12
	STagCycleRoom      = 13
	STagSelectChart    = 14
	STagRequestStart   = 15
	STagReady          = 16
	STagCancelReady    = 17
	STagPlayed         = 18
	STagAbort          = 19
)

// Message (broadcast-inside-room event) tags (§4.3).
const (
	MsgChat        = 0
	MsgCreateRoom  = 1
	MsgJoinRoom    = 2
	MsgLeaveRoom   = 3
	MsgNewHost     = 4
	MsgSelectChart = 5
	MsgGameStart   = 6
	MsgReady       = 7
	MsgCancelReady = 8
	MsgCancelGame  = 9
	MsgStartPlaying = 10
	MsgPlayed      = 11
	MsgGameEnd     = 12
	MsgAbort       = 13
	MsgLockRoom    = 14
	MsgCycleRoom   = 15
)

// RoomState is the single-byte room lifecycle tag shared by several
// commands.
type RoomState byte

const (
	RoomStateSelectChart     RoomState = 0
	RoomStateWaitingForReady RoomState = 1
	RoomStatePlaying         RoomState = 2
)

// String renders a RoomState for logs and JSON projections.
func (s RoomState) String() string {
	switch s {
	case RoomStateSelectChart:
		return "SelectChart"
	case RoomStateWaitingForReady:
		return "WaitingForReady"
	case RoomStatePlaying:
		return "Playing"
	default:
		return "Unknown"
	}
}

// Touch is one pointer sample within a TouchFrame.
type Touch struct {
	PointerID int8
	X, Y      float32
}

// TouchFrame is one client-reported instant of touch input.
type TouchFrame struct {
	Time    float32
	Touches []Touch
}

// JudgeEvent is one note judgement reported by a client.
type JudgeEvent struct {
	Time      float32
	LineID    uint32
	NoteID    uint32
	Judgement uint8
}

// UserInfo is the minimal identity projected to peers.
type UserInfo struct {
	ID      int32
	Name    string
	Monitor bool
}

// RoomMember pairs a UserInfo with the id it was addressed by in a room
// roster (the wire format repeats the id redundantly alongside UserInfo).
type RoomMember struct {
	ID   int32
	Info UserInfo
}

// ClientRoomState is the room snapshot handed back to a (re)authenticating
// client that is already seated in a room.
type ClientRoomState struct {
	RoomID          string
	State           RoomState
	Live            bool
	Locked          bool
	Cycle           bool
	IsHost          bool
	IsReady         bool
	Members         []RoomMember
	SelectedChartID *int32
}

// JoinRoomResponse is returned to a client that successfully joined a room.
type JoinRoomResponse struct {
	State RoomState
	Users []UserInfo
	Live  bool
}

// AuthOutcome is the payload of a successful Authenticate result.
type AuthOutcome struct {
	User UserInfo
	Room *ClientRoomState
}

// Message is a server-originated event broadcast within a room.
type Message struct {
	Type      int
	User      int32
	Name      string
	ChartID   int32
	Score     int32
	Accuracy  float32
	FullCombo bool
	Lock      bool
	Cycle     bool
}

// Result is the generic success/failure envelope used by every
// server→client response to a client request: one bool, then either the
// value or a UTF-8 error string.
type Result[T any] struct {
	Value *T
	Err   string
}

// Ok constructs a successful Result.
func Ok[T any](v T) Result[T] { return Result[T]{Value: &v} }

// Fail constructs a failed Result.
func Fail[T any](reason string) Result[T] { return Result[T]{Err: reason} }

// IsOk reports whether the result succeeded.
func (r Result[T]) IsOk() bool { return r.Value != nil }

func encodeResult[T any](w *Writer, r Result[T], encodeValue func(*Writer, T)) {
	w.WriteBool(r.IsOk())
	if r.IsOk() {
		encodeValue(w, *r.Value)
	} else {
		w.WriteString(r.Err)
	}
}

func decodeResult[T any](r *Reader, decodeValue func(*Reader) (T, error)) (Result[T], error) {
	ok, err := r.ReadBool()
	if err != nil {
		return Result[T]{}, err
	}
	if ok {
		v, err := decodeValue(r)
		if err != nil {
			return Result[T]{}, err
		}
		return Ok(v), nil
	}
	reason, err := r.ReadString()
	if err != nil {
		return Result[T]{}, err
	}
	return Fail[T](reason), nil
}

func encodeUnit(*Writer, struct{}) {}

func decodeUnit(*Reader) (struct{}, error) { return struct{}{}, nil }

func encodeUserInfo(w *Writer, u UserInfo) {
	w.WriteI32(u.ID)
	w.WriteString(u.Name)
	w.WriteBool(u.Monitor)
}

func decodeUserInfo(r *Reader) (UserInfo, error) {
	id, err := r.ReadI32()
	if err != nil {
		return UserInfo{}, err
	}
	name, err := r.ReadString()
	if err != nil {
		return UserInfo{}, err
	}
	monitor, err := r.ReadBool()
	if err != nil {
		return UserInfo{}, err
	}
	return UserInfo{ID: id, Name: name, Monitor: monitor}, nil
}

func encodeClientRoomState(w *Writer, s ClientRoomState) {
	w.WriteString(s.RoomID)
	w.WriteByte(byte(s.State))
	w.WriteBool(s.Live)
	w.WriteBool(s.Locked)
	w.WriteBool(s.Cycle)
	w.WriteBool(s.IsHost)
	w.WriteBool(s.IsReady)
	w.WriteULEB128(uint32(len(s.Members)))
	for _, m := range s.Members {
		w.WriteI32(m.ID)
		encodeUserInfo(w, m.Info)
	}
	w.WriteOptionalI32(s.SelectedChartID)
}

func decodeClientRoomState(r *Reader) (ClientRoomState, error) {
	var s ClientRoomState
	var err error
	if s.RoomID, err = r.ReadString(); err != nil {
		return s, err
	}
	state, err := r.ReadByte()
	if err != nil {
		return s, err
	}
	s.State = RoomState(state)
	if s.Live, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.Locked, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.Cycle, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.IsHost, err = r.ReadBool(); err != nil {
		return s, err
	}
	if s.IsReady, err = r.ReadBool(); err != nil {
		return s, err
	}
	n, err := r.ReadULEB128()
	if err != nil {
		return s, err
	}
	s.Members = make([]RoomMember, 0, n)
	for i := uint32(0); i < n; i++ {
		id, err := r.ReadI32()
		if err != nil {
			return s, err
		}
		info, err := decodeUserInfo(r)
		if err != nil {
			return s, err
		}
		s.Members = append(s.Members, RoomMember{ID: id, Info: info})
	}
	s.SelectedChartID, err = r.ReadOptionalI32()
	return s, err
}

func encodeJoinRoomResponse(w *Writer, j JoinRoomResponse) {
	w.WriteByte(byte(j.State))
	w.WriteULEB128(uint32(len(j.Users)))
	for _, u := range j.Users {
		encodeUserInfo(w, u)
	}
	w.WriteBool(j.Live)
}

func decodeJoinRoomResponse(r *Reader) (JoinRoomResponse, error) {
	var j JoinRoomResponse
	state, err := r.ReadByte()
	if err != nil {
		return j, err
	}
	j.State = RoomState(state)
	n, err := r.ReadULEB128()
	if err != nil {
		return j, err
	}
	j.Users = make([]UserInfo, 0, n)
	for i := uint32(0); i < n; i++ {
		u, err := decodeUserInfo(r)
		if err != nil {
			return j, err
		}
		j.Users = append(j.Users, u)
	}
	j.Live, err = r.ReadBool()
	return j, err
}

func encodeAuthOutcome(w *Writer, a AuthOutcome) {
	encodeUserInfo(w, a.User)
	w.WriteBool(a.Room != nil)
	if a.Room != nil {
		encodeClientRoomState(w, *a.Room)
	}
}

func decodeAuthOutcome(r *Reader) (AuthOutcome, error) {
	var a AuthOutcome
	u, err := decodeUserInfo(r)
	if err != nil {
		return a, err
	}
	a.User = u
	present, err := r.ReadBool()
	if err != nil {
		return a, err
	}
	if present {
		room, err := decodeClientRoomState(r)
		if err != nil {
			return a, err
		}
		a.Room = &room
	}
	return a, nil
}

func encodeTouchFrames(w *Writer, frames []TouchFrame) {
	w.WriteULEB128(uint32(len(frames)))
	for _, f := range frames {
		w.WriteF32(f.Time)
		w.WriteULEB128(uint32(len(f.Touches)))
		for _, t := range f.Touches {
			w.WriteI8(t.PointerID)
			w.WriteHalf(t.X)
			w.WriteHalf(t.Y)
		}
	}
}

func decodeTouchFrames(r *Reader) ([]TouchFrame, error) {
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	frames := make([]TouchFrame, 0, n)
	for i := uint32(0); i < n; i++ {
		time, err := r.ReadF32()
		if err != nil {
			return nil, err
		}
		m, err := r.ReadULEB128()
		if err != nil {
			return nil, err
		}
		var touches []Touch
		if m > 0 {
			touches = make([]Touch, 0, m)
		}
		for j := uint32(0); j < m; j++ {
			pid, err := r.ReadI8()
			if err != nil {
				return nil, err
			}
			x, err := r.ReadHalf()
			if err != nil {
				return nil, err
			}
			y, err := r.ReadHalf()
			if err != nil {
				return nil, err
			}
			touches = append(touches, Touch{PointerID: pid, X: x, Y: y})
		}
		frames = append(frames, TouchFrame{Time: time, Touches: touches})
	}
	return frames, nil
}

func encodeJudgeEvents(w *Writer, events []JudgeEvent) {
	w.WriteULEB128(uint32(len(events)))
	for _, e := range events {
		w.WriteF32(e.Time)
		w.WriteU32(e.LineID)
		w.WriteU32(e.NoteID)
		w.WriteByte(e.Judgement)
	}
}

func decodeJudgeEvents(r *Reader) ([]JudgeEvent, error) {
	n, err := r.ReadULEB128()
	if err != nil {
		return nil, err
	}
	events := make([]JudgeEvent, 0, n)
	for i := uint32(0); i < n; i++ {
		time, err := r.ReadF32()
		if err != nil {
			return nil, err
		}
		lineID, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		noteID, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		judgement, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		events = append(events, JudgeEvent{Time: time, LineID: lineID, NoteID: noteID, Judgement: judgement})
	}
	return events, nil
}

func encodeMessage(w *Writer, m Message) {
	w.WriteByte(byte(m.Type))
	switch m.Type {
	case MsgChat:
		w.WriteI32(m.User)
		w.WriteString(m.Name)
	case MsgCreateRoom, MsgNewHost, MsgGameStart, MsgReady, MsgCancelReady, MsgCancelGame, MsgAbort:
		w.WriteI32(m.User)
	case MsgJoinRoom, MsgLeaveRoom:
		w.WriteI32(m.User)
		w.WriteString(m.Name)
	case MsgSelectChart:
		w.WriteI32(m.User)
		w.WriteString(m.Name)
		w.WriteI32(m.ChartID)
	case MsgStartPlaying, MsgGameEnd:
		// no payload
	case MsgPlayed:
		w.WriteI32(m.User)
		w.WriteI32(m.Score)
		w.WriteF32(m.Accuracy)
		w.WriteBool(m.FullCombo)
	case MsgLockRoom:
		w.WriteBool(m.Lock)
	case MsgCycleRoom:
		w.WriteBool(m.Cycle)
	}
}

func decodeMessage(r *Reader) (Message, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return Message{}, err
	}
	m := Message{Type: int(tagByte)}
	switch m.Type {
	case MsgChat, MsgJoinRoom, MsgLeaveRoom:
		if m.User, err = r.ReadI32(); err != nil {
			return m, err
		}
		m.Name, err = r.ReadString()
	case MsgCreateRoom, MsgNewHost, MsgGameStart, MsgReady, MsgCancelReady, MsgCancelGame, MsgAbort:
		m.User, err = r.ReadI32()
	case MsgSelectChart:
		if m.User, err = r.ReadI32(); err != nil {
			return m, err
		}
		if m.Name, err = r.ReadString(); err != nil {
			return m, err
		}
		m.ChartID, err = r.ReadI32()
	case MsgStartPlaying, MsgGameEnd:
		// no payload
	case MsgPlayed:
		if m.User, err = r.ReadI32(); err != nil {
			return m, err
		}
		if m.Score, err = r.ReadI32(); err != nil {
			return m, err
		}
		if m.Accuracy, err = r.ReadF32(); err != nil {
			return m, err
		}
		m.FullCombo, err = r.ReadBool()
	case MsgLockRoom:
		m.Lock, err = r.ReadBool()
	case MsgCycleRoom:
		m.Cycle, err = r.ReadBool()
	default:
		return m, fmt.Errorf("protocol: unknown message tag %d", m.Type)
	}
	return m, err
}
