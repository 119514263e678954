package protocol

import "fmt"

// ClientCommand is any command a client may send. Concrete types live below;
// the leading byte read off the wire (a TagXxx constant) selects which one.
type ClientCommand interface {
	clientTag() byte
}

type CmdPing struct{}
type CmdAuthenticate struct{ Token string }
type CmdChat struct{ Message string }
type CmdTouches struct{ Frames []TouchFrame }
type CmdJudges struct{ Events []JudgeEvent }
type CmdCreateRoom struct {
	RoomID string
}
type CmdJoinRoom struct {
	RoomID  string
	Monitor bool
}
type CmdLeaveRoom struct{}
type CmdLockRoom struct{ Lock bool }
type CmdCycleRoom struct{ Cycle bool }
type CmdSelectChart struct{ ChartID int32 }
type CmdRequestStart struct{}
type CmdReady struct{}
type CmdCancelReady struct{}
type CmdPlayed struct {
	RecordID int32
}
type CmdAbort struct{}

func (CmdPing) clientTag() byte          { return TagPing }
func (CmdAuthenticate) clientTag() byte  { return TagAuthenticate }
func (CmdChat) clientTag() byte          { return TagChat }
func (CmdTouches) clientTag() byte       { return TagTouches }
func (CmdJudges) clientTag() byte        { return TagJudges }
func (CmdCreateRoom) clientTag() byte    { return TagCreateRoom }
func (CmdJoinRoom) clientTag() byte      { return TagJoinRoom }
func (CmdLeaveRoom) clientTag() byte     { return TagLeaveRoom }
func (CmdLockRoom) clientTag() byte      { return TagLockRoom }
func (CmdCycleRoom) clientTag() byte     { return TagCycleRoom }
func (CmdSelectChart) clientTag() byte   { return TagSelectChart }
func (CmdRequestStart) clientTag() byte  { return TagRequestStart }
func (CmdReady) clientTag() byte         { return TagReady }
func (CmdCancelReady) clientTag() byte   { return TagCancelReady }
func (CmdPlayed) clientTag() byte        { return TagPlayed }
func (CmdAbort) clientTag() byte         { return TagAbort }

// EncodeClientCommand encodes cmd (tag byte followed by its body) into a
// fresh frame payload.
func EncodeClientCommand(cmd ClientCommand) []byte {
	w := NewWriter()
	w.WriteByte(cmd.clientTag())
	switch c := cmd.(type) {
	case CmdPing:
	case CmdAuthenticate:
		w.WriteString(c.Token)
	case CmdChat:
		w.WriteString(c.Message)
	case CmdTouches:
		encodeTouchFrames(w, c.Frames)
	case CmdJudges:
		encodeJudgeEvents(w, c.Events)
	case CmdCreateRoom:
		w.WriteString(c.RoomID)
	case CmdJoinRoom:
		w.WriteString(c.RoomID)
		w.WriteBool(c.Monitor)
	case CmdLeaveRoom:
	case CmdLockRoom:
		w.WriteBool(c.Lock)
	case CmdCycleRoom:
		w.WriteBool(c.Cycle)
	case CmdSelectChart:
		w.WriteI32(c.ChartID)
	case CmdRequestStart:
	case CmdReady:
	case CmdCancelReady:
	case CmdPlayed:
		w.WriteI32(c.RecordID)
	case CmdAbort:
	default:
		panic(fmt.Sprintf("protocol: unhandled client command %T", cmd))
	}
	return w.Bytes()
}

type clientDecoder func(r *Reader) (ClientCommand, error)

var clientDecoders = [256]clientDecoder{
	TagPing:         func(r *Reader) (ClientCommand, error) { return CmdPing{}, nil },
	TagAuthenticate: decodeCmdAuthenticate,
	TagChat:         decodeCmdChat,
	TagTouches:      decodeCmdTouches,
	TagJudges:       decodeCmdJudges,
	TagCreateRoom:   decodeCmdCreateRoom,
	TagJoinRoom:     decodeCmdJoinRoom,
	TagLeaveRoom:    func(r *Reader) (ClientCommand, error) { return CmdLeaveRoom{}, nil },
	TagLockRoom:     decodeCmdLockRoom,
	TagCycleRoom:    decodeCmdCycleRoom,
	TagSelectChart:  decodeCmdSelectChart,
	TagRequestStart: func(r *Reader) (ClientCommand, error) { return CmdRequestStart{}, nil },
	TagReady:        func(r *Reader) (ClientCommand, error) { return CmdReady{}, nil },
	TagCancelReady:  func(r *Reader) (ClientCommand, error) { return CmdCancelReady{}, nil },
	TagPlayed:       decodeCmdPlayed,
	TagAbort:        func(r *Reader) (ClientCommand, error) { return CmdAbort{}, nil },
}

// DecodeClientCommand reads a tag byte followed by the matching command
// body. An unrecognized tag is a fatal protocol error — callers should drop
// the connection rather than attempt to resynchronize.
func DecodeClientCommand(r *Reader) (ClientCommand, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	decode := clientDecoders[tag]
	if decode == nil {
		return nil, fmt.Errorf("protocol: unknown client command tag %d", tag)
	}
	return decode(r)
}

func decodeCmdAuthenticate(r *Reader) (ClientCommand, error) {
	token, err := r.ReadString()
	return CmdAuthenticate{Token: token}, err
}

func decodeCmdChat(r *Reader) (ClientCommand, error) {
	msg, err := r.ReadString()
	return CmdChat{Message: msg}, err
}

func decodeCmdTouches(r *Reader) (ClientCommand, error) {
	frames, err := decodeTouchFrames(r)
	return CmdTouches{Frames: frames}, err
}

func decodeCmdJudges(r *Reader) (ClientCommand, error) {
	events, err := decodeJudgeEvents(r)
	return CmdJudges{Events: events}, err
}

func decodeCmdCreateRoom(r *Reader) (ClientCommand, error) {
	roomID, err := r.ReadString()
	return CmdCreateRoom{RoomID: roomID}, err
}

func decodeCmdJoinRoom(r *Reader) (ClientCommand, error) {
	roomID, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	monitor, err := r.ReadBool()
	return CmdJoinRoom{RoomID: roomID, Monitor: monitor}, err
}

func decodeCmdLockRoom(r *Reader) (ClientCommand, error) {
	lock, err := r.ReadBool()
	return CmdLockRoom{Lock: lock}, err
}

func decodeCmdCycleRoom(r *Reader) (ClientCommand, error) {
	cycle, err := r.ReadBool()
	return CmdCycleRoom{Cycle: cycle}, err
}

func decodeCmdSelectChart(r *Reader) (ClientCommand, error) {
	chartID, err := r.ReadI32()
	return CmdSelectChart{ChartID: chartID}, err
}

func decodeCmdPlayed(r *Reader) (ClientCommand, error) {
	recordID, err := r.ReadI32()
	return CmdPlayed{RecordID: recordID}, err
}

// ServerCommand is any command the server may send to a client.
type ServerCommand interface {
	serverTag() byte
}

type CmdPong struct{}
type CmdAuthenticateResult struct{ Result Result[AuthOutcome] }
type CmdChatResult struct{ Result Result[struct{}] }
type CmdTouchesPush struct {
	PlayerID int32
	Frames   []TouchFrame
}
type CmdJudgesPush struct {
	PlayerID int32
	Events   []JudgeEvent
}
type CmdMessagePush struct{ Message Message }
type CmdChangeState struct {
	State   RoomState
	ChartID *int32
}
type CmdChangeHost struct{ IsHost bool }
type CmdCreateRoomResult struct{ Result Result[struct{}] }
type CmdJoinRoomResult struct{ Result Result[JoinRoomResponse] }
type CmdOnJoinRoom struct{ User UserInfo }
type CmdLeaveRoomResult struct{ Result Result[struct{}] }
type CmdLockRoomResult struct{ Result Result[struct{}] }
type CmdCycleRoomResult struct{ Result Result[struct{}] }
type CmdSelectChartResult struct{ Result Result[struct{}] }
type CmdRequestStartResult struct{ Result Result[struct{}] }
type CmdReadyResult struct{ Result Result[struct{}] }
type CmdCancelReadyResult struct{ Result Result[struct{}] }
type CmdPlayedResult struct{ Result Result[struct{}] }
type CmdAbortResult struct{ Result Result[struct{}] }

func (CmdPong) serverTag() byte                  { return STagPong }
func (CmdAuthenticateResult) serverTag() byte     { return STagAuthenticate }
func (CmdChatResult) serverTag() byte             { return STagChat }
func (CmdTouchesPush) serverTag() byte            { return STagTouches }
func (CmdJudgesPush) serverTag() byte             { return STagJudges }
func (CmdMessagePush) serverTag() byte            { return STagMessage }
func (CmdChangeState) serverTag() byte            { return STagChangeState }
func (CmdChangeHost) serverTag() byte             { return STagChangeHost }
func (CmdCreateRoomResult) serverTag() byte       { return STagCreateRoom }
func (CmdJoinRoomResult) serverTag() byte         { return STagJoinRoom }
func (CmdOnJoinRoom) serverTag() byte             { return STagOnJoinRoom }
func (CmdLeaveRoomResult) serverTag() byte        { return STagLeaveRoom }
func (CmdLockRoomResult) serverTag() byte         { return STagLockRoom }
func (CmdCycleRoomResult) serverTag() byte        { return STagCycleRoom }
func (CmdSelectChartResult) serverTag() byte      { return STagSelectChart }
func (CmdRequestStartResult) serverTag() byte     { return STagRequestStart }
func (CmdReadyResult) serverTag() byte            { return STagReady }
func (CmdCancelReadyResult) serverTag() byte      { return STagCancelReady }
func (CmdPlayedResult) serverTag() byte           { return STagPlayed }
func (CmdAbortResult) serverTag() byte            { return STagAbort }

// EncodeServerCommand encodes cmd (tag byte followed by its body).
func EncodeServerCommand(cmd ServerCommand) []byte {
	w := NewWriter()
	w.WriteByte(cmd.serverTag())
	switch c := cmd.(type) {
	case CmdPong:
	case CmdAuthenticateResult:
		encodeResult(w, c.Result, encodeAuthOutcome)
	case CmdChatResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdTouchesPush:
		w.WriteI32(c.PlayerID)
		encodeTouchFrames(w, c.Frames)
	case CmdJudgesPush:
		w.WriteI32(c.PlayerID)
		encodeJudgeEvents(w, c.Events)
	case CmdMessagePush:
		encodeMessage(w, c.Message)
	case CmdChangeState:
		w.WriteByte(byte(c.State))
		w.WriteOptionalI32(c.ChartID)
	case CmdChangeHost:
		w.WriteBool(c.IsHost)
	case CmdCreateRoomResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdJoinRoomResult:
		encodeResult(w, c.Result, encodeJoinRoomResponse)
	case CmdOnJoinRoom:
		encodeUserInfo(w, c.User)
	case CmdLeaveRoomResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdLockRoomResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdCycleRoomResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdSelectChartResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdRequestStartResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdReadyResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdCancelReadyResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdPlayedResult:
		encodeResult(w, c.Result, encodeUnit)
	case CmdAbortResult:
		encodeResult(w, c.Result, encodeUnit)
	default:
		panic(fmt.Sprintf("protocol: unhandled server command %T", cmd))
	}
	return w.Bytes()
}

type serverDecoder func(r *Reader) (ServerCommand, error)

var serverDecoders = [256]serverDecoder{
	STagPong: func(r *Reader) (ServerCommand, error) { return CmdPong{}, nil },
	STagAuthenticate: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeAuthOutcome)
		return CmdAuthenticateResult{Result: res}, err
	},
	STagChat: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdChatResult{Result: res}, err
	},
	STagTouches: func(r *Reader) (ServerCommand, error) {
		id, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		frames, err := decodeTouchFrames(r)
		return CmdTouchesPush{PlayerID: id, Frames: frames}, err
	},
	STagJudges: func(r *Reader) (ServerCommand, error) {
		id, err := r.ReadI32()
		if err != nil {
			return nil, err
		}
		events, err := decodeJudgeEvents(r)
		return CmdJudgesPush{PlayerID: id, Events: events}, err
	},
	STagMessage: func(r *Reader) (ServerCommand, error) {
		m, err := decodeMessage(r)
		return CmdMessagePush{Message: m}, err
	},
	STagChangeState: func(r *Reader) (ServerCommand, error) {
		state, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		chartID, err := r.ReadOptionalI32()
		return CmdChangeState{State: RoomState(state), ChartID: chartID}, err
	},
	STagChangeHost: func(r *Reader) (ServerCommand, error) {
		isHost, err := r.ReadBool()
		return CmdChangeHost{IsHost: isHost}, err
	},
	STagCreateRoom: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdCreateRoomResult{Result: res}, err
	},
	STagJoinRoom: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeJoinRoomResponse)
		return CmdJoinRoomResult{Result: res}, err
	},
	STagOnJoinRoom: func(r *Reader) (ServerCommand, error) {
		u, err := decodeUserInfo(r)
		return CmdOnJoinRoom{User: u}, err
	},
	STagLeaveRoom: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdLeaveRoomResult{Result: res}, err
	},
	STagLockRoom: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdLockRoomResult{Result: res}, err
	},
	STagCycleRoom: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdCycleRoomResult{Result: res}, err
	},
	STagSelectChart: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdSelectChartResult{Result: res}, err
	},
	STagRequestStart: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdRequestStartResult{Result: res}, err
	},
	STagReady: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdReadyResult{Result: res}, err
	},
	STagCancelReady: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdCancelReadyResult{Result: res}, err
	},
	STagPlayed: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdPlayedResult{Result: res}, err
	},
	STagAbort: func(r *Reader) (ServerCommand, error) {
		res, err := decodeResult(r, decodeUnit)
		return CmdAbortResult{Result: res}, err
	},
}

// DecodeServerCommand reads a tag byte followed by the matching command
// body. An unrecognized tag is a fatal protocol error.
func DecodeServerCommand(r *Reader) (ServerCommand, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	decode := serverDecoders[tag]
	if decode == nil {
		return nil, fmt.Errorf("protocol: unknown server command tag %d", tag)
	}
	return decode(r)
}
