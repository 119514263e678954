package protocol

import (
	"bytes"
	"reflect"
	"testing"
)

func roundTripClient(t *testing.T, cmd ClientCommand) ClientCommand {
	t.Helper()
	body := EncodeClientCommand(cmd)
	r := NewReader(bytes.NewReader(body))
	got, err := DecodeClientCommand(r)
	if err != nil {
		t.Fatalf("decode %T: %v", cmd, err)
	}
	return got
}

func TestClientCommandRoundTrip(t *testing.T) {
	chartID := int32(77)
	cases := []ClientCommand{
		CmdPing{},
		CmdAuthenticate{Token: "session-token"},
		CmdChat{Message: "hi everyone"},
		CmdTouches{Frames: []TouchFrame{{Time: 1.5, Touches: []Touch{{PointerID: 2, X: 0.25, Y: -0.5}}}}},
		CmdJudges{Events: []JudgeEvent{{Time: 2.25, LineID: 1, NoteID: 9, Judgement: 3}}},
		CmdCreateRoom{RoomID: "ABC123"},
		CmdCreateRoom{RoomID: "0"},
		CmdJoinRoom{RoomID: "ABC123", Monitor: true},
		CmdLeaveRoom{},
		CmdLockRoom{Lock: true},
		CmdCycleRoom{Cycle: true},
		CmdSelectChart{ChartID: chartID},
		CmdRequestStart{},
		CmdReady{},
		CmdCancelReady{},
		CmdPlayed{RecordID: 7},
		CmdAbort{},
	}
	for _, c := range cases {
		got := roundTripClient(t, c)
		if !reflect.DeepEqual(got, c) {
			t.Errorf("round trip mismatch: got %#v want %#v", got, c)
		}
	}
}

func roundTripServer(t *testing.T, cmd ServerCommand) ServerCommand {
	t.Helper()
	body := EncodeServerCommand(cmd)
	r := NewReader(bytes.NewReader(body))
	got, err := DecodeServerCommand(r)
	if err != nil {
		t.Fatalf("decode %T: %v", cmd, err)
	}
	return got
}

func TestServerCommandRoundTrip(t *testing.T) {
	chartID := int32(42)
	room := ClientRoomState{
		RoomID: "ABC123",
		State:  RoomStateWaitingForReady,
		Live:   true,
		IsHost: true,
		Members: []RoomMember{
			{ID: 1, Info: UserInfo{ID: 1, Name: "host"}},
		},
		SelectedChartID: &chartID,
	}
	cases := []ServerCommand{
		CmdPong{},
		CmdAuthenticateResult{Result: Ok(AuthOutcome{User: UserInfo{ID: 1, Name: "host"}, Room: &room})},
		CmdAuthenticateResult{Result: Fail[AuthOutcome]("bad token")},
		CmdChatResult{Result: Ok(struct{}{})},
		CmdTouchesPush{PlayerID: 2, Frames: []TouchFrame{{Time: 0.1}}},
		CmdJudgesPush{PlayerID: 2, Events: []JudgeEvent{{Time: 0.2, LineID: 1, NoteID: 2, Judgement: 0}}},
		CmdMessagePush{Message: Message{Type: MsgChat, User: 1, Name: "hi"}},
		CmdMessagePush{Message: Message{Type: MsgSelectChart, User: 1, Name: "host", ChartID: chartID}},
		CmdMessagePush{Message: Message{Type: MsgPlayed, User: 1, Score: 1000000, Accuracy: 1.0, FullCombo: true}},
		CmdMessagePush{Message: Message{Type: MsgStartPlaying}},
		CmdMessagePush{Message: Message{Type: MsgLockRoom, Lock: true}},
		CmdChangeState{State: RoomStatePlaying, ChartID: &chartID},
		CmdChangeHost{IsHost: true},
		CmdCreateRoomResult{Result: Ok(struct{}{})},
		CmdJoinRoomResult{Result: Ok(JoinRoomResponse{State: RoomStateSelectChart, Users: []UserInfo{{ID: 1, Name: "a"}}, Live: false})},
		CmdOnJoinRoom{User: UserInfo{ID: 2, Name: "b", Monitor: true}},
		CmdLeaveRoomResult{Result: Fail[struct{}]("not in room")},
		CmdLockRoomResult{Result: Ok(struct{}{})},
		CmdCycleRoomResult{Result: Ok(struct{}{})},
		CmdSelectChartResult{Result: Ok(struct{}{})},
		CmdRequestStartResult{Result: Ok(struct{}{})},
		CmdReadyResult{Result: Ok(struct{}{})},
		CmdCancelReadyResult{Result: Ok(struct{}{})},
		CmdPlayedResult{Result: Ok(struct{}{})},
		CmdAbortResult{Result: Ok(struct{}{})},
	}
	for _, c := range cases {
		got := roundTripServer(t, c)
		if !reflect.DeepEqual(got, c) {
			t.Errorf("round trip mismatch: got %#v want %#v", got, c)
		}
	}
}

func TestDecodeUnknownTagsFail(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{250}))
	if _, err := DecodeClientCommand(r); err == nil {
		t.Fatal("expected error for unknown client tag")
	}
	r = NewReader(bytes.NewReader([]byte{250}))
	if _, err := DecodeServerCommand(r); err == nil {
		t.Fatal("expected error for unknown server tag")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	payload := EncodeClientCommand(CmdChat{Message: "frame me"})
	if err := fw.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	fr := NewFrameReader(&buf)
	got, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("frame payload mismatch: got %v want %v", got, payload)
	}
}
