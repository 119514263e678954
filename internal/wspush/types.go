package wspush

import "github.com/BennettNotFound/dotphira-mp/internal/room"

// inboundMessage is the single envelope shape for every client-to-server
// WS frame (§4.10): subscribe/unsubscribe/ping/admin_subscribe/admin_unsubscribe.
type inboundMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId,omitempty"`
	Token  string `json:"token,omitempty"`
}

// outboundMessage is the single envelope shape for every server-to-client
// WS frame.
type outboundMessage struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type logLine struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// roomViewJSON is the room projection pushed on room_update and admin_update.
type roomViewJSON struct {
	ID              string           `json:"id"`
	State           string           `json:"state"`
	HostID          int32            `json:"hostId"`
	HostName        string           `json:"hostName"`
	Locked          bool             `json:"locked"`
	Cycle           bool             `json:"cycle"`
	Live            bool             `json:"live"`
	Recruiting      bool             `json:"recruiting"`
	ContestMode     bool             `json:"contestMode"`
	SelectedChartID *int32         `json:"selectedChartId,omitempty"`
	PlayerCount     int            `json:"playerCount"`
	MonitorCount    int            `json:"monitorCount"`
	Players         []userInfoJSON `json:"players"`
	Monitors        []userInfoJSON `json:"monitors"`
}

type userInfoJSON struct {
	ID   int32  `json:"id"`
	Name string `json:"name"`
}

func roomView(s room.Snapshot) roomViewJSON {
	v := roomViewJSON{
		ID:              s.ID,
		State:           s.State.String(),
		HostID:          s.HostID,
		HostName:        s.HostName,
		Locked:          s.Locked,
		Cycle:           s.Cycle,
		Live:            s.Live,
		Recruiting:      s.Recruiting,
		ContestMode:     s.ContestMode,
		SelectedChartID: s.SelectedChartID,
		PlayerCount:     len(s.Players),
		MonitorCount:    len(s.Monitors),
	}
	for _, p := range s.Players {
		v.Players = append(v.Players, userInfoJSON{ID: p.ID, Name: p.Name})
	}
	for _, m := range s.Monitors {
		v.Monitors = append(v.Monitors, userInfoJSON{ID: m.ID, Name: m.Name})
	}
	return v
}
