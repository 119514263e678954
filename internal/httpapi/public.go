package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/BennettNotFound/dotphira-mp/internal/identity"
)

type publicUser struct {
	ID        int32  `json:"id"`
	Name      string `json:"name"`
	IsMonitor bool   `json:"isMonitor"`
}

type publicRoom struct {
	ID              string       `json:"id"`
	State           string       `json:"state"`
	HostID          int32        `json:"hostId"`
	HostName        string       `json:"hostName"`
	PlayerCount     int          `json:"playerCount"`
	MonitorCount    int          `json:"monitorCount"`
	IsLocked        bool         `json:"isLocked"`
	IsCycle         bool         `json:"isCycle"`
	IsLive          bool         `json:"isLive"`
	IsRecruiting    bool         `json:"isRecruiting"`
	SelectedChartID *int32       `json:"selectedChartId,omitempty"`
	Players         []publicUser `json:"players"`
}

// handleRooms serves GET /rooms (§6).
func (s *Server) handleRooms(c echo.Context) error {
	rooms := s.registry.Rooms()
	out := make([]publicRoom, 0, len(rooms))
	for _, r := range rooms {
		snap := r.Snapshot()
		pr := publicRoom{
			ID:              snap.ID,
			State:           snap.State.String(),
			HostID:          snap.HostID,
			HostName:        snap.HostName,
			PlayerCount:     len(snap.Players),
			MonitorCount:    len(snap.Monitors),
			IsLocked:        snap.Locked,
			IsCycle:         snap.Cycle,
			IsLive:          snap.Live,
			IsRecruiting:    snap.Recruiting,
			SelectedChartID: snap.SelectedChartID,
		}
		for _, p := range snap.Players {
			pr.Players = append(pr.Players, publicUser{ID: p.ID, Name: p.Name, IsMonitor: p.Monitor})
		}
		out = append(out, pr)
	}
	return c.JSON(http.StatusOK, echo.Map{"count": len(out), "rooms": out})
}

type roomHostView struct {
	Name string `json:"name"`
	ID   int32  `json:"id"`
}

type roomChartView struct {
	Name string `json:"name"`
	ID   int32  `json:"id"`
}

type roomDetailView struct {
	RoomID  string         `json:"roomid"`
	Cycle   bool           `json:"cycle"`
	Lock    bool           `json:"lock"`
	Host    roomHostView   `json:"host"`
	State   string         `json:"state"`
	Chart   *roomChartView `json:"chart"`
	Players []publicUser   `json:"players"`
}

// handleRoom serves GET /room, resolving each selected chart's display name
// via internal/identity with a fallback on failure (§6, §4.6).
func (s *Server) handleRoom(c echo.Context) error {
	rooms := s.registry.Rooms()
	out := make([]roomDetailView, 0, len(rooms))
	for _, r := range rooms {
		snap := r.Snapshot()
		view := roomDetailView{
			RoomID: snap.ID,
			Cycle:  snap.Cycle,
			Lock:   snap.Locked,
			Host:   roomHostView{Name: snap.HostName, ID: snap.HostID},
			State:  snap.State.String(),
		}
		if snap.SelectedChartID != nil {
			view.Chart = &roomChartView{ID: *snap.SelectedChartID, Name: s.resolveChartName(c, *snap.SelectedChartID)}
		}
		for _, p := range snap.Players {
			view.Players = append(view.Players, publicUser{ID: p.ID, Name: p.Name, IsMonitor: p.Monitor})
		}
		out = append(out, view)
	}
	return c.JSON(http.StatusOK, echo.Map{"total": len(out), "rooms": out})
}

func (s *Server) resolveChartName(c echo.Context, chartID int32) string {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	chart, err := s.identity.Chart(ctx, chartID)
	if err != nil {
		return identity.FallbackChartName(chartID)
	}
	return chart.Name
}

type statusResponse struct {
	ServerName   string `json:"serverName"`
	Version      string `json:"version"`
	UptimeSecs   int64  `json:"uptime"`
	RoomCount    int    `json:"roomCount"`
	SessionCount int    `json:"sessionCount"`
	UserCount    int    `json:"userCount"`
}

// handleStatus serves GET /status (§6).
func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		ServerName:   s.serverName,
		Version:      "1.0.0",
		UptimeSecs:   int64(time.Since(s.startedAt).Seconds()),
		RoomCount:    s.registry.RoomCount(),
		SessionCount: s.registry.SessionCount(),
		UserCount:    s.registry.UserCount(),
	})
}
