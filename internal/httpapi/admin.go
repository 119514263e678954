package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/BennettNotFound/dotphira-mp/internal/admin"
	"github.com/BennettNotFound/dotphira-mp/internal/protocol"
	"github.com/BennettNotFound/dotphira-mp/internal/room"
)

func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

const authKindContextKey = "authKind"

// adminAuthMiddleware resolves a token from X-Admin-Token, then
// Authorization: Bearer, then ?token= (DESIGN.md Open Question: header
// takes priority over query, X-Admin-Token over Authorization), blocks
// blacklisted IPs, and restricts ViewToken to GET (§6).
func (s *Server) adminAuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ip := c.RealIP()
		if s.trust != nil && s.trust.IsBlacklisted(ip) {
			return fail(http.StatusForbidden, "blacklisted")
		}

		token := adminToken(c)
		kind := s.auth.Authorize(token, ip)
		if kind == admin.AuthNone {
			if s.trust != nil {
				s.trust.RecordAuthFailure(ip)
			}
			return fail(http.StatusUnauthorized, "unauthorized")
		}
		if kind == admin.AuthView && c.Request().Method != http.MethodGet {
			return fail(http.StatusForbidden, "view-token-readonly")
		}
		c.Set(authKindContextKey, kind)
		return next(c)
	}
}

func adminToken(c echo.Context) string {
	if v := c.Request().Header.Get("X-Admin-Token"); v != "" {
		return v
	}
	if v := c.Request().Header.Get(echo.HeaderAuthorization); len(v) > len("Bearer ") && v[:7] == "Bearer " {
		return v[7:]
	}
	return c.QueryParam("token")
}

func (s *Server) handleOtpRequest(c echo.Context) error {
	if !s.auth.OtpEnabled() {
		return fail(http.StatusForbidden, "otp-disabled")
	}
	ssid, _, err := s.trust.CreateOtpRequest()
	if err != nil {
		return fail(http.StatusInternalServerError, "otp-generate-failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "ssid": ssid.String()})
}

type otpVerifyRequest struct {
	Ssid string `json:"ssid"`
	Otp  string `json:"otp"`
}

func (s *Server) handleOtpVerify(c echo.Context) error {
	var req otpVerifyRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	ssid, err := parseUUID(req.Ssid)
	if err != nil {
		return fail(http.StatusBadRequest, "bad-ssid")
	}
	token, expiresIn, ok := s.trust.VerifyOtp(ssid, req.Otp, c.RealIP())
	if !ok {
		return fail(http.StatusUnauthorized, "otp-invalid")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"ok":        true,
		"token":     token,
		"expiresIn": expiresIn.Milliseconds(),
	})
}

func (s *Server) handleAdminRooms(c echo.Context) error {
	return s.handleRooms(c)
}

type maxUsersRequest struct {
	MaxUsers int `json:"maxUsers"`
}

func (s *Server) handleRoomMaxUsers(c echo.Context) error {
	r, err := s.requireRoom(c)
	if err != nil {
		return err
	}
	var req maxUsersRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	r.SetMaxPlayerCount(req.MaxUsers)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) handleRoomDisband(c echo.Context) error {
	if err := s.registry.DisbandRoomByID(c.Param("id")); err != nil {
		return fail(http.StatusNotFound, "room-not-found")
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type roomChatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleRoomChat(c echo.Context) error {
	r, err := s.requireRoom(c)
	if err != nil {
		return err
	}
	var req roomChatRequest
	if bindErr := c.Bind(&req); bindErr != nil || len(req.Message) > 200 {
		return fail(http.StatusBadRequest, "bad-request")
	}
	r.SystemChat(req.Message)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(c echo.Context) error {
	var req broadcastRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	for _, r := range s.registry.Rooms() {
		r.SystemChat(req.Message)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) handleReplayConfigGet(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "enabled": s.registry.ReplayRecordingEnabled()})
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleReplayConfigSet(c echo.Context) error {
	var req enabledRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	s.registry.SetReplayRecordingEnabled(req.Enabled)
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "enabled": req.Enabled})
}

func (s *Server) handleRoomCreationConfigGet(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "enabled": s.registry.RoomCreationEnabled()})
}

func (s *Server) handleRoomCreationConfigSet(c echo.Context) error {
	var req enabledRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	s.registry.SetRoomCreationEnabled(req.Enabled)
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "enabled": req.Enabled})
}

func (s *Server) handleBlacklistList(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "ips": s.trust.Blacklisted()})
}

type ipRequest struct {
	IP string `json:"ip"`
}

func (s *Server) handleBlacklistRemove(c echo.Context) error {
	var req ipRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	s.trust.RemoveFromBlacklist(req.IP)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) handleBlacklistClear(c echo.Context) error {
	s.trust.ClearBlacklist()
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type userView struct {
	ID        int32  `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	RoomID    string `json:"roomId,omitempty"`
	Banned    bool   `json:"banned"`
}

func (s *Server) handleUserGet(c echo.Context) error {
	u, err := s.requireUser(c)
	if err != nil {
		return err
	}
	view := userView{ID: u.ID, Name: u.Name, Connected: u.Connected(), Banned: s.bans.IsUserBanned(int64(u.ID))}
	if r := u.Room(); r != nil {
		view.RoomID = r.ID
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true, "user": view})
}

type banUserRequest struct {
	UserID     int64 `json:"userId"`
	Banned     bool  `json:"banned"`
	Disconnect bool  `json:"disconnect"`
}

func (s *Server) handleBanUser(c echo.Context) error {
	var req banUserRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	s.bans.SetUserBanned(req.UserID, req.Banned)
	if req.Banned && req.Disconnect {
		if u, ok := s.registry.LookupUser(int32(req.UserID)); ok {
			u.Disconnect()
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type banRoomRequest struct {
	UserID int64  `json:"userId"`
	RoomID string `json:"roomId"`
	Banned bool   `json:"banned"`
}

func (s *Server) handleBanRoom(c echo.Context) error {
	var req banRoomRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	s.bans.SetRoomBanned(req.UserID, req.RoomID, req.Banned)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) handleUserDisconnect(c echo.Context) error {
	u, err := s.requireUser(c)
	if err != nil {
		return err
	}
	u.Disconnect()
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type moveUserRequest struct {
	RoomID  string `json:"roomId"`
	Monitor bool   `json:"monitor"`
}

// handleUserMove implements §6's admin move: only when the user is
// currently disconnected, the target room is in SelectChart, and has
// capacity (the ordinary AddUser admission check covers capacity).
func (s *Server) handleUserMove(c echo.Context) error {
	u, err := s.requireUser(c)
	if err != nil {
		return err
	}
	var req moveUserRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	if u.Connected() {
		return fail(http.StatusBadRequest, "user-connected")
	}
	target, ok := s.registry.LookupRoom(req.RoomID)
	if !ok {
		return fail(http.StatusNotFound, "room-not-found")
	}
	if target.State() != protocol.RoomStateSelectChart {
		return fail(http.StatusBadRequest, "room-not-selecting")
	}
	s.registry.LeaveRoom(u)
	if _, joinErr := s.registry.JoinRoom(req.RoomID, u, req.Monitor); joinErr != nil {
		return fail(http.StatusBadRequest, "move-failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type contestConfigRequest struct {
	Enabled   bool    `json:"enabled"`
	Whitelist []int64 `json:"whitelist"`
}

func (s *Server) handleContestConfig(c echo.Context) error {
	r, err := s.requireRoom(c)
	if err != nil {
		return err
	}
	var req contestConfigRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	r.SetContestMode(req.Enabled, req.Whitelist)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type contestWhitelistRequest struct {
	UserIDs []int64 `json:"userIds"`
}

func (s *Server) handleContestWhitelist(c echo.Context) error {
	r, err := s.requireRoom(c)
	if err != nil {
		return err
	}
	var req contestWhitelistRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	r.SetWhitelist(req.UserIDs)
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

type contestStartRequest struct {
	Force bool `json:"force"`
}

func (s *Server) handleContestStart(c echo.Context) error {
	r, err := s.requireRoom(c)
	if err != nil {
		return err
	}
	var req contestStartRequest
	if bindErr := c.Bind(&req); bindErr != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	if startErr := r.StartGameManually(req.Force); startErr != nil {
		return fail(http.StatusBadRequest, "start-failed")
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) requireRoom(c echo.Context) (*room.Room, error) {
	r, ok := s.registry.LookupRoom(c.Param("id"))
	if !ok {
		return nil, fail(http.StatusNotFound, "room-not-found")
	}
	return r, nil
}

func (s *Server) requireUser(c echo.Context) (*room.User, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 32)
	if err != nil {
		return nil, fail(http.StatusBadRequest, "bad-user-id")
	}
	u, ok := s.registry.LookupUser(int32(id))
	if !ok {
		return nil, fail(http.StatusNotFound, "user-not-found")
	}
	return u, nil
}
