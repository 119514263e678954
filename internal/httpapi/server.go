// Package httpapi is the public/admin/replay HTTP JSON surface (§4.13,
// §4.14, §6), grounded on the teacher's internal/httpapi.Server: one Echo
// instance, middleware.Recover(), grouped route registration, Run(ctx, addr)
// blocking until shutdown. The teacher's {id,...} JSON envelopes become the
// spec's {ok:true|false,...} envelope via a custom HTTPErrorHandler.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/BennettNotFound/dotphira-mp/internal/admin"
	"github.com/BennettNotFound/dotphira-mp/internal/identity"
	"github.com/BennettNotFound/dotphira-mp/internal/replay"
	"github.com/BennettNotFound/dotphira-mp/internal/room"
	"github.com/BennettNotFound/dotphira-mp/internal/wspush"
)

// Server is the Echo application serving the public, admin, and replay
// routes (§4.13, §4.14).
type Server struct {
	echo *echo.Echo

	registry   *room.Registry
	identity   *identity.Client
	bans       *admin.BanStore
	trust      *admin.Trust
	auth       *admin.Authenticator
	replay     *replay.Store
	hub        *wspush.Hub
	serverName string
	startedAt  time.Time
}

// New constructs the Echo app and registers every route.
func New(registry *room.Registry, idc *identity.Client, bans *admin.BanStore, trust *admin.Trust, auth *admin.Authenticator, replayStore *replay.Store, hub *wspush.Hub, serverName string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:       e,
		registry:   registry,
		identity:   idc,
		bans:       bans,
		trust:      trust,
		auth:       auth,
		replay:     replayStore,
		hub:        hub,
		serverName: serverName,
		startedAt:  time.Now(),
	}
	e.HTTPErrorHandler = s.handleError
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/rooms", s.handleRooms)
	s.echo.GET("/room", s.handleRoom)
	s.echo.GET("/status", s.handleStatus)

	s.echo.POST("/replay/auth", s.handleReplayAuth)
	s.echo.GET("/replay/download", s.handleReplayDownload)
	s.echo.POST("/replay/delete", s.handleReplayDelete)

	admin := s.echo.Group("/admin", s.adminAuthMiddleware)
	admin.POST("/otp/request", s.handleOtpRequest)
	admin.POST("/otp/verify", s.handleOtpVerify)
	admin.GET("/rooms", s.handleAdminRooms)
	admin.POST("/rooms/:id/max_users", s.handleRoomMaxUsers)
	admin.POST("/rooms/:id/disband", s.handleRoomDisband)
	admin.POST("/rooms/:id/chat", s.handleRoomChat)
	admin.POST("/broadcast", s.handleBroadcast)
	admin.GET("/replay/config", s.handleReplayConfigGet)
	admin.POST("/replay/config", s.handleReplayConfigSet)
	admin.GET("/room-creation/config", s.handleRoomCreationConfigGet)
	admin.POST("/room-creation/config", s.handleRoomCreationConfigSet)
	admin.GET("/ip-blacklist", s.handleBlacklistList)
	admin.POST("/ip-blacklist/remove", s.handleBlacklistRemove)
	admin.POST("/ip-blacklist/clear", s.handleBlacklistClear)
	admin.GET("/users/:id", s.handleUserGet)
	admin.POST("/ban/user", s.handleBanUser)
	admin.POST("/ban/room", s.handleBanRoom)
	admin.POST("/users/:id/disconnect", s.handleUserDisconnect)
	admin.POST("/users/:id/move", s.handleUserMove)
	admin.POST("/contest/rooms/:id/config", s.handleContestConfig)
	admin.POST("/contest/rooms/:id/whitelist", s.handleContestWhitelist)
	admin.POST("/contest/rooms/:id/start", s.handleContestStart)

	if s.hub != nil {
		s.hub.Register(s.echo)
	}
}

// Run starts Echo and blocks until ctx cancellation or startup failure,
// mirroring the teacher's Server.Run(ctx, addr).
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

// apiError is the {ok:false,error:<slug>} envelope (§6).
type apiError struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusInternalServerError
	slug := "internal"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if msg, ok := he.Message.(string); ok {
			slug = msg
		}
	}
	_ = c.JSON(status, apiError{OK: false, Error: slug})
}

func fail(status int, slug string) error {
	return echo.NewHTTPError(status, slug)
}
