// Command phiramp is the multiplayer coordination server: a TCP listener
// serving the binary room protocol (§4.1-§4.9) and an Echo HTTP server
// serving the public/admin/replay/websocket surface (§4.10, §4.13, §4.14),
// wired together the way the teacher's main.go wires its store/blob/http
// trio — flags plus env/file config, a shared *http.Client, signal-driven
// context cancellation, graceful shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BennettNotFound/dotphira-mp/internal/admin"
	"github.com/BennettNotFound/dotphira-mp/internal/config"
	"github.com/BennettNotFound/dotphira-mp/internal/httpapi"
	"github.com/BennettNotFound/dotphira-mp/internal/identity"
	"github.com/BennettNotFound/dotphira-mp/internal/replay"
	"github.com/BennettNotFound/dotphira-mp/internal/room"
	"github.com/BennettNotFound/dotphira-mp/internal/session"
	"github.com/BennettNotFound/dotphira-mp/internal/wspush"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

// replayOpenerAdapter satisfies room.ReplayOpener over *replay.Store, whose
// OpenReplay returns a *replay.Writer rather than the narrower
// room.ReplayWriter the registry asks for (internal/replay intentionally
// doesn't import internal/room to stay one-directional).
type replayOpenerAdapter struct {
	store *replay.Store
}

func (a replayOpenerAdapter) Open(userID, chartID int32) (room.ReplayWriter, error) {
	return a.store.OpenReplay(userID, chartID)
}

func main() {
	configPath := flag.String("config", "config.json", "Path to config.json (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	logger.Info("starting server", "version", Version, "game_port", cfg.GamePort, "http_port", cfg.HTTPPort)

	started := time.Now()

	bans, err := admin.NewBanStore(cfg.AdminDataPath, logger.With("component", "bans"))
	if err != nil {
		logger.Error("open ban store", "err", err)
		os.Exit(1)
	}

	replayStore, err := replay.NewStore(cfg.ReplayBaseDir, logger.With("component", "replay"))
	if err != nil {
		logger.Error("open replay store", "err", err)
		os.Exit(1)
	}

	registry := room.New(logger.With("component", "room"), bans, replayOpenerAdapter{store: replayStore})

	httpClient := &http.Client{Timeout: 10 * time.Second}
	idc := identity.New(cfg.IdentityBaseURL, httpClient)

	trust := admin.NewTrust()
	auth := admin.NewAuthenticator(cfg.AdminToken, cfg.ViewToken, trust)

	hub := wspush.NewHub(registry, auth, logger.With("component", "wspush"))

	var api *httpapi.Server
	if cfg.HTTPService {
		api = httpapi.New(registry, idc, bans, trust, auth, replayStore, hub, cfg.ServerName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		logger.Info("received interrupt, shutting down")
		cancel()
	}()

	go trust.RunBlacklistSweep(ctx)
	go replayStore.RunDailySweeps(ctx)
	go hub.Run(ctx)

	errCh := make(chan error, 2)
	waiters := 1

	if api != nil {
		waiters++
		addr := ":" + strconv.Itoa(cfg.HTTPPort)
		go func() {
			logger.Info("http listening", "addr", addr)
			errCh <- api.Run(ctx, addr)
		}()
	}

	go func() {
		errCh <- runGameListener(ctx, cfg, registry, idc, logger)
	}()

	for i := 0; i < waiters; i++ {
		if runErr := <-errCh; runErr != nil {
			logger.Error("server error", "err", runErr)
		}
	}

	logger.Info("server stopped", "started", humanize.RelTime(started, time.Now(), "ago", "from now"))
}

// runGameListener accepts TCP connections for the binary room protocol and
// spawns one session.Session per connection (§4.5), mirroring the
// accept-then-spawn shape of a net-level server loop: stdlib net.Listener is
// used directly here since the protocol itself, not an ambient concern, is
// the thing being served, and no pack dependency wraps a raw TCP listener.
func runGameListener(ctx context.Context, cfg config.Config, registry *room.Registry, idc *identity.Client, logger *slog.Logger) error {
	addr := ":" + strconv.Itoa(cfg.GamePort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logger.Info("game listening", "addr", addr)

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	sessCfg := session.DefaultConfig()
	sessCfg.WelcomeMessage = cfg.WelcomeMessage
	sessCfg.SuppressWelcomeUserID = room.SystemUserID

	for {
		conn, acceptErr := ln.Accept()
		if acceptErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(acceptErr, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept", "err", acceptErr)
			continue
		}

		sess := session.New(conn, logger.With("component", "session"), registry, idc, sessCfg)
		go sess.Serve()
	}
}
