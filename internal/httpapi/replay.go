package httpapi

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// downloadRateBytesPerSec caps replay downloads at 50 KiB/s (§4.13, §6).
const downloadRateBytesPerSec = 50 * 1024

const downloadChunkSize = 4096

type replayAuthRequest struct {
	Token string `json:"token"`
}

type chartReplays struct {
	ChartID int32   `json:"chartId"`
	Replays []int64 `json:"replays"`
}

// handleReplayAuth resolves the caller's identity, mints a 30-minute replay
// session token, and lists their recordings grouped by chart (§4.13).
func (s *Server) handleReplayAuth(c echo.Context) error {
	var req replayAuthRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	me, err := s.identity.Me(ctx, req.Token)
	if err != nil {
		return fail(http.StatusUnauthorized, "unauthorized")
	}

	token, expiresIn, err := s.replay.NewSessionToken(me.ID)
	if err != nil {
		return fail(http.StatusInternalServerError, "token-generate-failed")
	}

	chartIDs, err := s.replay.ChartsForUser(me.ID)
	if err != nil {
		return fail(http.StatusInternalServerError, "list-failed")
	}
	charts := make([]chartReplays, 0, len(chartIDs))
	for _, chartID := range chartIDs {
		timestamps, listErr := s.replay.ChartReplays(me.ID, chartID)
		if listErr != nil {
			continue
		}
		charts = append(charts, chartReplays{ChartID: chartID, Replays: timestamps})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"ok":           true,
		"sessionToken": token,
		"expiresIn":    expiresIn.Milliseconds(),
		"charts":       charts,
	})
}

// handleReplayDownload streams a .phirarec file throttled to
// downloadRateBytesPerSec (§4.13, §6).
func (s *Server) handleReplayDownload(c echo.Context) error {
	userID, chartID, timestamp, err := s.resolveReplayRequest(
		c.QueryParam("sessionToken"), c.QueryParam("chartId"), c.QueryParam("timestamp"))
	if err != nil {
		return err
	}

	path := s.replay.ReplayPath(userID, chartID, timestamp)
	f, openErr := os.Open(path)
	if openErr != nil {
		return fail(http.StatusNotFound, "replay-not-found")
	}
	defer f.Close()

	info, statErr := f.Stat()
	if statErr != nil {
		return fail(http.StatusInternalServerError, "stat-failed")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/octet-stream")
	resp.Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+strconv.FormatInt(timestamp, 10)+`.phirarec"`)
	resp.Header().Set(echo.HeaderContentLength, strconv.FormatInt(info.Size(), 10))
	resp.WriteHeader(http.StatusOK)

	limiter := rate.NewLimiter(rate.Limit(downloadRateBytesPerSec), downloadRateBytesPerSec)
	buf := make([]byte, downloadChunkSize)
	ctx := c.Request().Context()
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if waitErr := limiter.WaitN(ctx, n); waitErr != nil {
				return nil
			}
			if _, writeErr := resp.Write(buf[:n]); writeErr != nil {
				return nil
			}
		}
		if readErr != nil {
			return nil
		}
	}
}

type replayDeleteRequest struct {
	SessionToken string `json:"sessionToken"`
	ChartID      string `json:"chartId"`
	Timestamp    string `json:"timestamp"`
}

// handleReplayDelete removes one replay file (§4.13, §6).
func (s *Server) handleReplayDelete(c echo.Context) error {
	var req replayDeleteRequest
	if err := c.Bind(&req); err != nil {
		return fail(http.StatusBadRequest, "bad-request")
	}
	userID, chartID, timestamp, err := s.resolveReplayRequest(req.SessionToken, req.ChartID, req.Timestamp)
	if err != nil {
		return err
	}
	if delErr := s.replay.DeleteReplay(userID, chartID, timestamp); delErr != nil {
		return fail(http.StatusNotFound, "replay-not-found")
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

func (s *Server) resolveReplayRequest(sessionToken, chartIDStr, timestampStr string) (int32, int32, int64, error) {
	userID, ok := s.replay.ValidateSessionToken(sessionToken)
	if !ok {
		return 0, 0, 0, fail(http.StatusUnauthorized, "unauthorized")
	}
	chartID, err := strconv.ParseInt(chartIDStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fail(http.StatusBadRequest, "bad-chart-id")
	}
	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return 0, 0, 0, fail(http.StatusBadRequest, "bad-timestamp")
	}
	return userID, int32(chartID), timestamp, nil
}
