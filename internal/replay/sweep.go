package replay

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RunRetentionSweep runs once and deletes every .phirarec file whose
// timestamp (decoded from its filename) is older than now-RetentionTTL,
// then prunes directories left empty (§4.7).
func (s *Store) RunRetentionSweep(now time.Time) error {
	root := filepath.Join(s.baseDir, "record")
	cutoff := now.Add(-RetentionTTL).UnixMilli()

	var dirsToCheck []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			dirsToCheck = append(dirsToCheck, path)
			return nil
		}
		if !strings.HasSuffix(path, ".phirarec") {
			return nil
		}
		ts, ok := timestampFromFilename(d.Name())
		if !ok {
			return nil
		}
		if ts < cutoff {
			if err := os.Remove(path); err != nil {
				s.logger.Warn("replay sweep: failed to remove expired file", "path", path, "err", err)
			} else {
				s.logger.Info("replay sweep: removed expired file", "path", path)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Remove now-empty directories, deepest first.
	for i := len(dirsToCheck) - 1; i >= 0; i-- {
		_ = os.Remove(dirsToCheck[i]) // no-op if non-empty
	}
	return nil
}

func timestampFromFilename(name string) (int64, bool) {
	base := strings.TrimSuffix(name, ".phirarec")
	ts, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}

// RunDailySweeps runs RunRetentionSweep once a day until ctx is canceled.
// Grounded on the teacher's recording.go time.AfterFunc pattern, adapted to
// a periodic ticker since this sweep recurs indefinitely rather than firing
// once per recording.
func (s *Store) RunDailySweeps(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if err := s.RunRetentionSweep(t); err != nil {
				s.logger.Warn("replay sweep failed", "err", err)
			}
		}
	}
}

// ChartReplays lists timestamp filenames recorded for (userID, chartID).
func (s *Store) ChartReplays(userID, chartID int32) ([]int64, error) {
	dir := filepath.Join(s.baseDir, "record", itoa(userID), itoa(chartID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []int64
	for _, e := range entries {
		if ts, ok := timestampFromFilename(e.Name()); ok {
			out = append(out, ts)
		}
	}
	return out, nil
}

// ReplayPath returns the on-disk path for one replay file, for download or
// deletion by the HTTP replay surface (§4.13).
func (s *Store) ReplayPath(userID, chartID int32, timestampMs int64) string {
	return filepath.Join(s.baseDir, "record", itoa(userID), itoa(chartID), strconv.FormatInt(timestampMs, 10)+".phirarec")
}

// DeleteReplay removes one replay file.
func (s *Store) DeleteReplay(userID, chartID int32, timestampMs int64) error {
	return os.Remove(s.ReplayPath(userID, chartID, timestampMs))
}
