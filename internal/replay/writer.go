// Package replay implements the per-user-per-chart replay recording file
// format (§4.7): a 14-byte patchable header followed by the raw Touches and
// Judges command payloads in arrival order. It is grounded on the teacher's
// recording.go ChannelRecorder — header-then-append, idempotent Stop,
// time.AfterFunc-driven sweep — with the OGG/Opus container dropped (no
// audio in this system) in favor of the spec's bespoke binary header.
package replay

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// magic is the 2-byte header tag "PM" (0x504D), little-endian.
const magic uint16 = 0x504D

// headerSize is the fixed 14-byte header: u16 magic, u32 chartId, u32 userId,
// u32 recordId.
const headerSize = 14

// recordIDOffset is where UpdateRecordID seeks to patch the trailing u32.
const recordIDOffset = 10

// RetentionTTL is how long a replay file is kept before the daily sweep
// deletes it (§4.7).
const RetentionTTL = 4 * 24 * time.Hour

// Writer is one open replay file for one (user, chart, play) triple.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	closed bool
}

// Store opens replay writers under baseDir and sweeps expired files.
type Store struct {
	baseDir string
	logger  *slog.Logger

	sessMu sync.Mutex
	sess   map[string]replaySession
}

// NewStore returns a Store rooted at baseDir (created if missing).
func NewStore(baseDir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir, logger: logger}, nil
}

// OpenReplay creates a new replay file for (userID, chartID), per the path
// scheme `<base>/record/<userId>/<chartId>/<timestampMs>.phirarec`. Named
// distinctly from room.ReplayOpener's Open so this package need not import
// internal/room to satisfy that interface structurally — main.go wires a
// thin adapter instead, keeping the dependency one-directional.
func (s *Store) OpenReplay(userID, chartID int32) (*Writer, error) {
	dir := filepath.Join(s.baseDir, "record", itoa(userID), itoa(chartID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("replay: create record dir: %w", err)
	}
	timestampMs := time.Now().UnixMilli()
	path := filepath.Join(dir, fmt.Sprintf("%d.phirarec", timestampMs))

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("replay: create file: %w", err)
	}

	var header [headerSize]byte
	binary.LittleEndian.PutUint16(header[0:2], magic)
	binary.LittleEndian.PutUint32(header[2:6], uint32(chartID))
	binary.LittleEndian.PutUint32(header[6:10], uint32(userID))
	binary.LittleEndian.PutUint32(header[10:14], 0)
	if _, err := f.Write(header[:]); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("replay: write header: %w", err)
	}

	return &Writer{file: f, path: path}, nil
}

func itoa(n int32) string { return fmt.Sprintf("%d", n) }

// WriteTouches appends a raw Touches command payload (tag byte + body).
func (w *Writer) WriteTouches(body []byte) error { return w.append(body) }

// WriteJudges appends a raw Judges command payload (tag byte + body).
func (w *Writer) WriteJudges(body []byte) error { return w.append(body) }

func (w *Writer) append(body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	_, err := w.file.Write(body)
	return err
}

// UpdateRecordID seeks to the header's recordId field, overwrites it, and
// restores the append position (§4.7, §9 "replay writer stream ordering").
// Serialized against concurrent appends by the same mutex that guards them.
func (w *Writer) UpdateRecordID(id int32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	pos, err := w.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("replay: get append position: %w", err)
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(id))
	if _, err := w.file.WriteAt(buf[:], recordIDOffset); err != nil {
		return fmt.Errorf("replay: patch record id: %w", err)
	}
	if _, err := w.file.Seek(pos, io.SeekStart); err != nil {
		return fmt.Errorf("replay: restore append position: %w", err)
	}
	return nil
}

// Dispose flushes and closes the file. Idempotent; subsequent writes are
// silent no-ops.
func (w *Writer) Dispose() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("replay: sync: %w", err)
	}
	return w.file.Close()
}
