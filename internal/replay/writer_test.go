package replay

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestWriterHeaderAndAppend(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	w, err := store.OpenReplay(42, 100)
	if err != nil {
		t.Fatalf("OpenReplay: %v", err)
	}
	if err := w.WriteTouches([]byte{3, 1, 2, 3}); err != nil {
		t.Fatalf("WriteTouches: %v", err)
	}
	if err := w.UpdateRecordID(7); err != nil {
		t.Fatalf("UpdateRecordID: %v", err)
	}
	if err := w.WriteJudges([]byte{4, 9, 9}); err != nil {
		t.Fatalf("WriteJudges: %v", err)
	}
	if err := w.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	// Dispose must be idempotent.
	if err := w.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}

	raw, err := os.ReadFile(w.path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(raw) != headerSize+4+3 {
		t.Fatalf("unexpected file length %d", len(raw))
	}
	if got := binary.LittleEndian.Uint16(raw[0:2]); got != magic {
		t.Fatalf("bad magic: %x", got)
	}
	if got := binary.LittleEndian.Uint32(raw[2:6]); got != 100 {
		t.Fatalf("bad chart id: %d", got)
	}
	if got := binary.LittleEndian.Uint32(raw[6:10]); got != 42 {
		t.Fatalf("bad user id: %d", got)
	}
	if got := binary.LittleEndian.Uint32(raw[10:14]); got != 7 {
		t.Fatalf("expected patched record id 7, got %d", got)
	}
	if raw[14] != 3 {
		t.Fatalf("expected Touches payload to follow header immediately")
	}
}

func TestWriteAfterDisposeIsNoop(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	w, err := store.OpenReplay(1, 1)
	if err != nil {
		t.Fatalf("OpenReplay: %v", err)
	}
	if err := w.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := w.WriteTouches([]byte{1, 2}); err != nil {
		t.Fatalf("write after dispose should be a silent no-op, got err: %v", err)
	}
}

func TestRetentionSweepRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	recordDir := filepath.Join(dir, "record", "1", "2")
	if err := os.MkdirAll(recordDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	now := time.Now()
	expired := now.Add(-5 * 24 * time.Hour).UnixMilli()
	fresh := now.Add(-1 * time.Hour).UnixMilli()
	for _, ts := range []int64{expired, fresh} {
		path := filepath.Join(recordDir, strconv.FormatInt(ts, 10)+".phirarec")
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	if err := store.RunRetentionSweep(now); err != nil {
		t.Fatalf("RunRetentionSweep: %v", err)
	}

	entries, err := os.ReadDir(recordDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one surviving file, got %d", len(entries))
	}
}
