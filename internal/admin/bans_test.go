package admin

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestBanStorePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ban_data.json")

	s, err := NewBanStore(path, nil)
	if err != nil {
		t.Fatalf("NewBanStore: %v", err)
	}
	s.SetUserBanned(42, true)
	s.SetRoomBanned(7, "ROOM1", true)

	reloaded, err := NewBanStore(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.IsUserBanned(42) {
		t.Fatal("expected user 42 to be banned after reload")
	}
	if !reloaded.IsRoomBanned(7, "ROOM1") {
		t.Fatal("expected user 7 to be room-banned after reload")
	}
	if reloaded.IsUserBanned(99) {
		t.Fatal("user 99 should not be banned")
	}
}

func TestBanStoreUnban(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ban_data.json")
	s, err := NewBanStore(path, nil)
	if err != nil {
		t.Fatalf("NewBanStore: %v", err)
	}
	s.SetUserBanned(1, true)
	s.SetUserBanned(1, false)
	if s.IsUserBanned(1) {
		t.Fatal("expected user 1 to be unbanned")
	}

	s.SetRoomBanned(2, "R", true)
	s.SetRoomBanned(2, "R", false)
	if s.IsRoomBanned(2, "R") {
		t.Fatal("expected user 2 to be unbanned from room R")
	}
	if len(s.RoomBans("R")) != 0 {
		t.Fatal("expected empty room ban list")
	}
}

func TestBanStoreMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does_not_exist.json")
	s, err := NewBanStore(path, nil)
	if err != nil {
		t.Fatalf("NewBanStore: %v", err)
	}
	if len(s.UserBans()) != 0 {
		t.Fatal("expected no bans")
	}
}

func TestBanStoreSaveIsAtomicNoLeftoverTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ban_data.json")
	s, err := NewBanStore(path, nil)
	if err != nil {
		t.Fatalf("NewBanStore: %v", err)
	}
	s.SetUserBanned(5, true)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "ban_data.json" {
		t.Fatalf("expected exactly one file ban_data.json, got %v", entries)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var f banDataFile
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(f.UserBans) != 1 || f.UserBans[0] != 5 {
		t.Fatalf("unexpected persisted user bans: %v", f.UserBans)
	}
}
