package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/taintline/taintline/internal/types"
)

func TestLoadSave(t *testing.T) {
	dir := t.TempDir()
	// initial load should return empty DB and error
	db, err := Load(dir, "r1")
	if err == nil {
		t.Fatal("expected error for missing cache")
	}
	if db.Entries == nil {
		t.Fatalf("expected entries map initialized")
	}
	h := Hash([]byte("<?php echo 1;"))
	db.Entries["a.php"] = Entry{Hash: h, Findings: []types.Finding{{RuleID: "select-star", Path: "a.php", Line: 3}}}
	if err := Save(dir, db); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".taintlinecache.json")); err != nil {
		t.Fatalf("cache file not written: %v", err)
	}

	db2, err := Load(dir, "r1")
	if err != nil {
		t.Fatalf("load after save: %v", err)
	}
	fs, ok := db2.Lookup("a.php", h)
	if !ok || len(fs) != 1 || fs[0].Line != 3 {
		t.Fatalf("unexpected lookup: %v %v", fs, ok)
	}
	if _, ok := db2.Lookup("a.php", Hash([]byte("changed"))); ok {
		t.Fatal("stale content must miss")
	}
}

func TestRulesHashInvalidates(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	db := DB{RulesHash: "old", Entries: map[string]Entry{"a.php": {Hash: "1"}}}
	if err := Save(dir, db); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git", "taintlinecache.json")); err != nil {
		t.Fatalf("expected cache under .git: %v", err)
	}
	got, err := Load(dir, "new")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Entries) != 0 || got.RulesHash != "new" {
		t.Fatalf("expected fresh cache, got %+v", got)
	}
}
