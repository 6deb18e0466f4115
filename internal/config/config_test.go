package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return p
}

func TestLoadFile_Basic(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "taintline.yaml", "threads: 4\nmax_bytes: 123\nmin_severity: medium\nnotify:\n  webhook: http://x\n")
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Threads == nil || *cfg.Threads != 4 {
		t.Fatalf("expected threads=4, got %#v", cfg.Threads)
	}
	if cfg.MaxBytes == nil || *cfg.MaxBytes != 123 {
		t.Fatalf("expected max_bytes=123, got %#v", cfg.MaxBytes)
	}
	if cfg.MinSeverity == nil || *cfg.MinSeverity != "medium" {
		t.Fatalf("expected min_severity=medium, got %#v", cfg.MinSeverity)
	}
	if cfg.Notify == nil || cfg.Notify.Webhook == nil || *cfg.Notify.Webhook != "http://x" {
		t.Fatalf("expected notify.webhook, got %#v", cfg.Notify)
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "taintline.yml", "min_confidence: 0.5\n")
	if _, err := LoadFile(p); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestLoadFile_Empty(t *testing.T) {
	dir := t.TempDir()
	p := writeTemp(t, dir, "taintline.yml", "")
	if _, err := LoadFile(p); err != nil {
		t.Fatalf("empty file: %v", err)
	}
}

func TestLoadLocal_PrefersDotfile(t *testing.T) {
	dir := t.TempDir()
	// place both, expect the dotfile to be picked first by search order
	writeTemp(t, dir, "taintline.yml", "threads: 1\n")
	writeTemp(t, dir, ".taintline.yml", "threads: 7\n")
	cfg, err := LoadLocal(dir)
	if err != nil {
		t.Fatalf("LoadLocal: %v", err)
	}
	if cfg.Threads == nil || *cfg.Threads != 7 {
		t.Fatalf("expected threads=7 from .taintline.yml, got %#v", cfg.Threads)
	}
}

func TestLoadLocal_NoConfig(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadLocal(dir); err == nil {
		t.Fatal("expected error when no local config exists")
	}
}

func TestLoadGlobal_XDG_Config(t *testing.T) {
	dir := t.TempDir()
	writeTemp(t, dir, filepath.Join("taintline", "config.yml"), "threads: 9\n")
	t.Setenv("XDG_CONFIG_HOME", dir)
	cfg, err := LoadGlobal()
	if err != nil {
		t.Fatalf("LoadGlobal: %v", err)
	}
	if cfg.Threads == nil || *cfg.Threads != 9 {
		t.Fatalf("expected threads=9 from global config, got %#v", cfg.Threads)
	}
}

func TestLoadGlobal_NoConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", "")
	if _, err := LoadGlobal(); err == nil {
		t.Fatal("expected error when no global config dir exists")
	}
}

func TestResolve_LocalOverridesGlobal(t *testing.T) {
	global := t.TempDir()
	writeTemp(t, global, filepath.Join("taintline", "config.yml"), "threads: 9\nmin_severity: low\nnotify:\n  webhook: http://global\n  min_severity: high\n")
	t.Setenv("XDG_CONFIG_HOME", global)

	root := t.TempDir()
	writeTemp(t, root, ".taintline.yml", "min_severity: critical\nnotify:\n  webhook: http://local\n")

	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if *cfg.Threads != 9 {
		t.Fatalf("expected global threads to survive, got %d", *cfg.Threads)
	}
	if *cfg.MinSeverity != "critical" {
		t.Fatalf("expected local min_severity, got %s", *cfg.MinSeverity)
	}
	if *cfg.Notify.Webhook != "http://local" || *cfg.Notify.MinSeverity != "high" {
		t.Fatalf("unexpected notify merge: %+v", cfg.Notify)
	}
}

func TestWriteTemplate(t *testing.T) {
	dir := t.TempDir()
	p, err := WriteTemplate(dir, false)
	if err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatalf("template must parse: %v", err)
	}
	if cfg.MinSeverity == nil || *cfg.MinSeverity != "high" {
		t.Fatalf("unexpected template min_severity %#v", cfg.MinSeverity)
	}
	if _, err := WriteTemplate(dir, false); !errors.Is(err, os.ErrExist) {
		t.Fatalf("expected ErrExist, got %v", err)
	}
	if _, err := WriteTemplate(dir, true); err != nil {
		t.Fatalf("force: %v", err)
	}
}
