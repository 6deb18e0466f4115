package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/taintline/taintline/internal/adapter"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTargets_IgnoreFileAndMaxBytes(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, 4096)
	for i := range big {
		big[i] = 'a'
	}
	writeTree(t, dir, map[string]string{
		"app/User.php":        "<?php\n",
		"app/big.php":         "<?php\n" + string(big),
		"legacy/old.php":      "<?php\n",
		"README.md":           "docs",
		"public/app.js":       "const a = 1\n",
		"public/app.min.js":   "const a=1",
		"vendor/lib/Pkg.php":  "<?php\n",
		".taintlineignore":    "legacy/\n",
		"node_modules/x/a.js": "x",
	})

	cfg := Config{Root: dir, MaxBytes: 1024, DefaultExcludes: true}
	got, err := Targets(context.Background(), cfg, adapter.Default())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"app/User.php", "public/app.js"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}

	// without default excludes vendor and minified bundles come back
	cfg.DefaultExcludes = false
	got, err = Targets(context.Background(), cfg, adapter.Default())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 targets without default excludes, got %v", got)
	}
}

func TestTargets_MissingRoot(t *testing.T) {
	_, err := Targets(context.Background(), Config{Root: filepath.Join(t.TempDir(), "nope")}, adapter.Default())
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}
