package engine

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/taintline/taintline/internal/adapter"
	"github.com/taintline/taintline/internal/ignore"
)

// Walk traverses cfg.Root and invokes handle with the slash-separated
// relative path of every file a registered adapter supports. Unreadable
// directories are skipped; a handle error or context cancellation stops the
// walk.
func Walk(ctx context.Context, cfg Config, reg *adapter.Registry, ign ignore.Matcher, handle func(rel string) error) error {
	return filepath.WalkDir(cfg.Root, func(p string, d fs.DirEntry, err error) error {
		if ctx != nil {
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
		}
		if err != nil {
			if p == cfg.Root {
				return err
			}
			return nil
		}
		rel, _ := filepath.Rel(cfg.Root, p)
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if p != cfg.Root && cfg.DefaultExcludes && isDefaultDirExcluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !selected(cfg, reg, ign, rel) {
			return nil
		}
		if cfg.MaxBytes > 0 {
			if info, _ := d.Info(); info != nil && info.Size() > cfg.MaxBytes {
				return nil
			}
		}
		return handle(rel)
	})
}

func selected(cfg Config, reg *adapter.Registry, ign ignore.Matcher, rel string) bool {
	if !reg.Supported(rel) || !allowedByGlobs(rel, cfg) || ign.Match(rel) {
		return false
	}
	return !cfg.DefaultExcludes || !isDefaultFileExcluded(strings.ToLower(rel))
}

// Filter returns the path selection Walk applies, for relative paths that
// do not come from disk (for example a git tree). Size limits are not
// checked.
func Filter(cfg Config, reg *adapter.Registry) func(rel string) bool {
	if reg == nil {
		reg = adapter.Default()
	}
	ign, _ := ignore.Load(filepath.Join(cfg.Root, ignore.FileName))
	return func(rel string) bool {
		if cfg.DefaultExcludes {
			dirs := strings.Split(rel, "/")
			for _, d := range dirs[:len(dirs)-1] {
				if isDefaultDirExcluded(d) {
					return false
				}
			}
		}
		return selected(cfg, reg, ign, rel)
	}
}

// LoadSources reads every file Walk selects under cfg.Root into memory.
func LoadSources(ctx context.Context, cfg Config, reg *adapter.Registry) (map[string][]byte, error) {
	if reg == nil {
		reg = adapter.Default()
	}
	rels, err := Targets(ctx, cfg, reg)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(rels))
	for _, rel := range rels {
		b, err := os.ReadFile(filepath.Join(cfg.Root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, &IOError{Path: rel, Err: err}
		}
		out[rel] = b
	}
	return out, nil
}

// Targets lists the files a session over cfg would scan, sorted.
func Targets(ctx context.Context, cfg Config, reg *adapter.Registry) ([]string, error) {
	ign, _ := ignore.Load(filepath.Join(cfg.Root, ignore.FileName))
	var out []string
	err := Walk(ctx, cfg, reg, ign, func(rel string) error {
		out = append(out, rel)
		return nil
	})
	sort.Strings(out)
	return out, err
}

func looksBinary(b []byte) bool {
	const sniff = 800
	n := sniff
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if b[i] == 0 {
			return true
		}
	}
	return false
}

func sortTargets(ts []target) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].rel < ts[j].rel })
}
