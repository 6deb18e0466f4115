// Package cache persists per-file match results between runs. An entry is
// reused only when both the file content hash and the rule set hash match.
package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/taintline/taintline/internal/types"
)

const fileName = "taintlinecache.json"

type Entry struct {
	Hash     string          `json:"hash"`
	Findings []types.Finding `json:"findings,omitempty"`
}

type DB struct {
	// RulesHash invalidates every entry when the active rules change.
	RulesHash string `json:"rules_hash"`
	// Path relative to the scan root -> entry
	Entries map[string]Entry `json:"entries"`
}

func defaultPath(root string) string {
	// Prefer storing cache under .git to avoid accidental commits
	gitDir := filepath.Join(root, ".git")
	if st, err := os.Stat(gitDir); err == nil && st.IsDir() {
		return filepath.Join(gitDir, fileName)
	}
	return filepath.Join(root, "."+fileName)
}

// Load returns the cache for root, or an empty one bound to rulesHash when
// the file is missing, corrupt or was written for a different rule set.
func Load(root, rulesHash string) (DB, error) {
	empty := DB{RulesHash: rulesHash, Entries: map[string]Entry{}}
	b, err := os.ReadFile(defaultPath(root))
	if err != nil {
		return empty, err
	}
	var db DB
	if err := json.Unmarshal(b, &db); err != nil {
		return empty, err
	}
	if db.RulesHash != rulesHash || db.Entries == nil {
		return empty, nil
	}
	return db, nil
}

func Save(root string, db DB) error {
	if db.Entries == nil {
		return errors.New("empty cache")
	}
	b, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(defaultPath(root), b, 0644)
}

// Lookup returns cached findings for path when its content hash is unchanged.
func (db DB) Lookup(path, hash string) ([]types.Finding, bool) {
	e, ok := db.Entries[path]
	if !ok || e.Hash != hash {
		return nil, false
	}
	return e.Findings, true
}

// Hash is the content key used for entries.
func Hash(b []byte) string {
	return strconv.FormatUint(xxhash.Sum64(b), 16)
}
