// Package git reads committed file contents and repository metadata
// without shelling out to a git binary.
package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotRepository is returned when root is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Metadata identifies the revision a scan ran against. Fields are empty when
// unknown.
type Metadata struct {
	Repo   string `json:"repo,omitempty"`
	Commit string `json:"commit,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// validateRoot validates and normalizes a scan root.
func validateRoot(root string) (string, error) {
	if strings.ContainsRune(root, 0) {
		return "", fmt.Errorf("invalid path: contains null byte")
	}
	abs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot access path %q: %w", root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", root)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// open finds the repository containing root and returns it together with
// root's slash-separated path inside the work tree ("" for the top level).
func open(root string) (*gogit.Repository, string, error) {
	dir, err := validateRoot(root)
	if err != nil {
		return nil, "", err
	}
	repo, err := gogit.PlainOpenWithOptions(dir, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, "", fmt.Errorf("%s: %w", root, ErrNotRepository)
		}
		return nil, "", fmt.Errorf("open repository at %s: %w", root, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", root, err)
	}
	top := wt.Filesystem.Root()
	if resolved, err := filepath.EvalSymlinks(top); err == nil {
		top = resolved
	}
	rel, err := filepath.Rel(top, dir)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, "", fmt.Errorf("%s is outside work tree %s", root, top)
	}
	if rel == "." {
		rel = ""
	}
	return repo, filepath.ToSlash(rel), nil
}

// RepoMetadata returns best-effort metadata for the repository containing
// root. A zero Metadata is returned when root is not in a repository.
func RepoMetadata(root string) Metadata {
	repo, _, err := open(root)
	if err != nil {
		return Metadata{}
	}
	var md Metadata
	if remote, err := repo.Remote("origin"); err == nil {
		if cfg := remote.Config(); cfg != nil && len(cfg.URLs) > 0 {
			md.Repo = shortRepo(cfg.URLs[0])
		}
	}
	if head, err := repo.Head(); err == nil {
		md.Commit = head.Hash().String()
		if head.Name().IsBranch() {
			md.Branch = head.Name().Short()
		}
	}
	return md
}

// shortRepo trims a remote URL to owner/name where it can.
func shortRepo(url string) string {
	s := strings.TrimSuffix(strings.TrimSpace(url), ".git")
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "/"); j >= 0 {
			s = s[j+1:]
		}
		return s
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// ReadTree returns the files under root as committed at rev, keyed by their
// slash-separated path relative to root. keep, when non-nil, selects which
// paths are read.
func ReadTree(root, rev string, keep func(rel string) bool) (map[string][]byte, error) {
	repo, prefix, err := open(root)
	if err != nil {
		return nil, err
	}
	if rev == "" {
		rev = "HEAD"
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", rev, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("commit %s: %w", rev, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("tree of %s: %w", rev, err)
	}

	out := make(map[string][]byte)
	err = tree.Files().ForEach(func(f *object.File) error {
		rel, ok := under(prefix, f.Name)
		if !ok || (keep != nil && !keep(rel)) {
			return nil
		}
		if bin, err := f.IsBinary(); err == nil && bin {
			return nil
		}
		s, err := f.Contents()
		if err != nil {
			return fmt.Errorf("%s at %s: %w", f.Name, rev, err)
		}
		out[rel] = []byte(s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func under(prefix, name string) (string, bool) {
	if prefix == "" {
		return name, true
	}
	if !strings.HasPrefix(name, prefix+"/") {
		return "", false
	}
	return name[len(prefix)+1:], true
}
