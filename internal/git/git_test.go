package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFiles(t *testing.T, repo *gogit.Repository, dir string, files map[string]string, msg string) {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func initRepo(t *testing.T) (*gogit.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	return repo, dir
}

func TestReadTree_ReturnsCommittedContent(t *testing.T) {
	repo, dir := initRepo(t)
	commitFiles(t, repo, dir, map[string]string{
		"app/User.php": "<?php echo $_GET['q'];\n",
		"web/app.js":   "res.send(req.query.q);\n",
		"README.md":    "docs\n",
	}, "init")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app", "User.php"), []byte("<?php echo 1;\n"), 0o644))

	files, err := ReadTree(dir, "HEAD", nil)
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Equal(t, "<?php echo $_GET['q'];\n", string(files["app/User.php"]))

	onlyPHP, err := ReadTree(dir, "", func(rel string) bool { return filepath.Ext(rel) == ".php" })
	require.NoError(t, err)
	assert.Equal(t, []string{"app/User.php"}, keys(onlyPHP))
}

func TestReadTree_SubdirectoryRoot(t *testing.T) {
	repo, dir := initRepo(t)
	commitFiles(t, repo, dir, map[string]string{
		"app/User.php":  "<?php\n",
		"app/lib/a.php": "<?php\n",
		"other.php":     "<?php\n",
	}, "init")

	files, err := ReadTree(filepath.Join(dir, "app"), "HEAD", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"User.php", "lib/a.php"}, keys(files))
}

func TestReadTree_OlderRevision(t *testing.T) {
	repo, dir := initRepo(t)
	commitFiles(t, repo, dir, map[string]string{"a.php": "v1"}, "first")
	commitFiles(t, repo, dir, map[string]string{"a.php": "v2"}, "second")

	files, err := ReadTree(dir, "HEAD~1", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(files["a.php"]))

	_, err = ReadTree(dir, "no-such-ref", nil)
	assert.Error(t, err)
}

func TestReadTree_NotRepository(t *testing.T) {
	_, err := ReadTree(t.TempDir(), "HEAD", nil)
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestRepoMetadata(t *testing.T) {
	repo, dir := initRepo(t)
	commitFiles(t, repo, dir, map[string]string{"a.php": "<?php\n"}, "init")
	_, err := repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{"git@github.com:acme/shop.git"}})
	require.NoError(t, err)

	md := RepoMetadata(dir)
	assert.NotEmpty(t, md.Commit)
	assert.NotEmpty(t, md.Branch)
	assert.Equal(t, "acme/shop", md.Repo)

	assert.Equal(t, Metadata{}, RepoMetadata(t.TempDir()))
}

func TestShortRepo(t *testing.T) {
	assert.Equal(t, "acme/shop", shortRepo("https://github.com/acme/shop.git"))
	assert.Equal(t, "acme/shop", shortRepo("git@github.com:acme/shop.git"))
	assert.Equal(t, "group/sub/proj", shortRepo("https://gitlab.example.com/group/sub/proj"))
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
