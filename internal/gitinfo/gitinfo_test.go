package gitinfo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, repo *git.Repository, dir, name, content, msg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "Dev", Email: "dev@example.com", When: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)},
	})
	require.NoError(t, err)
}

func TestReadNotRepository(t *testing.T) {
	_, err := Read(t.TempDir())
	assert.True(t, errors.Is(err, ErrNotRepository))
}

func TestReadCleanRepository(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "README.md", "hello\n", "Initial commit\n\nlonger body")

	info, err := Read(dir)
	require.NoError(t, err)
	assert.Equal(t, "master", info.Branch)
	assert.True(t, info.Clean)
	require.NotNil(t, info.LastCommit)
	assert.Equal(t, "Initial commit", info.LastCommit.Subject)
	assert.Equal(t, "Dev", info.LastCommit.Author)
	assert.Len(t, info.LastCommit.Hash, 7)
	assert.Equal(t, "master, clean", info.Summary())
}

func TestReadDirtyRepositoryFromSubdir(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "main.go", "package main\n", "add main")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main // changed\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("todo\n"), 0o644))
	sub := filepath.Join(dir, "cmd")
	require.NoError(t, os.Mkdir(sub, 0o755))

	info, err := Read(sub)
	require.NoError(t, err)
	assert.False(t, info.Clean)
	assert.Equal(t, 1, info.Modified)
	assert.Equal(t, 1, info.Untracked)
	assert.Equal(t, 0, info.Staged)
	assert.Equal(t, "master, 1 modified, 1 untracked", info.Summary())
}

func TestReadEmptyRepository(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	info, err := Read(dir)
	require.NoError(t, err)
	assert.Nil(t, info.LastCommit)
	assert.Equal(t, "master", info.Branch)
}
