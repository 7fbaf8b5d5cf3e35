// Package gitinfo reads branch, working tree and last commit information
// from a project's git repository. It never modifies the repository.
package gitinfo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ErrNotRepository is returned when the directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Commit summarizes one commit.
type Commit struct {
	Hash    string    `json:"hash"`
	Subject string    `json:"subject"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Info is a snapshot of a repository.
type Info struct {
	Branch     string  `json:"branch,omitempty"`
	Detached   bool    `json:"detached,omitempty"`
	LastCommit *Commit `json:"last_commit,omitempty"`
	Clean      bool    `json:"clean"`
	Staged     int     `json:"staged"`
	Modified   int     `json:"modified"`
	Untracked  int     `json:"untracked"`
}

// Read opens the repository containing dir.
func Read(dir string) (*Info, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
		}
		return nil, fmt.Errorf("failed to open repository at %s: %w", dir, err)
	}

	info := &Info{}
	head, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Fresh repository without commits: HEAD points at an unborn branch.
		if ref, rerr := repo.Reference(plumbing.HEAD, false); rerr == nil {
			info.Branch = ref.Target().Short()
		}
	case err != nil:
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	default:
		if head.Name().IsBranch() {
			info.Branch = head.Name().Short()
		} else {
			info.Detached = true
		}
		c, err := repo.CommitObject(head.Hash())
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", head.Hash(), err)
		}
		info.LastCommit = &Commit{
			Hash:    c.Hash.String()[:7],
			Subject: strings.TrimSpace(strings.SplitN(c.Message, "\n", 2)[0]),
			Author:  c.Author.Name,
			When:    c.Author.When,
		}
	}

	wt, err := repo.Worktree()
	if err != nil {
		// bare repositories have no work tree
		info.Clean = true
		return info, nil
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read work tree status: %w", err)
	}
	for _, fs := range status {
		switch {
		case fs.Worktree == git.Untracked:
			info.Untracked++
			continue
		case fs.Staging != git.Unmodified:
			info.Staged++
		}
		if fs.Worktree != git.Unmodified {
			info.Modified++
		}
	}
	info.Clean = status.IsClean()
	return info, nil
}

// Summary renders a one-line description such as "main, 2 modified, 1 untracked".
func (i Info) Summary() string {
	var parts []string
	switch {
	case i.Detached && i.LastCommit != nil:
		parts = append(parts, "detached at "+i.LastCommit.Hash)
	case i.Branch != "":
		parts = append(parts, i.Branch)
	}
	if i.Clean {
		parts = append(parts, "clean")
	}
	for _, c := range []struct {
		n     int
		label string
	}{{i.Staged, "staged"}, {i.Modified, "modified"}, {i.Untracked, "untracked"}} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	return strings.Join(parts, ", ")
}
