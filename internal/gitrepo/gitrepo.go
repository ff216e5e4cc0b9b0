// Package gitrepo reads commit history and branch state from a working
// tree with go-git. Nothing here writes to the repository.
package gitrepo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/blackwell-systems/ciwarden/internal/project"
)

// ErrNotRepository is returned by Open when dir is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// Repo is an opened repository.
type Repo struct {
	repo *git.Repository
}

// Open opens the repository containing dir, searching parent directories.
func Open(dir string) (*Repo, error) {
	r, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repo{repo: r}, nil
}

// Branch returns the checked-out branch, or "" when HEAD is detached or
// the history is empty.
func (r *Repo) Branch() string {
	head, err := r.repo.Head()
	if err != nil {
		return ""
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return ""
}

// HeadHash returns the HEAD commit hash, or "" for an empty history.
func (r *Repo) HeadHash() string {
	head, err := r.repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// GitDir returns the directory holding the repository metadata.
func (r *Repo) GitDir() (string, error) {
	fs, ok := r.repo.Storer.(*filesystem.Storage)
	if !ok {
		return "", errors.New("repository has no on-disk storage")
	}
	return fs.Filesystem().Root(), nil
}

// RecentCommits returns up to n commits reachable from HEAD, newest first.
// Timestamps are committer times in unix seconds. An empty history yields
// no commits and no error.
func (r *Repo) RecentCommits(n int) ([]project.Commit, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	commits := make([]project.Commit, 0, n)
	err = iter.ForEach(func(c *object.Commit) error {
		if len(commits) >= n {
			return storer.ErrStop
		}
		commits = append(commits, project.Commit{
			Hash:      c.Hash.String(),
			Message:   firstLine(c.Message),
			Timestamp: c.Committer.When.Unix(),
		})
		return nil
	})
	if err != nil {
		return commits, fmt.Errorf("walking log: %w", err)
	}
	return commits, nil
}

// HeadFiles returns the paths changed by the HEAD commit relative to its
// first parent (or to the empty tree for a root commit).
func (r *Repo) HeadFiles() ([]string, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("loading HEAD commit: %w", err)
	}
	stats, err := commit.Stats()
	if err != nil {
		return nil, fmt.Errorf("diffing HEAD: %w", err)
	}
	files := make([]string, 0, len(stats))
	for _, s := range stats {
		files = append(files, s.Name)
	}
	return files, nil
}

// Describe returns the HEAD hash and branch for dir, both empty when dir is
// not a repository.
func Describe(dir string) (commit, branch string) {
	r, err := Open(dir)
	if err != nil {
		return "", ""
	}
	return r.HeadHash(), r.Branch()
}

func firstLine(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return strings.TrimSpace(msg[:i])
	}
	return msg
}
