// Package gitrepo stores notes documents in local git repositories. It
// implements contents.Store with the blob hash of the file at the branch
// head as the version token.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/contents"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/notes"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const defaultBranch = "main"

type Service struct {
	baseDir     string
	authorName  string
	authorEmail string
	lockMu      sync.Mutex
	locks       map[string]*sync.Mutex
}

func New(baseDir, authorName string) *Service {
	if authorName == "" {
		authorName = "notes-bot"
	}
	return &Service{
		baseDir:     baseDir,
		authorName:  authorName,
		authorEmail: fmt.Sprintf("%s@notes.local", sanitizeEmail(authorName)),
		locks:       make(map[string]*sync.Mutex),
	}
}

var _ contents.Store = (*Service)(nil)

func (s *Service) Read(ctx context.Context, loc contents.Location) (contents.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return contents.Snapshot{}, fmt.Errorf("%w: %s: %w", contents.ErrRead, loc, err)
	}
	lock := s.repoLock(loc.Repo)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(loc.Repo))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return contents.Snapshot{}, fmt.Errorf("%w: %s", contents.ErrNotFound, loc)
	}
	if err != nil {
		return contents.Snapshot{}, fmt.Errorf("%w: %s: open repo: %v", contents.ErrRead, loc, err)
	}

	raw, hash, err := readFile(repo, branchOf(loc), filePath(loc))
	if err != nil {
		return contents.Snapshot{}, fmt.Errorf("%w: %s", err, loc)
	}
	entries, err := notes.Decode(raw)
	if err != nil {
		return contents.Snapshot{}, fmt.Errorf("%w: %s: %w", contents.ErrRead, loc, err)
	}
	return contents.Snapshot{Entries: entries, Version: contents.Version(hash)}, nil
}

func (s *Service) Write(ctx context.Context, loc contents.Location, entries []notes.Entry, expected contents.Version, message string) (contents.Version, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %s: %w", contents.ErrWrite, loc, err)
	}
	payload, err := notes.Encode(entries)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", contents.ErrWrite, loc, err)
	}

	lock := s.repoLock(loc.Repo)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(loc.Repo)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", contents.ErrWrite, loc, err)
	}

	branch := branchOf(loc)
	path := filePath(loc)
	current := ""
	if _, hash, err := readFile(repo, branch, path); err == nil {
		current = hash
	} else if !errors.Is(err, contents.ErrNotFound) {
		return "", fmt.Errorf("%w: %s: %v", contents.ErrWrite, loc, err)
	}
	if current != string(expected) {
		return "", fmt.Errorf("%w: %s: have %q, expected %q", contents.ErrVersionConflict, loc, current, expected)
	}

	hash, err := s.commit(repo, branch, path, append(payload, '\n'), message)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", contents.ErrWrite, loc, err)
	}
	return contents.Version(hash), nil
}

func (s *Service) openOrInit(repoName string) (*git.Repository, error) {
	path := s.repoPath(repoName)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, branch, path string, payload []byte, message string) (string, error) {
	if err := checkoutBranch(repo, branch); err != nil {
		return "", err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}

	target := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if _, err := worktree.Add(path); err != nil {
		return "", fmt.Errorf("git add %s: %w", path, err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  s.authorName,
			Email: s.authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return "", fmt.Errorf("read commit object: %w", err)
	}
	f, err := commitObj.File(path)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", path, err)
	}
	return f.Hash.String(), nil
}

// checkoutBranch switches the worktree to branch. An unborn HEAD is pointed
// at branch so the next commit creates it; a missing branch on a repo with
// history is created from HEAD.
func checkoutBranch(repo *git.Repository, branch string) error {
	branchRef := plumbing.NewBranchReferenceName(branch)
	if _, err := repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
			return fmt.Errorf("set HEAD to %s: %w", branch, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("read HEAD: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", branch, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branch, err)
	}
	return nil
}

// readFile returns the bytes and blob hash of path at the branch head.
// Missing branches and files map to contents.ErrNotFound.
func readFile(repo *git.Repository, branch, path string) ([]byte, string, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, "", contents.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: resolve branch %s: %v", contents.ErrRead, branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, "", fmt.Errorf("%w: load commit: %v", contents.ErrRead, err)
	}
	f, err := commitObj.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, "", contents.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: load %s: %v", contents.ErrRead, path, err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, "", fmt.Errorf("%w: open %s: %v", contents.ErrRead, path, err)
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", contents.ErrRead, path, err)
	}
	return raw, f.Hash.String(), nil
}

func (s *Service) repoPath(repoName string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(repoName))
}

func (s *Service) repoLock(repoName string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[repoName]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[repoName] = lock
	return lock
}

func branchOf(loc contents.Location) string {
	if loc.Branch == "" {
		return defaultBranch
	}
	return loc.Branch
}

func filePath(loc contents.Location) string {
	return strings.Trim(filepath.ToSlash(loc.Path), "/")
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "bot"
	}
	return string(out)
}
