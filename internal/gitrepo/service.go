// Package gitrepo stores board documents in a local git repository, one
// commit per write, with blob hashes as revisions.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"retroboard/internal/store"
)

type Service struct {
	dir    string
	branch string
	author string

	mu   sync.Mutex
	repo *git.Repository
}

// Open opens the repository at dir, initialising it with an empty commit
// on branch when it does not exist yet.
func Open(dir, branch, author string) (*Service, error) {
	if branch == "" {
		branch = "main"
	}
	if author == "" {
		author = "Retro Board"
	}
	s := &Service{dir: dir, branch: branch, author: author}

	repo, err := git.PlainOpen(dir)
	switch {
	case err == nil:
		s.repo = repo
	case errors.Is(err, git.ErrRepositoryNotExists):
		repo, err = s.initRepo()
		if err != nil {
			return nil, err
		}
		s.repo = repo
	default:
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return s, nil
}

func (s *Service) initRepo() (*git.Repository, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(s.dir, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	hash, err := worktree.Commit("Initialise board repository", &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            s.signature(),
	})
	if err != nil {
		return nil, fmt.Errorf("commit baseline: %w", err)
	}
	branchRef := plumbing.NewBranchReferenceName(s.branch)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, hash)); err != nil {
		return nil, fmt.Errorf("set %s branch ref: %w", s.branch, err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", s.branch, err)
	}
	return repo, nil
}

func (s *Service) Get(_ context.Context, name string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commitObj, err := s.head()
	if err != nil {
		return nil, "", err
	}
	file, err := commitObj.File(cleanPath(name))
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, "", store.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("load %s from commit: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, "", fmt.Errorf("open %s reader: %w", name, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", name, err)
	}
	return data, file.Hash.String(), nil
}

// Put commits data at name when expected matches the blob currently
// committed there, or when both are empty.
func (s *Service) Put(_ context.Context, name string, data []byte, expected, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = cleanPath(name)
	commitObj, err := s.head()
	if err != nil {
		return "", err
	}
	current := ""
	if file, err := commitObj.File(name); err == nil {
		current = file.Hash.String()
	} else if !errors.Is(err, object.ErrFileNotFound) {
		return "", fmt.Errorf("load %s from commit: %w", name, err)
	}
	if current != expected {
		return "", &store.ConflictError{Path: name, Expected: expected}
	}

	if err := checkoutBranch(s.repo, s.branch); err != nil {
		return "", err
	}
	worktree, err := s.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	target := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create %s dir: %w", name, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := worktree.Add(name); err != nil {
		return "", fmt.Errorf("git add %s: %w", name, err)
	}
	if _, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author:            s.signature(),
	}); err != nil {
		return "", fmt.Errorf("commit %s: %w", name, err)
	}
	return store.BlobSHA(data), nil
}

func (s *Service) Repository(context.Context) (store.RepoInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.head(); err != nil {
		return store.RepoInfo{}, err
	}
	return store.RepoInfo{Name: filepath.Base(s.dir), Owner: s.author, Private: true}, nil
}

func (s *Service) head() (*object.Commit, error) {
	ref, err := s.repo.Reference(plumbing.NewBranchReferenceName(s.branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", s.branch, err)
	}
	commitObj, err := s.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func (s *Service) signature() *object.Signature {
	return &object.Signature{
		Name:  s.author,
		Email: fmt.Sprintf("%s@retroboard.local", sanitizeEmail(s.author)),
		When:  time.Now(),
	}
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(branchName)
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", branchName, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", branchName, err)
	}

	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func cleanPath(name string) string {
	return strings.TrimPrefix(path.Clean("/"+name), "/")
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
		return "user"
	}
	return string(out)
}
