// Package store reads and writes the board documents through a revision-checked backend.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// Backend is a file store addressed by path with content-hash revisions.
//
// Put with an empty expected revision creates the file and must fail with a
// *ConflictError when the file already exists; with a non-empty revision it
// must fail the same way when the revision is not the current one.
type Backend interface {
	Get(ctx context.Context, path string) (data []byte, revision string, err error)
	Put(ctx context.Context, path string, data []byte, expected, message string) (revision string, err error)
	Repository(ctx context.Context) (RepoInfo, error)
}

type RepoInfo struct {
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Private bool   `json:"private"`
}

// Paths locates the documents inside the repository.
type Paths struct {
	Cards     string
	Settings  string
	Users     string
	BackupDir string
}

func DefaultPaths() Paths {
	return Paths{
		Cards:     "data/cards.json",
		Settings:  "data/settings.json",
		Users:     "data/users.json",
		BackupDir: "data/backups",
	}
}

// BackupPath names a backup after its UTC second, with ':' replaced by '-'.
func (p Paths) BackupPath(t time.Time) string {
	return fmt.Sprintf("%s/backup-%s.json", p.BackupDir, t.UTC().Format("2006-01-02T15-04-05"))
}

// BlobSHA is the git blob hash of data, the revision format every backend uses.
func BlobSHA(data []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, data).String()
}
