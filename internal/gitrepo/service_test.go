package gitrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	git "github.com/go-git/go-git/v5"

	"retroboard/internal/store"
)

func TestRepoLifecycle(t *testing.T) {
	tempDir := filepath.Join(t.TempDir(), "board")
	svc, err := Open(tempDir, "main", "Avery")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}
	ctx := context.Background()

	if _, _, err := svc.Get(ctx, "data/cards.json"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get() on empty repo error = %v, want ErrNotFound", err)
	}

	rev, err := svc.Put(ctx, "data/cards.json", []byte("[]"), "", "Update data/cards.json - t1")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if rev != store.BlobSHA([]byte("[]")) {
		t.Fatalf("Put() revision = %s, want blob hash", rev)
	}

	data, got, err := svc.Get(ctx, "data/cards.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "[]" || got != rev {
		t.Fatalf("Get() = %q %s, want [] %s", data, got, rev)
	}

	next, err := svc.Put(ctx, "data/cards.json", []byte("[1]"), rev, "Update data/cards.json - t2")
	if err != nil {
		t.Fatalf("Put() with current revision error = %v", err)
	}
	if next == rev {
		t.Fatal("expected a new revision")
	}

	repo, err := git.PlainOpen(tempDir)
	if err != nil {
		t.Fatalf("PlainOpen() error = %v", err)
	}
	head, err := repo.Head()
	if err != nil {
		t.Fatalf("Head() error = %v", err)
	}
	commitObj, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatalf("CommitObject() error = %v", err)
	}
	if !strings.HasPrefix(commitObj.Message, "Update data/cards.json - t2") {
		t.Fatalf("unexpected head commit message %q", commitObj.Message)
	}
	if commitObj.Author.Email != "Avery@retroboard.local" {
		t.Fatalf("unexpected author email %q", commitObj.Author.Email)
	}
}

func TestStaleRevisionConflicts(t *testing.T) {
	svc, err := Open(t.TempDir(), "main", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ctx := context.Background()

	first, err := svc.Put(ctx, "data/users.json", []byte("{}"), "", "seed")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := svc.Put(ctx, "data/users.json", []byte(`{"a":{}}`), first, "update"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	_, err = svc.Put(ctx, "data/users.json", []byte(`{"b":{}}`), first, "stale")
	if !store.IsConflict(err) {
		t.Fatalf("Put() with stale revision error = %v, want conflict", err)
	}
	_, err = svc.Put(ctx, "data/users.json", []byte(`{}`), "", "create again")
	if !store.IsConflict(err) {
		t.Fatalf("Put() without revision on existing file error = %v, want conflict", err)
	}

	data, _, err := svc.Get(ctx, "data/users.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != `{"a":{}}` {
		t.Fatalf("rejected writes must not land, got %s", data)
	}
}

func TestReopenKeepsContent(t *testing.T) {
	dir := t.TempDir()
	svc, err := Open(dir, "main", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	rev, err := svc.Put(context.Background(), "data/settings.json", []byte(`{"maxVotesPerUser":5}`), "", "seed")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	reopened, err := Open(dir, "main", "")
	if err != nil {
		t.Fatalf("Open() again error = %v", err)
	}
	_, got, err := reopened.Get(context.Background(), "data/settings.json")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != rev {
		t.Fatalf("revision after reopen = %s, want %s", got, rev)
	}
}

func TestConcurrentCreatesAdmitOneWriter(t *testing.T) {
	svc, err := Open(t.TempDir(), "main", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	const writers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Put(context.Background(), "data/cards.json", []byte{'[', byte('0' + i), ']'}, "", "race")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !store.IsConflict(err) {
				t.Errorf("Put() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successful creates = %d, want 1", successes)
	}
}

func TestRepository(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "team-retro")
	svc, err := Open(dir, "main", "Retro Bot")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	info, err := svc.Repository(context.Background())
	if err != nil {
		t.Fatalf("Repository() error = %v", err)
	}
	if info.Name != "team-retro" || info.Owner != "Retro Bot" || !info.Private {
		t.Fatalf("unexpected repo info %+v", info)
	}
}

func TestSanitizeEmail(t *testing.T) {
	tests := map[string]string{
		"Avery Quinn": "Avery.Quinn",
		"a_b-c":       "a.b.c",
		"!!!":         "user",
	}
	for in, want := range tests {
		if got := sanitizeEmail(in); got != want {
			t.Fatalf("sanitizeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
