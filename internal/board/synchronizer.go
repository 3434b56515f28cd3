// Package board owns the in-memory board snapshot and keeps it in step
// with the document store through revision-checked read-modify-write cycles.
package board

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"retroboard/internal/backup"
	"retroboard/internal/metrics"
	"retroboard/internal/retro"
	"retroboard/internal/store"
	"retroboard/internal/util"
)

// Store is the document access the synchronizer needs; *store.Client implements it.
type Store interface {
	FetchCards(ctx context.Context) ([]retro.Card, string, error)
	FetchSettings(ctx context.Context) (retro.Settings, string, error)
	FetchUsers(ctx context.Context) (map[string]retro.User, string, error)
	WriteCards(ctx context.Context, cards []retro.Card, expected string) (string, error)
	WriteSettings(ctx context.Context, settings retro.Settings, expected string) (string, error)
	WriteUsers(ctx context.Context, users map[string]retro.User, expected string) (string, error)
	CreateSnapshot(ctx context.Context, b retro.Backup) (string, bool)
}

type Synchronizer struct {
	store   Store
	archive backup.Archive
	log     *slog.Logger
	now     func() time.Time
	newID   func() string
	retries int

	mu     sync.RWMutex
	snap   retro.Snapshot
	loaded bool

	subMu sync.Mutex
	subs  []func(retro.Snapshot)
}

type Option func(*Synchronizer)

// WithConflictRetries enables a bounded rebase loop: on a conflicting write
// the document is fetched again, the transform re-applied and the write
// retried up to n times. Zero surfaces the first conflict.
func WithConflictRetries(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.retries = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Synchronizer) {
		if log != nil {
			s.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Synchronizer) {
		if newID != nil {
			s.newID = newID
		}
	}
}

// WithArchive mirrors every backup snapshot to a.
func WithArchive(a backup.Archive) Option {
	return func(s *Synchronizer) { s.archive = a }
}

func New(st Store, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		store: st,
		log:   slog.Default(),
		now:   time.Now,
		newID: func() string { return util.NewID("card") },
		snap: retro.Snapshot{
			Cards: []retro.Card{},
			Users: map[string]retro.User{},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a deep copy of the current board.
func (s *Synchronizer) Snapshot() retro.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

func (s *Synchronizer) settings() retro.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Settings
}

// Loaded reports whether a reload has ever succeeded.
func (s *Synchronizer) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// Subscribe registers fn to receive a copy of the board after every change.
func (s *Synchronizer) Subscribe(fn func(retro.Snapshot)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Synchronizer) notify() {
	s.subMu.Lock()
	subs := make([]func(retro.Snapshot), len(s.subs))
	copy(subs, s.subs)
	s.subMu.Unlock()
	if len(subs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}

// Reload fetches all three documents concurrently and replaces the snapshot
// only if every fetch succeeded.
func (s *Synchronizer) Reload(ctx context.Context) error {
	start := time.Now()
	var (
		cards    []retro.Card
		settings retro.Settings
		users    map[string]retro.User
		meta     retro.Meta
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cards, meta.CardsSha, err = s.store.FetchCards(gctx)
		if err != nil {
			return fmt.Errorf("fetch cards: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		settings, meta.SettingsSha, err = s.store.FetchSettings(gctx)
		if err != nil {
			return fmt.Errorf("fetch settings: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		users, meta.UsersSha, err = s.store.FetchUsers(gctx)
		if err != nil {
			return fmt.Errorf("fetch users: %w", err)
		}
		return nil
	})
	err := g.Wait()
	metrics.SyncReloadDuration.Observe(time.Since(start).Seconds())
	metrics.SyncReloads.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		s.log.Warn("board: reload failed, keeping previous snapshot", "error", err)
		return err
	}

	s.mu.Lock()
	s.snap = retro.Snapshot{Cards: cards, Settings: settings, Users: users, Meta: meta}
	s.loaded = true
	s.mu.Unlock()

	s.log.Debug("board: reloaded", "cards", len(cards), "users", len(users), "cards_sha", meta.CardsSha)
	s.notify()
	return nil
}

// MutateCards writes transform(cards) back with the last observed cards
// revision. On any error the snapshot is left as it was.
func (s *Synchronizer) MutateCards(ctx context.Context, transform func([]retro.Card) ([]retro.Card, error)) ([]retro.Card, error) {
	return mutate(ctx, s, document[[]retro.Card]{
		name:  "cards",
		clone: retro.CloneCards,
		get:   func(snap *retro.Snapshot) ([]retro.Card, string) { return snap.Cards, snap.Meta.CardsSha },
		set: func(snap *retro.Snapshot, v []retro.Card, rev string) {
			snap.Cards, snap.Meta.CardsSha = v, rev
		},
		fetch: s.store.FetchCards,
		write: s.store.WriteCards,
	}, transform)
}

// MutateSettings merges patch onto the current settings and writes them back.
func (s *Synchronizer) MutateSettings(ctx context.Context, patch retro.SettingsPatch) (retro.Settings, error) {
	return mutate(ctx, s, document[retro.Settings]{
		name:  "settings",
		clone: func(v retro.Settings) retro.Settings { return v },
		get:   func(snap *retro.Snapshot) (retro.Settings, string) { return snap.Settings, snap.Meta.SettingsSha },
		set: func(snap *retro.Snapshot, v retro.Settings, rev string) {
			snap.Settings, snap.Meta.SettingsSha = v, rev
		},
		fetch: s.store.FetchSettings,
		write: s.store.WriteSettings,
	}, func(current retro.Settings) (retro.Settings, error) {
		return current.Merge(patch, s.now())
	})
}

func (s *Synchronizer) MutateUsers(ctx context.Context, transform func(map[string]retro.User) (map[string]retro.User, error)) (map[string]retro.User, error) {
	return mutate(ctx, s, document[map[string]retro.User]{
		name:  "users",
		clone: retro.CloneUsers,
		get:   func(snap *retro.Snapshot) (map[string]retro.User, string) { return snap.Users, snap.Meta.UsersSha },
		set: func(snap *retro.Snapshot, v map[string]retro.User, rev string) {
			snap.Users, snap.Meta.UsersSha = v, rev
		},
		fetch: s.store.FetchUsers,
		write: s.store.WriteUsers,
	}, transform)
}

// BackupResult describes where a backup landed. Path is set even when the
// best-effort store write failed.
type BackupResult struct {
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Stored    bool      `json:"stored"`
	Archived  string    `json:"archived,omitempty"`
}

// SnapshotBackup writes the whole board to a timestamped backup document
// and mirrors it to the archive when one is configured. It never fails.
func (s *Synchronizer) SnapshotBackup(ctx context.Context) BackupResult {
	b := retro.NewBackup(s.Snapshot(), s.now())
	path, ok := s.store.CreateSnapshot(ctx, b)
	res := BackupResult{Timestamp: b.Timestamp, Path: path, Stored: ok}
	if s.archive != nil {
		name, err := s.archive.Store(ctx, b)
		if err != nil {
			s.log.Warn("board: backup mirror failed", "error", err)
		} else {
			res.Archived = name
		}
	}
	return res
}

type document[T any] struct {
	name  string
	clone func(T) T
	get   func(*retro.Snapshot) (T, string)
	set   func(*retro.Snapshot, T, string)
	fetch func(context.Context) (T, string, error)
	write func(context.Context, T, string) (string, error)
}

func mutate[T any](ctx context.Context, s *Synchronizer, doc document[T], transform func(T) (T, error)) (T, error) {
	var zero T

	s.mu.RLock()
	current, rev := doc.get(&s.snap)
	current = doc.clone(current)
	s.mu.RUnlock()

	for attempt := 0; ; attempt++ {
		next, err := transform(doc.clone(current))
		if err != nil {
			return zero, err
		}
		newRev, err := doc.write(ctx, next, rev)
		if err == nil {
			s.mu.Lock()
			doc.set(&s.snap, doc.clone(next), newRev)
			s.mu.Unlock()
			s.notify()
			return next, nil
		}
		if !store.IsConflict(err) || attempt >= s.retries {
			if store.IsConflict(err) {
				s.log.Warn("board: write rejected, change dropped", "document", doc.name, "revision", rev)
			}
			return zero, fmt.Errorf("write %s: %w", doc.name, err)
		}

		s.log.Info("board: write conflict, rebasing", "document", doc.name, "attempt", attempt+1)
		current, rev, err = doc.fetch(ctx)
		if err != nil {
			return zero, fmt.Errorf("refetch %s: %w", doc.name, err)
		}
	}
}
