package search

import (
	"log/slog"
	"sync"

	"retroboard/internal/retro"
)

// indexer receives full card sets; *Meili implements it.
type indexer interface {
	Healthy() bool
	IndexCards(records []CardRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to the
// in-memory searcher.
type Service struct {
	meili    *Meili
	fallback *Memory
	log      *slog.Logger

	index   indexer
	mu      sync.Mutex
	pending []CardRecord
	queued  bool
	wake    chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closing sync.Once
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{meili: meili, fallback: NewMemory(), log: log}
	if meili != nil {
		s.startIndexer(meili)
	}
	return s
}

// startIndexer runs the single goroutine that pushes card sets to idx.
func (s *Service) startIndexer(idx indexer) {
	s.index = idx
	s.wake = make(chan struct{}, 1)
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.indexLoop()
}

func (s *Service) indexLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		s.mu.Lock()
		records, ok := s.pending, s.queued
		s.pending, s.queued = nil, false
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := s.index.IndexCards(records); err != nil {
			s.log.Warn("search: index cards", "count", len(records), "error", err)
		}
	}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "meilisearch"}
		}
		s.log.Warn("search: meilisearch error, falling back to memory", "error", err)
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.log.Warn("search: memory search error", "error", err)
		return Response{Results: []Result{}, Query: q.Text, Engine: "memory"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "memory"}
}

// Update refreshes both indexes from a board snapshot. The Meilisearch push
// happens in the background; while a push is in flight only the newest
// card set is kept, so the index never moves back to an older board.
func (s *Service) Update(snap retro.Snapshot) {
	records := recordsFor(snap.Cards)
	s.fallback.Replace(records)

	if s.index == nil || !s.index.Healthy() {
		return
	}
	s.mu.Lock()
	s.pending, s.queued = records, true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops the index worker and the Meilisearch health monitor, if any.
func (s *Service) Close() {
	s.closing.Do(func() {
		if s.done != nil {
			close(s.done)
			s.wg.Wait()
		}
		if s.meili != nil {
			s.meili.Close()
		}
	})
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
