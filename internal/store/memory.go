package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps documents in process memory. It follows the same
// revision rules as the remote backends and is used for local runs and tests.
type MemoryBackend struct {
	mu    sync.Mutex
	files map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{files: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, path string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path]
	if !ok {
		return nil, "", ErrNotFound
	}
	out := append([]byte(nil), data...)
	return out, BlobSHA(out), nil
}

func (m *MemoryBackend) Put(_ context.Context, path string, data []byte, expected, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.files[path]
	switch {
	case exists && BlobSHA(current) != expected:
		return "", &ConflictError{Path: path, Expected: expected}
	case !exists && expected != "":
		return "", &ConflictError{Path: path, Expected: expected}
	}

	stored := append([]byte(nil), data...)
	m.files[path] = stored
	return BlobSHA(stored), nil
}

func (m *MemoryBackend) Repository(context.Context) (RepoInfo, error) {
	return RepoInfo{Name: "memory", Owner: "local", Private: true}, nil
}

// Paths lists stored document paths in sorted order.
func (m *MemoryBackend) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
