package backup

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retroboard/internal/retro"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	body, _ := io.ReadAll(r.Body)
	f.objects[r.URL.Path] = body
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

func TestObjectName(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 999, time.UTC)
	assert.Equal(t, "backup-2024-03-01T10-00-00.json", ObjectName("", ts))
	assert.Equal(t, "retro/backup-2024-03-01T10-00-00.json", ObjectName("retro", ts))
}

func TestNewMinIORequiresBucket(t *testing.T) {
	_, err := NewMinIO(MinIOConfig{Endpoint: "localhost:9000"}, nil)
	assert.Error(t, err)
}

func TestStoreUploadsBackup(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	archive, err := NewMinIO(MinIOConfig{
		Endpoint:  u.Host,
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "retro-backups",
		Prefix:    "/boards/",
	}, nil)
	require.NoError(t, err)

	b := retro.Backup{
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Cards:     []retro.Card{},
		Users:     map[string]retro.User{},
	}
	name, err := archive.Store(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "boards/backup-2024-03-01T10-00-00.json", name)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	body, ok := fake.objects["/retro-backups/boards/backup-2024-03-01T10-00-00.json"]
	require.True(t, ok, "object not uploaded: %v", fake.objects)
	assert.True(t, strings.Contains(string(body), `"timestamp"`))
}
