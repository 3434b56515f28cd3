package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"retroboard/internal/board"
	"retroboard/internal/config"
	"retroboard/internal/ratelimit"
	"retroboard/internal/retro"
	"retroboard/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		MaxVotesPerUser:      3,
		SyncInterval:         10 * time.Second,
		MaxRequestsPerMinute: 1000,
		JWTSecret:            "test-secret",
		SessionTTL:           time.Hour,
	}
}

func newBoard(t *testing.T, backend store.Backend, limiter ratelimit.Limiter) *board.Synchronizer {
	t.Helper()
	if limiter == nil {
		limiter = ratelimit.NewWindow(1000)
	}
	client := store.NewClient(backend, limiter,
		store.WithDefaults(store.Defaults{MaxVotesPerUser: 3, AdminPassword: "admin123"}))
	b := board.New(client)
	if err := b.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return b
}

func newTestServer(t *testing.T, b *board.Synchronizer) *HTTPServer {
	t.Helper()
	svc := New(testConfig(), Deps{Board: b})
	return NewHTTPServer(svc, "*")
}

func do(t *testing.T, server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Buffer
	if body != "" {
		reader = bytes.NewBufferString(body)
	} else {
		reader = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func login(t *testing.T, server *HTTPServer, name, registry, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name, "registry": registry, "password": password})
	rr := do(t, server, http.MethodPost, "/api/session/login", "", string(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected login status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	token, _ := decode(t, rr)["token"].(string)
	if token == "" {
		t.Fatalf("expected token")
	}
	return token
}

func TestHealthIsPublic(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	rr := do(t, server, http.MethodGet, "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["ok"] != true || payload["loaded"] != true {
		t.Fatalf("unexpected health payload %v", payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestReadyReportsRepository(t *testing.T) {
	backend := store.NewMemoryBackend()
	b := newBoard(t, backend, nil)
	svc := New(testConfig(), Deps{Board: b, Checker: store.NewClient(backend, nil)})
	rr := do(t, NewHTTPServer(svc, "*"), http.MethodGet, "/api/ready", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestLoginRejectsMissingIdentity(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	rr := do(t, server, http.MethodPost, "/api/session/login", "", `{"name":"Una","registry":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decode(t, rr)["code"]; code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %v", code)
	}

	rr = do(t, server, http.MethodPost, "/api/session/login", "", `{"name":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for bad JSON, got %d", rr.Code)
	}
}

func TestLoginAssignsRoleFromPassword(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))

	rr := do(t, server, http.MethodPost, "/api/session/login", "", `{"name":"Ada","registry":"A1","password":"admin123"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if role := decode(t, rr)["role"]; role != "admin" {
		t.Fatalf("expected admin role, got %v", role)
	}

	rr = do(t, server, http.MethodPost, "/api/session/login", "", `{"name":"Una","registry":"U1","password":"wrong"}`)
	if role := decode(t, rr)["role"]; role != "participant" {
		t.Fatalf("expected participant role for a wrong password, got %v", role)
	}
}

func TestBoardRequiresSession(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	for _, token := range []string{"", "not-a-jwt"} {
		rr := do(t, server, http.MethodGet, "/api/board", token, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401 for token %q, got %d", token, rr.Code)
		}
	}
}

func TestCardVoteAndDeleteFlow(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	una := login(t, server, "Una", "U1", "")
	ugo := login(t, server, "Ugo", "U2", "")

	rr := do(t, server, http.MethodPost, "/api/cards", una, `{"column":"good","content":"Pairing helped"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	cardID, _ := decode(t, rr)["id"].(string)
	if cardID == "" {
		t.Fatalf("expected card id")
	}

	rr = do(t, server, http.MethodPost, "/api/cards/"+cardID+"/vote", ugo, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected vote status 200, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, server, http.MethodGet, "/api/board", ugo, "")
	var view board.View
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse board: %v", err)
	}
	good := view.Column(retro.ColumnGood)
	if len(good) != 1 || good[0].TotalVotes != 1 || !good[0].UserVoted || good[0].CanDelete {
		t.Fatalf("unexpected card view %+v", good)
	}
	if view.VotesRemaining != 2 {
		t.Fatalf("expected 2 votes remaining, got %d", view.VotesRemaining)
	}

	rr = do(t, server, http.MethodDelete, "/api/cards/"+cardID, ugo, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for non-author delete, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodDelete, "/api/cards/"+cardID, una, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if status := decode(t, rr)["status"]; status != "inactive" {
		t.Fatalf("expected inactive card, got %v", status)
	}

	rr = do(t, server, http.MethodGet, "/api/board", ugo, "")
	view = board.View{}
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("parse board: %v", err)
	}
	if view.VotesRemaining != 2 {
		t.Fatalf("expected deleted card to keep its vote, got %d votes remaining", view.VotesRemaining)
	}

	rr = do(t, server, http.MethodPost, "/api/cards/"+cardID+"/vote", ugo, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 voting on deleted card, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodPost, "/api/cards/missing/vote", ugo, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAddCardValidatesInput(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	una := login(t, server, "Una", "U1", "")

	rr := do(t, server, http.MethodPost, "/api/cards", una, `{"column":"sideways","content":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestVoteLimitAndAdminSettings(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	admin := login(t, server, "Ada", "A1", "admin123")
	una := login(t, server, "Una", "U1", "")

	rr := do(t, server, http.MethodPatch, "/api/settings", una, `{"maxVotesPerUser":1}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for participant, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodPatch, "/api/settings", admin, `{"maxVotesPerUser":0}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for zero votes, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodPatch, "/api/settings", admin, `{"maxVotesPerUser":1,"boardTitle":"Sprint 12"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["boardTitle"] != "Sprint 12" || payload["adminPassword"] != "" {
		t.Fatalf("unexpected settings payload %v", payload)
	}

	var ids []string
	for _, content := range []string{"one", "two"} {
		rr = do(t, server, http.MethodPost, "/api/cards", admin, `{"column":"bad","content":"`+content+`"}`)
		id, _ := decode(t, rr)["id"].(string)
		ids = append(ids, id)
	}
	if rr = do(t, server, http.MethodPost, "/api/cards/"+ids[0]+"/vote", una, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected first vote to succeed, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodPost, "/api/cards/"+ids[1]+"/vote", una, "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rr.Code, rr.Body.String())
	}
	if code := decode(t, rr)["code"]; code != "VOTE_LIMIT" {
		t.Fatalf("expected VOTE_LIMIT, got %v", code)
	}
}

func TestBackupIsAdminOnly(t *testing.T) {
	backend := store.NewMemoryBackend()
	server := newTestServer(t, newBoard(t, backend, nil))
	una := login(t, server, "Una", "U1", "")
	admin := login(t, server, "Ada", "A1", "admin123")

	if rr := do(t, server, http.MethodPost, "/api/backups", una, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
	rr := do(t, server, http.MethodPost, "/api/backups", admin, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	path, _ := decode(t, rr)["path"].(string)
	if !strings.HasPrefix(path, "data/backups/backup-") {
		t.Fatalf("unexpected backup path %q", path)
	}
	if _, _, err := backend.Get(context.Background(), path); err != nil {
		t.Fatalf("expected backup document at %s: %v", path, err)
	}
}

func TestStaleWriteReturnsConflict(t *testing.T) {
	backend := store.NewMemoryBackend()
	server := newTestServer(t, newBoard(t, backend, nil))
	una := login(t, server, "Una", "U1", "")

	other := newBoard(t, backend, nil)
	if _, err := other.AddCard(context.Background(), retro.User{UserID: "u9", Name: "Ivo"},
		retro.CardInput{Column: retro.ColumnImprove, Content: "from another tab"}); err != nil {
		t.Fatalf("other add: %v", err)
	}

	rr := do(t, server, http.MethodPost, "/api/cards", una, `{"column":"good","content":"late"}`)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = do(t, server, http.MethodPost, "/api/sync/reload", una, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected reload status 200, got %d", rr.Code)
	}
	rr = do(t, server, http.MethodPost, "/api/cards", una, `{"column":"good","content":"late"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 after reload, got %d body=%s", rr.Code, rr.Body.String())
	}
}

type budgetLimiter struct {
	left atomic.Int64
}

func (l *budgetLimiter) Allow(context.Context) error {
	if l.left.Add(-1) < 0 {
		return &ratelimit.ExceededError{Limit: 3, Window: time.Minute, RetryAfter: 1500 * time.Millisecond}
	}
	return nil
}

func TestRateLimitedWriteReturns429(t *testing.T) {
	limiter := &budgetLimiter{}
	limiter.left.Store(3)
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), limiter))

	rr := do(t, server, http.MethodPost, "/api/session/login", "", `{"name":"Una","registry":"U1"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d body=%s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("expected Retry-After 2, got %q", got)
	}
}

func TestToggleSyncWithoutScheduler(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	una := login(t, server, "Una", "U1", "")
	admin := login(t, server, "Ada", "A1", "admin123")

	if rr := do(t, server, http.MethodPost, "/api/sync/toggle", una, ""); rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
	if rr := do(t, server, http.MethodPost, "/api/sync/toggle", admin, ""); rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestToggleSyncFlipsScheduler(t *testing.T) {
	b := newBoard(t, store.NewMemoryBackend(), nil)
	sched := board.NewScheduler(b, time.Hour, 0, nil, nil)
	sched.Start(context.Background())
	defer sched.Stop()
	server := NewHTTPServer(New(testConfig(), Deps{Board: b, Scheduler: sched}), "*")
	admin := login(t, server, "Ada", "A1", "admin123")

	rr := do(t, server, http.MethodPost, "/api/sync/toggle", admin, "")
	if rr.Code != http.StatusOK || decode(t, rr)["running"] != false {
		t.Fatalf("expected sync paused, got %d body=%s", rr.Code, rr.Body.String())
	}
	rr = do(t, server, http.MethodPost, "/api/sync/toggle", admin, "")
	if decode(t, rr)["running"] != true {
		t.Fatalf("expected sync resumed, body=%s", rr.Body.String())
	}
}

func TestExportAndSearch(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	una := login(t, server, "Una", "U1", "")
	do(t, server, http.MethodPost, "/api/cards", una, `{"column":"improve","content":"Write more tests"}`)

	rr := do(t, server, http.MethodGet, "/api/export?format=json", una, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), "retro-board-") {
		t.Fatalf("unexpected disposition %q", rr.Header().Get("Content-Disposition"))
	}
	if strings.Contains(rr.Body.String(), "admin123") {
		t.Fatalf("export leaked the admin password")
	}

	if rr = do(t, server, http.MethodGet, "/api/export?format=docx", una, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	rr = do(t, server, http.MethodGet, "/api/search?q=tests", una, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decode(t, rr)
	if payload["total"] != float64(1) || payload["engine"] != "memory" {
		t.Fatalf("unexpected search payload %v", payload)
	}

	if rr = do(t, server, http.MethodGet, "/api/search?q=x&column=nope", una, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	rr := do(t, server, http.MethodGet, "/api/nope", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	server := newTestServer(t, newBoard(t, store.NewMemoryBackend(), nil))
	una := login(t, server, "Una", "U1", "")

	if rr := do(t, server, http.MethodGet, "/api/session", una, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr := do(t, server, http.MethodPost, "/api/session/logout", una, ""); rr.Code != http.StatusOK {
		t.Fatalf("expected logout status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if rr := do(t, server, http.MethodGet, "/api/board", una, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected revoked token to be rejected, got %d", rr.Code)
	}
}
