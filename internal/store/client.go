package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"retroboard/internal/metrics"
	"retroboard/internal/ratelimit"
	"retroboard/internal/retro"
)

// Defaults fills in documents that do not exist yet.
type Defaults struct {
	MaxVotesPerUser int
	AdminPassword   string
}

// Client is the typed view of the three board documents. Every backend
// call passes through the limiter first.
type Client struct {
	backend  Backend
	limiter  ratelimit.Limiter
	paths    Paths
	defaults Defaults
	log      *slog.Logger
	now      func() time.Time
}

type ClientOption func(*Client)

func WithPaths(p Paths) ClientOption {
	return func(c *Client) { c.paths = p }
}

func WithDefaults(d Defaults) ClientOption {
	return func(c *Client) { c.defaults = d }
}

func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient wraps backend. A nil limiter gets the default sliding window.
func NewClient(backend Backend, limiter ratelimit.Limiter, opts ...ClientOption) *Client {
	c := &Client{
		backend:  backend,
		limiter:  limiter,
		paths:    DefaultPaths(),
		defaults: Defaults{MaxVotesPerUser: retro.DefaultMaxVotesPerUser},
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = ratelimit.NewWindow(ratelimit.DefaultLimit)
	}
	return c
}

func (c *Client) Paths() Paths {
	return c.paths
}

// FetchCards returns the card list and its revision. A missing document
// yields an empty list and an empty revision.
func (c *Client) FetchCards(ctx context.Context) ([]retro.Card, string, error) {
	var cards []retro.Card
	rev, _, err := c.fetchJSON(ctx, c.paths.Cards, &cards)
	if err != nil {
		return nil, "", err
	}
	if cards == nil {
		cards = []retro.Card{}
	}
	for i := range cards {
		if cards[i].Votes == nil {
			cards[i].Votes = map[string]int{}
		}
	}
	return cards, rev, nil
}

// FetchSettings returns the settings and their revision. A missing document
// yields the configured defaults stamped with the current time.
func (c *Client) FetchSettings(ctx context.Context) (retro.Settings, string, error) {
	var settings retro.Settings
	rev, found, err := c.fetchJSON(ctx, c.paths.Settings, &settings)
	if err != nil {
		return retro.Settings{}, "", err
	}
	if !found {
		return retro.DefaultSettings(c.defaults.MaxVotesPerUser, c.defaults.AdminPassword, c.now()), "", nil
	}
	if settings.MaxVotesPerUser < 1 {
		settings.MaxVotesPerUser = c.defaultMaxVotes()
	}
	if settings.BoardTitle == "" {
		settings.BoardTitle = retro.DefaultBoardTitle
	}
	return settings, rev, nil
}

// FetchUsers returns the user registry keyed by user id.
func (c *Client) FetchUsers(ctx context.Context) (map[string]retro.User, string, error) {
	var users map[string]retro.User
	rev, _, err := c.fetchJSON(ctx, c.paths.Users, &users)
	if err != nil {
		return nil, "", err
	}
	if users == nil {
		users = map[string]retro.User{}
	}
	return users, rev, nil
}

func (c *Client) WriteCards(ctx context.Context, cards []retro.Card, expected string) (string, error) {
	if cards == nil {
		cards = []retro.Card{}
	}
	return c.writeJSON(ctx, c.paths.Cards, cards, expected)
}

func (c *Client) WriteSettings(ctx context.Context, settings retro.Settings, expected string) (string, error) {
	return c.writeJSON(ctx, c.paths.Settings, settings, expected)
}

func (c *Client) WriteUsers(ctx context.Context, users map[string]retro.User, expected string) (string, error) {
	if users == nil {
		users = map[string]retro.User{}
	}
	return c.writeJSON(ctx, c.paths.Users, users, expected)
}

// CreateSnapshot writes a backup document under the backup directory.
// Failures are logged and swallowed; ok reports whether the write landed.
func (c *Client) CreateSnapshot(ctx context.Context, backup retro.Backup) (path string, ok bool) {
	path = c.paths.BackupPath(backup.Timestamp)
	if _, err := c.writeJSON(ctx, path, backup, ""); err != nil {
		metrics.Backups.WithLabelValues("error").Inc()
		c.log.Warn("store: backup snapshot failed", "path", path, "error", err)
		return path, false
	}
	metrics.Backups.WithLabelValues("ok").Inc()
	c.log.Info("store: backup snapshot written", "path", path)
	return path, true
}

type Connectivity struct {
	OK      bool   `json:"ok"`
	Repo    string `json:"repo,omitempty"`
	Owner   string `json:"owner,omitempty"`
	Private bool   `json:"private"`
	Detail  string `json:"detail,omitempty"`
}

// CheckConnectivity probes the repository metadata endpoint. It never
// returns an error; failures are described in Detail.
func (c *Client) CheckConnectivity(ctx context.Context) Connectivity {
	if err := c.allow(ctx); err != nil {
		return Connectivity{Detail: err.Error()}
	}
	info, err := c.backend.Repository(ctx)
	metrics.StoreRequests.WithLabelValues("repository", metrics.Outcome(err)).Inc()
	if err != nil {
		return Connectivity{Detail: err.Error()}
	}
	return Connectivity{OK: true, Repo: info.Name, Owner: info.Owner, Private: info.Private}
}

// Verify is CheckConnectivity as an error, for startup.
func (c *Client) Verify(ctx context.Context) error {
	conn := c.CheckConnectivity(ctx)
	if !conn.OK {
		return &ConnectivityError{Detail: conn.Detail}
	}
	return nil
}

func (c *Client) defaultMaxVotes() int {
	if c.defaults.MaxVotesPerUser < 1 {
		return retro.DefaultMaxVotesPerUser
	}
	return c.defaults.MaxVotesPerUser
}

func (c *Client) allow(ctx context.Context) error {
	if err := c.limiter.Allow(ctx); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitExceeded) {
			metrics.RateLimited.Inc()
		}
		return err
	}
	return nil
}

func (c *Client) fetchJSON(ctx context.Context, path string, target any) (rev string, found bool, err error) {
	if err := c.allow(ctx); err != nil {
		return "", false, err
	}
	data, rev, err := c.backend.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		metrics.StoreRequests.WithLabelValues("get", "not_found").Inc()
		c.log.Debug("store: document missing, using default", "path", path)
		return "", false, nil
	}
	metrics.StoreRequests.WithLabelValues("get", metrics.Outcome(err)).Inc()
	if err != nil {
		return "", false, classify("fetch", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return "", false, &StoreError{Op: "decode", Path: path, Err: err}
	}
	return rev, true, nil
}

func (c *Client) writeJSON(ctx context.Context, path string, v any, expected string) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", &StoreError{Op: "encode", Path: path, Err: err}
	}
	if err := c.allow(ctx); err != nil {
		return "", err
	}
	message := fmt.Sprintf("Update %s - %s", path, c.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	rev, err := c.backend.Put(ctx, path, data, expected, message)
	metrics.StoreRequests.WithLabelValues("put", metrics.Outcome(err)).Inc()
	if err != nil {
		if IsConflict(err) {
			metrics.StoreConflicts.WithLabelValues(path).Inc()
		}
		return "", classify("write", path, err)
	}
	c.log.Debug("store: document written", "path", path, "revision", rev)
	return rev, nil
}

// classify leaves typed errors alone and wraps anything else as a StoreError.
func classify(op, path string, err error) error {
	var (
		conflict *ConflictError
		storeErr *StoreError
	)
	switch {
	case errors.As(err, &conflict), errors.As(err, &storeErr), errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return err
	}
	return &StoreError{Op: op, Path: path, Err: err}
}
