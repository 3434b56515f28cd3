package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"retroboard/internal/backup"
	"retroboard/internal/board"
	"retroboard/internal/config"
	"retroboard/internal/export"
	"retroboard/internal/github"
	"retroboard/internal/gitrepo"
	"retroboard/internal/ratelimit"
	"retroboard/internal/search"
	"retroboard/internal/session"
	"retroboard/internal/store"
)

// runtime is the wired board and everything hanging off it.
type runtime struct {
	client    *store.Client
	board     *board.Synchronizer
	scheduler *board.Scheduler
	search    *search.Service
	exporter  *export.Service
	revoked   session.Revocations
	closers   []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

func newBackend(cfg config.Config, log *slog.Logger) (store.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("using in-memory backend, the board is lost on exit")
		return store.NewMemoryBackend(), nil
	case config.BackendGit:
		return gitrepo.Open(cfg.LocalRepoDir, cfg.Branch, "Retroboard")
	default:
		return github.New(github.Config{
			BaseURL: cfg.APIBaseURL,
			Owner:   cfg.RepoOwner,
			Repo:    cfg.RepoName,
			Branch:  cfg.Branch,
			Token:   cfg.Token,
			Logger:  log,
		})
	}
}

func newLimiter(cfg config.Config, log *slog.Logger) (ratelimit.Limiter, func(), error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return ratelimit.NewWindow(cfg.MaxRequestsPerMinute), func() {}, nil
	}
	key := fmt.Sprintf("retroboard:ratelimit:%s/%s", cfg.RepoOwner, cfg.RepoName)
	w, err := ratelimit.NewRedisWindow(cfg.RedisURL, key, cfg.MaxRequestsPerMinute)
	if err != nil {
		return nil, nil, fmt.Errorf("redis rate limiter: %w", err)
	}
	log.Info("sharing rate limit through redis", "key", key)
	return w, func() { _ = w.Close() }, nil
}

func buildRuntime(ctx context.Context, cfg config.Config, log *slog.Logger) (*runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rt := &runtime{}

	backend, err := newBackend(cfg, log)
	if err != nil {
		return nil, err
	}
	limiter, closeLimiter, err := newLimiter(cfg, log)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeLimiter)

	rt.client = store.NewClient(backend, limiter,
		store.WithPaths(store.Paths{
			Cards:     cfg.CardsPath,
			Settings:  cfg.SettingsPath,
			Users:     cfg.UsersPath,
			BackupDir: cfg.BackupDir,
		}),
		store.WithDefaults(store.Defaults{MaxVotesPerUser: cfg.MaxVotesPerUser, AdminPassword: cfg.AdminPassword}),
		store.WithLogger(log),
	)

	opts := []board.Option{board.WithLogger(log), board.WithConflictRetries(cfg.ConflictRetries)}
	if cfg.MinIOEndpoint != "" {
		archive, err := backup.NewMinIO(backup.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			Prefix:    cfg.RepoName,
			UseSSL:    cfg.MinIOUseSSL,
		}, log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Warn("backup bucket unavailable, mirroring disabled", "bucket", cfg.MinIOBucket, "error", err)
		} else {
			opts = append(opts, board.WithArchive(archive))
		}
	}
	rt.board = board.New(rt.client, opts...)

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}
	rt.search = search.NewService(meili, log)
	rt.closers = append(rt.closers, rt.search.Close)
	rt.board.Subscribe(rt.search.Update)

	rt.revoked = session.NewMemoryStore()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.revoked = redisSessions
		rt.closers = append(rt.closers, func() { _ = redisSessions.Close() })
	}

	rt.exporter = export.NewService(rt.board)
	rt.scheduler = board.NewScheduler(rt.board, cfg.SyncInterval, cfg.BackupInterval,
		func() bool { return cfg.BackupEnabled }, log)
	rt.closers = append(rt.closers, rt.scheduler.Stop)
	return rt, nil
}

// load verifies the repository and pulls the current board.
func (rt *runtime) load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := rt.client.Verify(ctx); err != nil {
		return err
	}
	return rt.board.Reload(ctx)
}
