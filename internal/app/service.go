package app

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"retroboard/internal/auth"
	"retroboard/internal/board"
	"retroboard/internal/config"
	"retroboard/internal/export"
	"retroboard/internal/rbac"
	"retroboard/internal/retro"
	"retroboard/internal/search"
	"retroboard/internal/session"
	"retroboard/internal/store"
)

// ConnectivityChecker reports whether the board repository is reachable.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) store.Connectivity
}

// Service ties the board synchronizer to the session and ancillary
// services the HTTP layer exposes.
type Service struct {
	cfg       config.Config
	board     *board.Synchronizer
	scheduler *board.Scheduler
	checker   ConnectivityChecker
	search    *search.Service
	exporter  *export.Service
	revoked   session.Revocations
	log       *slog.Logger
}

type Deps struct {
	Board       *board.Synchronizer
	Scheduler   *board.Scheduler
	Checker     ConnectivityChecker
	Search      *search.Service
	Exporter    *export.Service
	Revocations session.Revocations
	Logger      *slog.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	exporter := deps.Exporter
	if exporter == nil {
		exporter = export.NewService(deps.Board)
	}
	searchSvc := deps.Search
	if searchSvc == nil {
		searchSvc = search.NewService(nil, log)
		deps.Board.Subscribe(searchSvc.Update)
	}
	revoked := deps.Revocations
	if revoked == nil {
		revoked = session.NewMemoryStore()
	}
	return &Service{
		cfg:       cfg,
		board:     deps.Board,
		scheduler: deps.Scheduler,
		checker:   deps.Checker,
		search:    searchSvc,
		exporter:  exporter,
		revoked:   revoked,
		log:       log,
	}
}

// Session is the caller identity carried by a bearer token.
type Session struct {
	UserID    string
	Name      string
	Role      rbac.Role
	TokenID   string
	ExpiresAt time.Time
}

func (s Session) User() retro.User {
	return retro.User{UserID: s.UserID, Name: s.Name, IsAdmin: s.Role == rbac.RoleAdmin}
}

type LoginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      retro.User `json:"user"`
	Role      rbac.Role  `json:"role"`
}

func (s *Service) Login(ctx context.Context, name, registry, password string) (LoginResponse, error) {
	user, err := s.board.Login(ctx, name, registry, password)
	if err != nil {
		return LoginResponse{}, err
	}
	role := rbac.For(user.IsAdmin)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.UserID, user.Name, role, s.cfg.SessionTTL)
	if err != nil {
		return LoginResponse{}, err
	}
	return LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(s.cfg.SessionTTL).UTC(),
		User:      user,
		Role:      role,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	if strings.TrimSpace(token) == "" {
		return Session{}, auth.ErrInvalidToken
	}
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	if claims.ID != "" {
		revoked, err := s.revoked.Revoked(ctx, claims.ID)
		if err != nil {
			s.log.Warn("app: revocation lookup failed", "error", err)
		} else if revoked {
			return Session{}, auth.ErrInvalidToken
		}
	}
	sess := Session{
		UserID:  claims.Subject,
		Name:    claims.Name,
		Role:    rbac.Normalize(string(claims.Role)),
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		sess.ExpiresAt = claims.ExpiresAt.Time
	}
	return sess, nil
}

// Logout revokes the session token for the rest of its lifetime.
func (s *Service) Logout(ctx context.Context, sess Session) error {
	if sess.TokenID == "" {
		return nil
	}
	return s.revoked.Revoke(ctx, sess.TokenID, sess.ExpiresAt)
}

func (s *Service) Board(session Session) board.View {
	return board.NewView(s.board.Snapshot(), session.UserID)
}

func (s *Service) AddCard(ctx context.Context, session Session, input retro.CardInput) (retro.Card, error) {
	return s.board.AddCard(ctx, session.User(), input)
}

func (s *Service) ToggleVote(ctx context.Context, session Session, cardID string) (retro.Card, error) {
	return s.board.ToggleVote(ctx, session.UserID, cardID)
}

func (s *Service) DeleteCard(ctx context.Context, session Session, cardID string) (retro.Card, error) {
	return s.board.DeleteCard(ctx, session.UserID, cardID)
}

func (s *Service) UpdateSettings(ctx context.Context, session Session, patch retro.SettingsPatch) (retro.Settings, error) {
	if err := authorize(session, rbac.ActionSettings); err != nil {
		return retro.Settings{}, err
	}
	settings, err := s.board.UpdateSettings(ctx, session.User(), patch)
	if err != nil {
		return retro.Settings{}, err
	}
	return settings.Public(), nil
}

func (s *Service) CreateBackup(ctx context.Context, session Session) (board.BackupResult, error) {
	if err := authorize(session, rbac.ActionBackup); err != nil {
		return board.BackupResult{}, err
	}
	return s.board.CreateBackup(ctx, session.User())
}

// Reload forces a fetch of all documents and returns the refreshed view.
func (s *Service) Reload(ctx context.Context, session Session) (board.View, error) {
	if err := s.board.Reload(ctx); err != nil {
		return board.View{}, err
	}
	return s.Board(session), nil
}

// ToggleSync pauses or resumes periodic reloads and backups.
func (s *Service) ToggleSync(session Session) (bool, error) {
	if err := authorize(session, rbac.ActionSync); err != nil {
		return false, err
	}
	if s.scheduler == nil {
		return false, domainError(http.StatusConflict, "SYNC_UNAVAILABLE", "Periodic sync is not configured", nil)
	}
	running := s.scheduler.Toggle()
	s.log.Info("app: periodic sync toggled", "running", running, "user", session.UserID)
	return running, nil
}

func (s *Service) SyncRunning() bool {
	return s.scheduler != nil && s.scheduler.Running()
}

func (s *Service) Loaded() bool {
	return s.board.Loaded()
}

func (s *Service) Connectivity(ctx context.Context) store.Connectivity {
	if s.checker == nil {
		return store.Connectivity{OK: true}
	}
	return s.checker.CheckConnectivity(ctx)
}

func (s *Service) Export(ctx context.Context, format string) (*export.Result, error) {
	f, err := export.ParseFormat(strings.ToLower(strings.TrimSpace(format)))
	if err != nil {
		return nil, err
	}
	return s.exporter.Export(ctx, f)
}

func (s *Service) Search(q search.Query) search.Response {
	return s.search.Search(q)
}

func (s *Service) PublicConfig() map[string]any {
	snap := s.board.Snapshot()
	return map[string]any{
		"config":     s.cfg.Public(),
		"boardTitle": snap.Settings.BoardTitle,
		"columns":    retro.Columns,
	}
}

func authorize(session Session, action rbac.Action) error {
	if !rbac.Can(session.Role, action) {
		return retro.ErrAdminRequired
	}
	return nil
}
