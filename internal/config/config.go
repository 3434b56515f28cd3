package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendGitHub = "github"
	BackendGit    = "git"
	BackendMemory = "memory"
)

// MinJWTSecretLength is the shortest session signing secret Validate accepts.
const MinJWTSecretLength = 16

type Config struct {
	Addr       string `validate:"required"`
	CORSOrigin string
	LogLevel   string
	LogJSON    bool
	Debug      bool

	Backend      string `validate:"oneof=github git memory"`
	RepoOwner    string
	RepoName     string
	Branch       string `validate:"required"`
	APIBaseURL   string `validate:"omitempty,url"`
	Token        string
	TokenFile    string
	LocalRepoDir string

	CardsPath    string `validate:"required"`
	SettingsPath string `validate:"required"`
	UsersPath    string `validate:"required"`
	BackupDir    string `validate:"required"`

	AdminPassword        string
	MaxVotesPerUser      int           `validate:"min=1"`
	SyncInterval         time.Duration `validate:"min=0"`
	BackupInterval       time.Duration `validate:"min=0"`
	BackupEnabled        bool
	MaxRequestsPerMinute int           `validate:"min=1"`
	NotificationDuration time.Duration `validate:"min=0"`
	ConflictRetries      int           `validate:"min=0,max=10"`

	JWTSecret  string
	SessionTTL time.Duration `validate:"gt=0"`
	// GeneratedJWTSecret is set when the memory backend was given no secret
	// and Load made a random one; sessions then end with the process.
	GeneratedJWTSecret bool

	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

// ConfigurationError lists every problem found by Validate.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Load reads an optional .env file and then the environment. The repository
// token comes from RETRO_REPO_TOKEN or, failing that, the token file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("retro")
	v.AutomaticEnv()
	setDefaults(v)
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("meili_url", "MEILI_URL")
	_ = v.BindEnv("meili_master_key", "MEILI_MASTER_KEY")

	cfg := Config{
		Addr:       v.GetString("addr"),
		CORSOrigin: v.GetString("cors_origin"),
		LogLevel:   v.GetString("log_level"),
		LogJSON:    v.GetBool("log_json"),
		Debug:      v.GetBool("debug"),

		Backend:      strings.ToLower(v.GetString("backend")),
		RepoOwner:    v.GetString("repo_owner"),
		RepoName:     v.GetString("repo_name"),
		Branch:       v.GetString("branch"),
		APIBaseURL:   v.GetString("api_base_url"),
		Token:        strings.TrimSpace(v.GetString("repo_token")),
		TokenFile:    v.GetString("token_file"),
		LocalRepoDir: v.GetString("local_repo_dir"),

		CardsPath:    v.GetString("cards_path"),
		SettingsPath: v.GetString("settings_path"),
		UsersPath:    v.GetString("users_path"),
		BackupDir:    v.GetString("backup_dir"),

		AdminPassword:        v.GetString("admin_password"),
		MaxVotesPerUser:      v.GetInt("max_votes_per_user"),
		SyncInterval:         time.Duration(v.GetInt64("sync_interval_ms")) * time.Millisecond,
		BackupInterval:       time.Duration(v.GetInt64("backup_interval_ms")) * time.Millisecond,
		BackupEnabled:        v.GetBool("backup_enabled"),
		MaxRequestsPerMinute: v.GetInt("max_requests_per_minute"),
		NotificationDuration: time.Duration(v.GetInt64("notification_duration_ms")) * time.Millisecond,
		ConflictRetries:      v.GetInt("conflict_retries"),

		JWTSecret:  strings.TrimSpace(v.GetString("jwt_secret")),
		SessionTTL: time.Duration(v.GetInt64("session_ttl_seconds")) * time.Second,

		RedisURL:       v.GetString("redis_url"),
		MeiliURL:       v.GetString("meili_url"),
		MeiliMasterKey: v.GetString("meili_master_key"),

		MinIOEndpoint:  v.GetString("minio_endpoint"),
		MinIOAccessKey: v.GetString("minio_access_key"),
		MinIOSecretKey: v.GetString("minio_secret_key"),
		MinIOBucket:    v.GetString("minio_bucket"),
		MinIOUseSSL:    v.GetBool("minio_use_ssl"),
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.Token == "" && cfg.TokenFile != "" {
		token, err := ReadToken(cfg.TokenFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Token = token
	}
	if cfg.JWTSecret == "" && cfg.Backend == BackendMemory {
		secret, err := randomSecret()
		if err != nil {
			return Config{}, err
		}
		cfg.JWTSecret, cfg.GeneratedJWTSecret = secret, true
	}
	return cfg, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8787")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("log_level", "info")
	v.SetDefault("backend", BackendGitHub)
	v.SetDefault("branch", "main")
	v.SetDefault("api_base_url", "https://api.github.com")
	v.SetDefault("token_file", DefaultTokenFile())
	v.SetDefault("local_repo_dir", "./data/board-repo")
	v.SetDefault("cards_path", "data/cards.json")
	v.SetDefault("settings_path", "data/settings.json")
	v.SetDefault("users_path", "data/users.json")
	v.SetDefault("backup_dir", "data/backups")
	v.SetDefault("admin_password", "admin123")
	v.SetDefault("max_votes_per_user", 3)
	v.SetDefault("sync_interval_ms", 10000)
	v.SetDefault("backup_interval_ms", 3600000)
	v.SetDefault("max_requests_per_minute", 30)
	v.SetDefault("notification_duration_ms", 3000)
	v.SetDefault("conflict_retries", 0)
	v.SetDefault("session_ttl_seconds", 43200)
	v.SetDefault("minio_bucket", "retroboard-backups")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports missing or out-of-range settings as a *ConfigurationError.
func (c Config) Validate() error {
	var problems []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s fails %q (got %v)", fe.Field(), fe.Tag(), fe.Value()))
		}
	}
	if c.Backend == BackendGitHub {
		if c.RepoOwner == "" {
			problems = append(problems, "repository owner is required (RETRO_REPO_OWNER)")
		}
		if c.RepoName == "" {
			problems = append(problems, "repository name is required (RETRO_REPO_NAME)")
		}
		if c.Token == "" {
			problems = append(problems, "access token is required (RETRO_REPO_TOKEN or `retro token set`)")
		}
	}
	switch {
	case c.JWTSecret == "":
		problems = append(problems, "session signing secret is required (RETRO_JWT_SECRET)")
	case len(c.JWTSecret) < MinJWTSecretLength:
		problems = append(problems, fmt.Sprintf("session signing secret must be at least %d characters (RETRO_JWT_SECRET)", MinJWTSecretLength))
	}
	if c.Backend == BackendGit && c.LocalRepoDir == "" {
		problems = append(problems, "local repository directory is required (RETRO_LOCAL_REPO_DIR)")
	}
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

// Public is the configuration safe to hand to browser clients.
type Public struct {
	MaxVotesPerUser      int   `json:"maxVotesPerUser"`
	SyncIntervalMs       int64 `json:"syncInterval"`
	BackupIntervalMs     int64 `json:"backupInterval"`
	NotificationDuration int64 `json:"notificationDuration"`
	MaxRequestsPerMinute int   `json:"maxRequestsPerMinute"`
	Debug                bool  `json:"debug"`
}

func (c Config) Public() Public {
	return Public{
		MaxVotesPerUser:      c.MaxVotesPerUser,
		SyncIntervalMs:       c.SyncInterval.Milliseconds(),
		BackupIntervalMs:     c.BackupInterval.Milliseconds(),
		NotificationDuration: c.NotificationDuration.Milliseconds(),
		MaxRequestsPerMinute: c.MaxRequestsPerMinute,
		Debug:                c.Debug,
	}
}

func DefaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".retroboard", "token")
}
