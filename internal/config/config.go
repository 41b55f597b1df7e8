package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/contents"
)

const (
	BackendGitHub = "github"
	BackendGit    = "git"
)

type Config struct {
	Addr       string
	LogEnv     string
	CORSOrigin string

	// OAuth app
	ClientID     string
	ClientSecret string
	RedirectURI  string
	OAuthScope   string
	OAuthURL     string

	// Content store
	APIURL       string
	ServiceToken string
	StoreBackend string
	ReposDir     string
	Queue        contents.Location
	Published    contents.Location

	AllowedUsers []string

	MaxConflictRetries int
	RetryInitial       time.Duration
	RetryMax           time.Duration
	ClientTimeout      time.Duration

	// Audit log, disabled when empty
	DatabaseURL   string
	MigrationsDir string

	// Rate limiting, disabled when empty
	RedisURL        string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// Load reads the process environment, after merging a .env file when one is
// present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:       getenv("API_ADDR", ":8787"),
		LogEnv:     getenv("LOG_ENV", "production"),
		CORSOrigin: getenv("CORS_ORIGIN", "*"),

		ClientID:     getenv("GITHUB_CLIENT_ID", ""),
		ClientSecret: getenv("GITHUB_CLIENT_SECRET", ""),
		RedirectURI:  getenv("REDIRECT_URI", ""),
		OAuthScope:   getenv("OAUTH_SCOPE", "repo"),
		OAuthURL:     getenv("GITHUB_OAUTH_URL", "https://github.com"),

		APIURL:       getenv("GITHUB_API_URL", "https://api.github.com"),
		ServiceToken: getenv("GITHUB_TOKEN", ""),
		StoreBackend: strings.ToLower(getenv("STORE_BACKEND", BackendGitHub)),
		ReposDir:     getenv("REPOS_DIR", "./data/repos"),
		Queue: contents.Location{
			Repo:   getenv("QUEUE_REPO", "hiplitehehe/Notes"),
			Path:   getenv("QUEUE_PATH", "j.json"),
			Branch: getenv("QUEUE_BRANCH", ""),
		},
		Published: contents.Location{
			Repo:   getenv("PUBLISHED_REPO", "hiplitehehe/bookish-octo-robot"),
			Path:   getenv("PUBLISHED_PATH", "j.json"),
			Branch: getenv("PUBLISHED_BRANCH", ""),
		},

		AllowedUsers: splitList(getenv("ALLOWED_USERS", "")),

		MaxConflictRetries: getenvInt("APPROVE_MAX_RETRIES", 5),
		RetryInitial:       time.Duration(getenvInt("APPROVE_RETRY_INITIAL_MS", 50)) * time.Millisecond,
		RetryMax:           time.Duration(getenvInt("APPROVE_RETRY_MAX_MS", 1000)) * time.Millisecond,
		ClientTimeout:      time.Duration(getenvInt("HTTP_CLIENT_TIMEOUT_SECONDS", 10)) * time.Second,

		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("MIGRATIONS_DIR", "./db/migrations"),

		RedisURL:        getenv("REDIS_URL", ""),
		RateLimitMax:    getenvInt("RATE_LIMIT_REQUESTS", 30),
		RateLimitWindow: time.Duration(getenvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
	}
}

// Validate reports every configuration problem that would make the service
// unusable.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendGitHub:
		if c.ServiceToken == "" {
			errs = append(errs, errors.New("GITHUB_TOKEN is required for the github store backend"))
		}
	case BackendGit:
		if c.ReposDir == "" {
			errs = append(errs, errors.New("REPOS_DIR is required for the git store backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	for name, loc := range map[string]contents.Location{"QUEUE": c.Queue, "PUBLISHED": c.Published} {
		if owner, repo, ok := strings.Cut(loc.Repo, "/"); !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
			errs = append(errs, fmt.Errorf("%s_REPO must look like owner/name, got %q", name, loc.Repo))
		}
		if strings.Trim(loc.Path, "/") == "" {
			errs = append(errs, fmt.Errorf("%s_PATH must not be empty", name))
		}
	}
	if c.MaxConflictRetries < 0 {
		errs = append(errs, errors.New("APPROVE_MAX_RETRIES must not be negative"))
	}
	if c.ClientTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_CLIENT_TIMEOUT_SECONDS must be positive"))
	}
	if c.RedisURL != "" && (c.RateLimitMax <= 0 || c.RateLimitWindow <= 0) {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW_SECONDS must be positive"))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
