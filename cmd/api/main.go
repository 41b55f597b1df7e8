package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/app"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/auth"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/config"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/contents"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/gitrepo"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/logging"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/oauth"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/ratelimit"
	"github.com/Hiplitehehe/redesigned-octo-telegram/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if len(cfg.AllowedUsers) == 0 {
		logger.Warn("ALLOWED_USERS is empty; nobody can approve notes")
	}

	ctx := context.Background()
	httpClient := &http.Client{Timeout: cfg.ClientTimeout}

	docs, err := openDocumentStore(cfg, httpClient)
	if err != nil {
		logger.Fatal("document store setup failed", zap.Error(err))
	}
	logger.Info("document store ready",
		zap.String("backend", cfg.StoreBackend),
		zap.Stringer("queue", cfg.Queue),
		zap.Stringer("published", cfg.Published),
	)

	serviceOpts := []app.Option{app.WithLogger(logger)}
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		serviceOpts = append(serviceOpts, app.WithAuditLog(store.NewPostgresAuditLog(db)))
		logger.Info("approval audit log enabled")
	}

	httpOpts := []app.HTTPOption{app.WithAccessLogger(logger)}
	if cfg.RedisURL != "" {
		limiter, err := ratelimit.NewRedisLimiter(cfg.RedisURL, cfg.RateLimitMax, cfg.RateLimitWindow)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer limiter.Close()
		httpOpts = append(httpOpts, app.WithRateLimiter(limiter))
		logger.Info("rate limiting enabled",
			zap.Int("requests", cfg.RateLimitMax),
			zap.Duration("window", cfg.RateLimitWindow),
		)
	}

	verifier, err := auth.NewVerifier(cfg.APIURL, httpClient)
	if err != nil {
		logger.Fatal("identity verifier setup failed", zap.Error(err))
	}
	service := app.New(cfg, verifier, docs, serviceOpts...)
	oauthClient := oauth.New(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI, cfg.OAuthScope, cfg.OAuthURL, httpClient)

	httpServer := app.NewHTTPServer(service, oauthClient, cfg.CORSOrigin, httpOpts...)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("notes API listening", zap.String("addr", cfg.Addr), zap.Int("approvers", service.Approvers()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func openDocumentStore(cfg config.Config, httpClient *http.Client) (contents.Store, error) {
	if cfg.StoreBackend == config.BackendGit {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return nil, err
		}
		return gitrepo.New(cfg.ReposDir, "notes-bot"), nil
	}
	return contents.NewGitHub(cfg.APIURL, cfg.ServiceToken, httpClient)
}
