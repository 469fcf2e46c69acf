package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"milenio/internal/auth"
	"milenio/internal/cache"
	"milenio/internal/catalog"
	"milenio/internal/config"
	"milenio/internal/convo"
	"milenio/internal/handlers"
	"milenio/internal/httpserver"
	"milenio/internal/logging"
	"milenio/internal/metrics"
	"milenio/internal/payments"
	"milenio/internal/psp"
	"milenio/internal/ranking"
	"milenio/internal/repo"
	"milenio/internal/telegram"
	"milenio/migrations"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting milenio", "env", cfg.AppEnv, "store", cfg.StoreBackend)

	pixWebhookURL := publicURL(cfg, "/webhook/pix")
	if pixWebhookURL != "" {
		logger.Info("public base url configured", "base_url", cfg.PublicBaseURL, "webhook_url", pixWebhookURL)
	}
	if cfg.PSPWebhookSecret == "" {
		logger.Warn("PSP_WEBHOOK_SECRET not set, payment notifications are accepted without authentication")
	}
	if cfg.TelegramWebhookSecret == "" {
		logger.Warn("TELEGRAM_WEBHOOK_SECRET not set, telegram updates will be ignored")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	fbApp, err := newFirebaseApp(ctx, cfg)
	if err != nil {
		return err
	}

	repository, err := openStore(ctx, cfg, fbApp, logger)
	if err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	defer repository.Close()

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("store ready")

	var verifier auth.TokenVerifier
	if fbApp != nil {
		authClient, err := fbApp.Auth(ctx)
		if err != nil {
			return fmt.Errorf("init firebase auth: %w", err)
		}
		verifier = authClient
	} else {
		logger.Warn("firebase not configured, authenticated routes will refuse requests")
	}

	var (
		redisClient  *cache.Redis
		dedup        convo.Deduper
		rankingCache ranking.Cache
	)
	if cfg.RedisAddr != "" {
		redisClient = cache.New(cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			UseTLS:   cfg.RedisTLS,
			Prefix:   cfg.MetricsNamespace,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		dedup = redisClient
		rankingCache = redisClient
	} else {
		logger.Warn("REDIS_ADDR not set, callback de-duplication disabled and ranking cached in process")
	}

	packages, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("load packages: %w", err)
	}

	pspClient := psp.New(psp.Config{
		BaseURL:        cfg.PSPBaseURL,
		Token:          cfg.PSPAPIToken,
		Timeout:        cfg.PSPTimeout,
		SplitAccountID: cfg.PSPSplitAccountID,
		SoftDescriptor: cfg.PSPSoftDescriptor,
	}, logger, metricRegistry)
	if !pspClient.Configured() {
		logger.Warn("PSP_API_TOKEN not set, charges cannot be issued")
	}

	telegramClient := telegram.New(telegram.Config{
		BaseURL: cfg.TelegramBaseURL,
		Token:   cfg.TelegramBotToken,
	}, logger, metricRegistry)

	issuer := payments.NewIssuer(repository, pspClient, logger, payments.IssuerConfig{
		NotificationURL: pixWebhookURL,
		Expiry:          cfg.PaymentExpiry,
	})
	reconciler := payments.NewReconciler(repository, telegramClient, metricRegistry, logger)
	cashOuts := payments.NewCashOutService(repository, payments.CashOutRules{
		MinResidual: cfg.CashOutMinResidual,
		MinUsage:    cfg.CashOutMinUsage,
		MinDeposit:  cfg.CashOutMinDeposit,
	}, metricRegistry, logger)
	rounds := payments.NewRoundService(repository, packages, logger)
	tokens := payments.NewTokenIssuer(repository, cfg.TelegramBotUsername)
	leaderboard := ranking.NewService(repository, rankingCache, cfg.RankingCacheTTL, logger)

	convoEngine := convo.New(repository, packages, pspClient, telegramClient, dedup, metricRegistry, logger, convo.EngineConfig{
		LookupAttempts:  cfg.TokenLookupAttempts,
		LookupDelay:     cfg.TokenLookupDelay,
		NotificationURL: pixWebhookURL,
	})

	api := handlers.NewAPI(handlers.APIDependencies{
		Issuer:  issuer,
		Tokens:  tokens,
		CashOut: cashOuts,
		Rounds:  rounds,
		Ranking: leaderboard,
		Support: repository,
	}, logger)

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, httpserver.Handlers{
		PixWebhook:      handlers.NewPixWebhook(psp.NewAuthenticator(cfg.PSPWebhookSecret), reconciler, metricRegistry, logger),
		TelegramWebhook: handlers.NewTelegramWebhook(cfg.TelegramWebhookSecret, convoEngine, logger),
		API:             api,
		Auth:            auth.NewMiddleware(verifier, logger),
	}, cfg.PublicBasePath)
	deps := httpserver.Dependencies{Store: repository}
	if redisClient != nil {
		deps.Redis = redisClient
	}
	httpSrv.SetDependencies(deps)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

// newFirebaseApp returns nil when neither a project nor credentials are configured.
func newFirebaseApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	if cfg.FirebaseProjectID == "" && cfg.FirebaseCredentialsFile == "" {
		return nil, nil
	}
	var opts []option.ClientOption
	if cfg.FirebaseCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}
	var fbConfig *firebase.Config
	if cfg.FirebaseProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	}
	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	return app, nil
}

func openStore(ctx context.Context, cfg *config.Config, fbApp *firebase.App, logger *slog.Logger) (repo.Repository, error) {
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		store, err := repo.NewSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendFirestore:
		if fbApp == nil {
			return nil, fmt.Errorf("firestore backend requires FIREBASE_PROJECT_ID")
		}
		client, err := fbApp.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("init firestore: %w", err)
		}
		return repo.NewFirestore(client, logger), nil
	default:
		store, err := repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func loadCatalog(cfg *config.Config) (*catalog.Catalog, error) {
	if cfg.PackagesFile == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(cfg.PackagesFile)
}

func publicURL(cfg *config.Config, path string) string {
	if cfg.PublicBaseURL == "" {
		return ""
	}
	base := cfg.PublicBaseURL
	if cfg.PublicBasePath != "" && cfg.PublicBasePath != "/" {
		base += "/" + strings.Trim(cfg.PublicBasePath, "/")
	}
	return base + path
}
