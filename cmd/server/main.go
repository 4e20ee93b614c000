package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stylesync/quota-server-go/internal/auth"
	"github.com/stylesync/quota-server-go/internal/cache"
	"github.com/stylesync/quota-server-go/internal/config"
	"github.com/stylesync/quota-server-go/internal/database"
	"github.com/stylesync/quota-server-go/internal/handler"
	"github.com/stylesync/quota-server-go/internal/jobs"
	"github.com/stylesync/quota-server-go/internal/metrics"
	"github.com/stylesync/quota-server-go/internal/middleware"
	"github.com/stylesync/quota-server-go/internal/redis"
	"github.com/stylesync/quota-server-go/internal/repository"
	"github.com/stylesync/quota-server-go/internal/rewriter"
	"github.com/stylesync/quota-server-go/internal/service"
	"github.com/stylesync/quota-server-go/internal/sse"
	"github.com/stylesync/quota-server-go/internal/tier"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(cfg.IsProduction()); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	if cfg.MigrateOnStart {
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	tiers, err := tier.Load(cfg.TiersFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load tiers")
	}

	metrics.Register()

	backend := rewriter.New(rewriter.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		BaseURL:    cfg.OpenAIBaseURL,
		Model:      cfg.OpenAIModel,
		RatePerSec: cfg.OpenAIRatePerSec,
	})
	log.Info().Str("backend", backend.Name()).Msg("rewriter ready")

	accountRepo := repository.NewAccountRepository(db.DB)
	userRepo := repository.NewUserRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	rewriteRepo := repository.NewRewriteRepository(db.DB)
	billingRepo := repository.NewBillingRepository(db.DB)

	accountCache := cache.NewAccountCache(redisClient, config.AccountCacheTTL)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL())

	ledgerService := service.NewLedgerService(db, accountRepo, tiers, accountCache, broker)
	rewriteService := service.NewRewriteService(ledgerService, rewriteRepo, backend, cfg.RewriteTimeout())
	subscriptionService := service.NewSubscriptionService(ledgerService, billingRepo)
	authService := service.NewAuthService(
		userRepo, sessionRepo, ledgerService, tokens,
		cfg.SessionSecret, cfg.RefreshTokenTTL(), cfg.PasswordUpdateTimeout(),
	)

	limiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(tokens)
	authRateLimitMiddleware := middleware.NewIPRateLimitMiddleware(limiter, cfg.AuthRateLimitPerMin, time.Minute, "auth")
	rewriteRateLimitMiddleware := middleware.NewAccountRateLimitMiddleware(limiter, cfg.RewriteRateLimitPerMin, "rewrite")
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())

	authHandler := handler.NewAuthHandler(authService, authMiddleware.Handler, authRateLimitMiddleware.Handler)
	accountHandler := handler.NewAccountHandler(ledgerService)
	rewriteHandler := handler.NewRewriteHandler(rewriteService, rewriteRateLimitMiddleware.Handler)
	subscriptionHandler := handler.NewSubscriptionHandler(subscriptionService, ledgerService)
	eventsHandler := handler.NewEventsHandler(broker, ledgerService)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"postgres": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(metrics.Middleware())
	r.Use(securityHeadersMiddleware.Handler)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		// The event stream is long-lived, so only the other routes get a deadline.
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/auth", authHandler.Routes())

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Handler)
				accountHandler.Routes(r)
				rewriteHandler.Routes(r)
				subscriptionHandler.Routes(r)
			})
		})

		r.With(authMiddleware.Handler).Get("/events", eventsHandler.ServeHTTP)
	})

	cleanupJob := jobs.NewCleanupJob(sessionRepo, ledgerService, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("environment", cfg.Environment).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
