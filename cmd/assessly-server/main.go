package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/assessly/assessly/internal/config"
	"github.com/assessly/assessly/internal/domain/assessment"
	"github.com/assessly/assessly/internal/domain/funnel"
	"github.com/assessly/assessly/internal/domain/identity"
	"github.com/assessly/assessly/internal/domain/patientstate"
	"github.com/assessly/assessly/internal/domain/workup"
	"github.com/assessly/assessly/internal/platform/auth"
	"github.com/assessly/assessly/internal/platform/db"
	"github.com/assessly/assessly/internal/platform/idempotency"
	"github.com/assessly/assessly/internal/platform/middleware"
	"github.com/assessly/assessly/internal/platform/telemetry"
)

// workupSourceAdapter adapts the assessment service to the
// workup.EvidenceSource interface, avoiding circular imports between the
// workup and assessment packages.
type workupSourceAdapter struct {
	svc *assessment.Service
}

func (a *workupSourceAdapter) EvidencePack(ctx context.Context, assessmentID uuid.UUID) (workup.EvidencePack, error) {
	pack, err := a.svc.EvidencePackFor(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return workup.EvidencePack(pack), nil
}

// workupStatusAdapter adapts the assessment service to the
// workup.StatusWriter interface.
type workupStatusAdapter struct {
	svc *assessment.Service
}

func (a *workupStatusAdapter) WriteWorkupStatus(ctx context.Context, assessmentID uuid.UUID, status string, missingDataFields []string) error {
	return a.svc.SetWorkupStatus(ctx, assessmentID, status, missingDataFields)
}

// schedulerHandle lets the assessment service be constructed before the
// workup service it schedules onto.
type schedulerHandle struct {
	workups *workup.Service
}

func (h *schedulerHandle) Schedule(assessmentID uuid.UUID, funnelSlug string) {
	if h.workups != nil {
		h.workups.Schedule(assessmentID, funnelSlug)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "assessly-server",
		Short: "Patient assessment API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the assessment API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down - keep as warning
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Use Atlas CLI for migration rollback: atlas schema apply --dir migrations/")
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Telemetry
	provider := telemetry.NewProvider(telemetry.Config{
		ServiceName: "assessly-server",
		Environment: cfg.Env,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown incomplete")
		}
	}()

	// Pool health gauges
	health := provider.HealthMetrics()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			stat := pool.Stat()
			health.SetDBPoolActive(int64(stat.AcquiredConns()))
			health.SetDBPoolIdle(int64(stat.IdleConns()))
		}
	}()

	// Idempotency store: Redis when configured, Postgres otherwise.
	var idemStore idempotency.Store
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer client.Close()
		idemStore = idempotency.NewRedisStore(client, cfg.IdempotencyTTL)
		logger.Info().Msg("idempotency records stored in redis")
	} else {
		idemStore = idempotency.NewPGStore(pool, cfg.IdempotencyTTL)
		logger.Info().Msg("idempotency records stored in postgres")
	}

	// Repositories
	profileRepo := identity.NewProfileRepoPG(pool)
	funnelRepo := funnel.NewRepoPG(pool)
	manifestLoader := funnel.NewManifestLoaderPG(pool)
	legacyRepo := funnel.NewLegacyRepoPG(pool)
	assessmentRepo := assessment.NewRepoPG(pool)
	stateRepo := patientstate.NewRepoPG(pool)

	// Services
	profileSvc := identity.NewService(profileRepo)
	funnelSvc := funnel.NewService(funnelRepo, manifestLoader, legacyRepo)
	stateSvc := patientstate.NewService(stateRepo)

	validator := assessment.NewStrategyValidator(
		assessment.NewCatalogValidator(manifestLoader),
		assessment.NewLegacyValidator(legacyRepo),
	)

	workupHandle := &schedulerHandle{}
	assessmentSvc := assessment.NewService(assessmentRepo, funnelSvc, validator,
		stateSvc, workupHandle, provider, logger)
	workupHandle.workups = workup.NewService(
		&workupSourceAdapter{svc: assessmentSvc},
		&workupStatusAdapter{svc: assessmentSvc},
		workup.DefaultRegistry(),
		logger,
	)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(provider.MetricsMiddleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "Idempotency-Key"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		}))
	}

	// Health and metrics
	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", provider.PrometheusHandler())

	// API routes
	api := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	idemGuard := idempotency.Middleware(idemStore, idempotency.Config{
		TTL: cfg.IdempotencyTTL,
	}, logger)

	identity.NewHandler(profileSvc).RegisterRoutes(api)
	funnel.NewHandler(funnelSvc).RegisterRoutes(api)
	patientstate.NewHandler(stateSvc, profileSvc).RegisterRoutes(api)
	assessment.NewHandler(assessmentSvc, profileSvc).RegisterRoutes(api, idemGuard)

	// Start server
	addr := ":" + cfg.Port
	go func() {
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
