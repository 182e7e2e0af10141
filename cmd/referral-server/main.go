package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/clinic/referrals/internal/config"
	"github.com/clinic/referrals/internal/domain/directory"
	"github.com/clinic/referrals/internal/domain/referral"
	"github.com/clinic/referrals/internal/domain/reporting"
	"github.com/clinic/referrals/internal/domain/users"
	"github.com/clinic/referrals/internal/platform/auth"
	"github.com/clinic/referrals/internal/platform/blobstore"
	"github.com/clinic/referrals/internal/platform/db"
	"github.com/clinic/referrals/internal/platform/logging"
	"github.com/clinic/referrals/internal/platform/metrics"
	"github.com/clinic/referrals/internal/platform/middleware"
	"github.com/clinic/referrals/internal/platform/telemetry"
	"github.com/clinic/referrals/migrations"
)

const (
	serviceName = "referral-server"
	version     = "0.1.0"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Clinic referral tracker API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the referral API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// migrationFiles returns the embedded schema unless dir points elsewhere.
func migrationFiles(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

// connect loads config and opens a pool for one-shot commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrationFiles(dir)).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded schema)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrationFiles(dir)).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to a migrations directory (defaults to the embedded schema)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage staff accounts",
	}

	createAdminCmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if email == "" || password == "" {
				return fmt.Errorf("--email and --password are required")
			}
			if name == "" {
				name = "Administrator"
			}

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			issuer := auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.TokenTTL)
			svc := users.NewService(users.NewRepoPG(pool), issuer, nil, auth.AllowAll{})
			u, err := svc.BootstrapAdmin(ctx, name, email, password)
			if err != nil {
				return fmt.Errorf("create admin: %w", err)
			}
			fmt.Printf("Created admin %s <%s> (%s)\n", u.Name, u.Email, u.ID)
			return nil
		},
	}
	createAdminCmd.Flags().String("name", "", "Display name")
	createAdminCmd.Flags().String("email", "", "Login email")
	createAdminCmd.Flags().String("password", "", "Initial password")
	cmd.AddCommand(createAdminCmd)

	return cmd
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.StorageBackend == "s3" {
		s, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := blobstore.NewLocalStore(cfg.UploadDir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newRevocationStore uses redis when REDIS_URL is set so logouts survive
// restarts and are shared between replicas.
func newRevocationStore(ctx context.Context, cfg *config.Config) (auth.RevocationStore, func(), error) {
	if cfg.RedisURL == "" {
		s := auth.NewMemoryRevocationStore()
		return s, s.Close, nil
	}
	s, err := auth.NewRedisRevocationStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// deps are the long-lived collaborators shared by every domain service.
type deps struct {
	pool    *pgxpool.Pool
	blobs   blobstore.Store
	issuer  *auth.TokenIssuer
	revoked auth.RevocationStore
	policy  auth.Policy
	metrics *metrics.Collector
}

type handlers struct {
	directory *directory.Handler
	referrals *referral.Handler
	reporting *reporting.Handler
	users     *users.Handler
}

func buildHandlers(d deps) handlers {
	tx := db.PoolTx{Pool: d.pool}

	referralRepo := referral.NewRepoPG(d.pool)
	practiceRepo := directory.NewPracticeRepoPG(d.pool)
	doctorRepo := directory.NewDoctorRepoPG(d.pool)

	directorySvc := directory.NewService(practiceRepo, directory.NewLocationRepoPG(d.pool), doctorRepo,
		directory.NewNoteRepoPG(d.pool), referralRepo, tx, d.policy, d.metrics)
	referralSvc := referral.NewService(referralRepo, referral.NewDocumentRepoPG(d.pool), d.blobs, tx,
		d.policy, d.metrics)
	reportingSvc := reporting.NewService(referralRepo, practiceRepo, doctorRepo, d.policy)
	usersSvc := users.NewService(users.NewRepoPG(d.pool), d.issuer, d.revoked, d.policy)

	return handlers{
		directory: directory.NewHandler(directorySvc),
		referrals: referral.NewHandler(referralSvc),
		reporting: reporting.NewHandler(reportingSvc),
		users:     users.NewHandler(usersSvc),
	}
}

func newEcho(cfg *config.Config, logger zerolog.Logger, d deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.Middleware(serviceName))
	e.Use(middleware.Metrics(d.metrics))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "11M"))

	var authMW echo.MiddlewareFunc
	switch {
	case cfg.AllowsAnonymousAdmin():
		logger.Warn().Msg("development auth enabled: requests without a bearer token run as an admin")
		authMW = auth.DevAuthMiddleware(d.issuer, d.revoked)
	case cfg.IsDev():
		logger.Warn().Msg("ENV=development with JWT_SIGNING_KEY set: bearer tokens are required")
		authMW = auth.JWTMiddleware(d.issuer, d.revoked)
	default:
		authMW = auth.JWTMiddleware(d.issuer, d.revoked)
	}

	public := e.Group("/api/v1")
	apiV1 := e.Group("/api/v1", authMW)

	h := buildHandlers(d)
	h.directory.RegisterRoutes(apiV1)
	h.referrals.RegisterRoutes(apiV1)
	h.reporting.RegisterRoutes(apiV1)
	h.users.RegisterRoutes(apiV1, public)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(d.pool))
	e.GET("/metrics", echo.WrapHandler(d.metrics.Handler()))

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, closer := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Console: cfg.IsDev(),
		File:    cfg.LogFile,
	})
	defer closer.Close()
	log.Logger = logger
	zerolog.DefaultContextLogger = &logger

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.StorageBackend).Msg("failed to open document storage")
	}

	revoked, closeRevoked, err := newRevocationStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer closeRevoked()

	policy, err := auth.NewCasbinPolicy(auth.DefaultRules)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load access policy")
	}

	e := newEcho(cfg, logger, deps{
		pool:    pool,
		blobs:   blobs,
		issuer:  auth.NewTokenIssuer([]byte(cfg.JWTSigningKey), cfg.JWTIssuer, cfg.TokenTTL),
		revoked: revoked,
		policy:  policy,
		metrics: metrics.NewCollector("referrals"),
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("storage", cfg.StorageBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
