package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medseal/medseal/internal/anchor"
	"github.com/medseal/medseal/internal/config"
	"github.com/medseal/medseal/internal/domain/audit"
	"github.com/medseal/medseal/internal/domain/records"
	"github.com/medseal/medseal/internal/platform/auth"
	"github.com/medseal/medseal/internal/platform/contentstore"
	"github.com/medseal/medseal/internal/platform/db"
	"github.com/medseal/medseal/internal/platform/middleware"
	"github.com/medseal/medseal/internal/platform/telemetry"
	"github.com/medseal/medseal/internal/seal"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medseal-server",
		Short: "Tamper-evidence API for clinical records",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(anchorCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the medseal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ephemeral, _ := cmd.Flags().GetBool("ephemeral")
			return runServer(ephemeral)
		},
	}
	cmd.Flags().Bool("ephemeral", false, "Run on in-memory storage, no database required")
	return cmd
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
			cfg, pool, err := openDatabase()
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(context.Background())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, pool, err := openDatabase()
			if err != nil {
				return err
			}
			defer pool.Close()

			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(context.Background())
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func anchorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anchor",
		Short: "Inspect and manage the anchor ledger connection",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show anchor ledger connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client, err := buildAnchorClient(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), cfg.AnchorCallTimeout)
			defer cancel()

			st, err := client.Status(ctx)
			if err != nil {
				return fmt.Errorf("anchor status: %w", err)
			}

			fmt.Printf("Configured: %v\n", st.Configured)
			fmt.Printf("Reachable:  %v\n", st.Reachable)
			if st.Endpoint != "" {
				fmt.Printf("Endpoint:   %s\n", st.Endpoint)
			}
			if st.Ledger != "" {
				fmt.Printf("Ledger:     %s\n", st.Ledger)
			}
			fmt.Printf("Position:   %d\n", st.LatestPosition)
			if st.Submitter != "" {
				fmt.Printf("Submitter:  %s (authorized: %v)\n", st.Submitter, st.Authorized)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "authorize <account>",
		Short: "Authorize a submitter account on the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAnchorAdmin(func(ctx context.Context, admin anchor.Admin) error {
				ref, err := admin.Authorize(ctx, args[0])
				if err != nil {
					return fmt.Errorf("authorize %s: %w", args[0], err)
				}
				fmt.Printf("Account %s authorized (reference: %s)\n", args[0], ref)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "deauthorize <account>",
		Short: "Revoke a submitter account on the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAnchorAdmin(func(ctx context.Context, admin anchor.Admin) error {
				ref, err := admin.Deauthorize(ctx, args[0])
				if err != nil {
					return fmt.Errorf("deauthorize %s: %w", args[0], err)
				}
				fmt.Printf("Account %s deauthorized (reference: %s)\n", args[0], ref)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <account>",
		Short: "Check whether a submitter account is authorized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAnchorAdmin(func(ctx context.Context, admin anchor.Admin) error {
				ok, err := admin.Authorized(ctx, args[0])
				if err != nil {
					return fmt.Errorf("check %s: %w", args[0], err)
				}
				if ok {
					fmt.Printf("Account %s is authorized.\n", args[0])
				} else {
					fmt.Printf("Account %s is NOT authorized.\n", args[0])
				}
				return nil
			})
		},
	})

	return cmd
}

// openDatabase loads config and connects a pool for the one-shot CLI
// commands. The caller owns Close.
func openDatabase() (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}

	pool, err := db.NewPool(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// buildAnchorClient picks the anchor variant from config: no URL means
// anchoring is off, "memory" runs the in-process ledger, anything else
// is treated as an HTTP gateway address.
func buildAnchorClient(cfg *config.Config) (anchor.Client, error) {
	switch cfg.AnchorGatewayURL {
	case "":
		return anchor.Disabled{}, nil
	case "memory":
		return anchor.NewMemory(), nil
	default:
		return anchor.NewHTTPClient(cfg.AnchorGatewayURL, cfg.AnchorAPIKey,
			anchor.WithTimeout(cfg.AnchorCallTimeout))
	}
}

// withAnchorAdmin runs fn against the configured anchor's admin surface
// under a call-scoped timeout.
func withAnchorAdmin(fn func(context.Context, anchor.Admin) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	client, err := buildAnchorClient(cfg)
	if err != nil {
		return err
	}
	admin, ok := client.(anchor.Admin)
	if !ok {
		return fmt.Errorf("configured anchor client does not support account administration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.AnchorCallTimeout)
	defer cancel()
	return fn(ctx, admin)
}

func runServer(ephemeral bool) error {
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

	// Storage: Postgres by default, in-memory with --ephemeral.
	ctx := context.Background()
	var (
		pool      *pgxpool.Pool
		auditRepo audit.Repo
		patients  records.PatientRepository
		diagnoses records.DiagnosisRepository
		labs      records.LabResultRepository
	)
	if ephemeral {
		logger.Warn().Msg("running on in-memory storage, data will not survive a restart")
		auditRepo = audit.NewRepoMem()
		patients = records.NewPatientRepoMem()
		diagnoses = records.NewDiagnosisRepoMem()
		labs = records.NewLabResultRepoMem()
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			logger.Fatal().Err(err).Msg("invalid configuration")
		}
		p, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		pool = p
		defer pool.Close()
		logger.Info().Msg("connected to database")

		auditRepo = audit.NewRepoPG(pool)
		patients = records.NewPatientRepoPG(pool)
		diagnoses = records.NewDiagnosisRepoPG(pool)
		labs = records.NewLabResultRepoPG(pool)
	}

	// Anchor client
	client, err := buildAnchorClient(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build anchor client")
	}
	if _, ok := client.(anchor.Disabled); ok {
		logger.Warn().Msg("no anchor gateway configured, fingerprints will stay pending")
	}

	// Sealing pipeline
	sealer := seal.NewSealer(cfg.SealExcludeFields)
	auditSvc := audit.NewService(auditRepo, client, sealer, logger)
	auditSvc.SubmitTimeout = cfg.AnchorCallTimeout
	auditSvc.MaxAttempts = cfg.TrackerMaxAttempts

	recordsSvc := records.NewService(patients, diagnoses, labs, auditSvc, logger)
	auditSvc.SetSource(records.NewRegistry(patients, diagnoses, labs))

	// Confirmation tracker
	tracker := audit.NewTracker(auditRepo, client, logger)
	tracker.Interval = cfg.TrackerInterval
	tracker.CallTimeout = cfg.AnchorCallTimeout
	tracker.MaxAttempts = cfg.TrackerMaxAttempts
	tracker.Concurrency = cfg.TrackerConcurrency

	trackerCtx, trackerCancel := context.WithCancel(ctx)
	defer trackerCancel()
	go tracker.Start(trackerCtx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API group, JWT-protected. Dev without a secret runs the bypass.
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.JWTSecret == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware([]byte(cfg.JWTSecret)))
	}

	auditHandler := audit.NewHandler(auditSvc, contentstore.NewMemory())
	auditHandler.RegisterRoutes(apiV1)

	recordsHandler := records.NewHandler(recordsSvc)
	recordsHandler.RegisterRoutes(apiV1)

	// Ops endpoints, deliberately outside the auth group.
	e.GET("/health", db.HealthHandler(pool))
	e.GET("/metrics", telemetry.Handler())

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	trackerCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
