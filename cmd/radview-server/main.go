package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/radview/radview/internal/config"
	"github.com/radview/radview/internal/domain/instance"
	"github.com/radview/radview/internal/domain/migration"
	"github.com/radview/radview/internal/domain/preview"
	"github.com/radview/radview/internal/platform/db"
	"github.com/radview/radview/internal/platform/middleware"
	"github.com/radview/radview/internal/platform/pacs"
	"github.com/radview/radview/internal/platform/telemetry"
	"github.com/radview/radview/internal/validation"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "radview-server",
		Short: "Radiology image preview migration gateway",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the preview gateway server",
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
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg)
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
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg)
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

	return cmd
}

// validateCmd runs the preflight harness from the command line, without a
// database: checks run against the configured preview server and a
// sandboxed routing stack. Exits non-zero when validation fails.
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Run the migration preflight validation suite",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			metrics := telemetry.NewProvider("radview-validate")
			client, err := pacs.NewClient(pacsClientConfig(cfg), logger, metrics)
			if err != nil {
				return err
			}

			ctx := context.Background()
			store := migration.NewStore(ctx, migration.DefaultConfig(), nil, logger)
			harness := validation.NewHarness(client, store, logger, metrics)

			report, err := harness.Run(ctx)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			if report.Status != validation.StatusPassed {
				return fmt.Errorf("validation %s with score %d", report.Status, report.Score)
			}
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func pacsClientConfig(cfg *config.Config) pacs.ClientConfig {
	return pacs.ClientConfig{
		BaseURL:         cfg.PACSURL,
		Timeout:         cfg.PACSTimeout(),
		RetryAttempts:   cfg.PACSRetryAttempts,
		RetryDelay:      cfg.PACSRetryDelay(),
		FallbackEnabled: cfg.PACSFallbackEnabled,
	}
}

func runServer() error {
	logger := newLogger()

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
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Telemetry
	metrics := telemetry.NewProvider("radview")

	// Preview server client
	pacsClient, err := pacs.NewClient(pacsClientConfig(cfg), logger, metrics)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create preview server client")
	}

	// Migration config store, persisted in Postgres
	configRepo := migration.NewConfigRepoPG(pool)
	configStore := migration.NewStore(ctx, migration.DefaultConfig(), configRepo, logger)

	// Routing stack
	instanceRepo := instance.NewRepoPG(pool)
	resolver := preview.NewResolver(pacsClient, instanceRepo, logger, metrics)
	mapper := preview.NewMapper(pacsClient, resolver, instanceRepo, logger)
	router := preview.NewRouter(instanceRepo, mapper, pacsClient, configStore, metrics, logger)

	var legacy preview.LegacyRenderer
	if cfg.LegacyRenderURL != "" {
		legacy = preview.NewHTTPLegacyRenderer(cfg.LegacyRenderURL, cfg.LegacyRenderTimeout())
		logger.Info().Str("url", cfg.LegacyRenderURL).Msg("legacy renderer configured")
	} else {
		logger.Warn().Msg("LEGACY_RENDER_URL not set; external failures will not fall back")
	}

	// Validation harness
	harness := validation.NewHarness(pacsClient, configStore, logger, metrics)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// API group
	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Bound each request to the full retry budget plus headroom.
	requestTimeout := time.Duration(cfg.PACSRetryAttempts)*(cfg.PACSTimeout()+cfg.PACSRetryDelay()) + 10*time.Second
	apiV1.Use(middleware.RequestTimeout(requestTimeout))

	// Health check: process liveness plus a live probe of the preview server.
	e.GET("/health", func(c echo.Context) error {
		resp := map[string]interface{}{
			"status":  "ok",
			"version": "0.1.0",
		}
		probeCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if info, err := pacsClient.SystemInfo(probeCtx); err != nil {
			resp["pacs"] = map[string]string{"status": "unreachable", "error": err.Error()}
		} else {
			resp["pacs"] = map[string]string{"status": "ok", "name": info.Name, "version": info.Version}
		}
		return c.JSON(http.StatusOK, resp)
	})

	// DB health check endpoint
	e.GET("/health/db", db.HealthHandler(pool))

	// Metrics
	e.GET("/metrics", metrics.PrometheusHandler())

	// -- Register handlers --
	preview.NewHandler(router, instanceRepo, legacy).RegisterRoutes(apiV1)
	migration.NewHandler(configStore).RegisterRoutes(apiV1)
	validation.NewHandler(harness).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if cfg.TLSEnabled {
			if err := e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile); err != nil && err != http.ErrServerClosed {
				logger.Fatal().Err(err).Msg("server error")
			}
			return
		}
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
