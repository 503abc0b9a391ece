package entrypoint

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/config"
	http_controllers "github.com/storytrim/server/internal/http"
	"github.com/storytrim/server/internal/logging"
	"github.com/storytrim/server/internal/ratelimit"
	"github.com/storytrim/server/internal/scheduler"
	"github.com/storytrim/server/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// Serve runs the HTTP server until SIGINT or SIGTERM, then calls onShutdown
// and drains open connections.
func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) error {
	logger := logging.With("server")
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info().Dur("timeout", timeout).Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop accepting work before the queue drains.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info().Msg("Server exiting")
	return nil
}

// Run wires the whole server from cfg and serves until shutdown.
func Run(cfg *config.Config, version string) error {
	logging.Init(cfg.Log)
	logger := logging.With("entrypoint")
	logger.Info().Str("version", version).Msg("Starting StoryTrim")

	ctx := context.Background()
	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing database")
		}
	}()

	watchParserRules(cfg, app.ParserRules)

	sweeper := &tasks.ContentSweeper{Store: app.Books}
	var orphanSweeper scheduler.OrphanSweeper = sweeper

	var taskClient *tasks.Client
	var taskCtxCancel context.CancelFunc
	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(cfg.Database.Path, tasks.Config{
			Workers:         cfg.Tasks.Workers,
			ReleaseAfter:    cfg.Tasks.ReleaseAfter,
			CleanupInterval: cfg.Tasks.CleanupInterval,
		})
		if err != nil {
			return fmt.Errorf("init task queue: %w", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error().Err(err).Msg("Error closing task client")
			}
		}()

		taskClient.Register(
			tasks.NewFullTrimQueue(app.TaskService),
			tasks.NewChapterTrimQueue(app.TaskService),
			tasks.NewCleanupOrphanContentsQueue(sweeper),
		)
		app.TaskService.SetQueue(taskClient)
		orphanSweeper = taskClient

		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(ctx)
		defer taskCtxCancel()
		taskClient.Start(taskCtx)
	} else {
		logger.Warn().Msg("Task queue disabled, background trims will be rejected")
	}

	var maintenance *scheduler.MaintenanceScheduler
	if cfg.Maintenance.Enabled {
		schedCfg := scheduler.Config{
			ReapSchedule: cfg.Maintenance.Schedule,
			StaleTaskAge: cfg.Maintenance.StaleTaskAge,
		}
		if cfg.Maintenance.SweepOrphans {
			schedCfg.SweepSchedule = cfg.Maintenance.SweepSchedule
		}
		maintenance = scheduler.NewMaintenanceScheduler(app.TaskService, orphanSweeper, schedCfg)
		if err := maintenance.Start(ctx); err != nil {
			return fmt.Errorf("start maintenance scheduler: %w", err)
		}
	}

	authCfg := cfg.Auth
	if authCfg.JWTSecret == "" {
		secret, err := auth.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generate jwt secret: %w", err)
		}
		authCfg.JWTSecret = secret
		logger.Warn().Msg("Generated JWT secret, tokens will not survive a restart (set AUTH_JWT_SECRET to persist)")
	}

	authService, err := auth.NewService(app.Users, app.PointsService, authCfg)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}

	sqlDB, err := app.DB.DB.DB()
	if err != nil {
		return fmt.Errorf("get sql db for sessions: %w", err)
	}
	sessionManager, err := auth.NewSessionManager(sqlDB, authCfg)
	if err != nil {
		return fmt.Errorf("init session manager: %w", err)
	}
	authController := auth.NewAuthController(authService, sessionManager, authCfg)

	csrfSecret, err := loadCSRFSecret(authCfg.SessionSecret)
	if err != nil {
		return err
	}

	if count, err := app.Users.CountUsers(); err == nil && count == 0 {
		logger.Info().Msg("No users yet, register through POST /api/v1/auth/register or `storytrim user create`")
	}

	streamLimiter := ratelimit.New(cfg.Trim.StreamRatePerSec, cfg.Trim.StreamRateBurst, cfg.Trim.StreamLimiterIdle)

	router := http_controllers.NewRouter(http_controllers.RouterConfig{
		Books:          app.BookService,
		Imports:        app.ImportService,
		Trims:          app.TrimService,
		Tasks:          app.TaskService,
		Contents:       app.ContentService,
		Points:         app.PointsService,
		Database:       app.DB,
		Storage:        app.Store,
		Version:        version,
		AuthService:    authService,
		AuthController: authController,
		SessionManager: sessionManager,
		AuthMiddleware: auth.NewMiddleware(authService, sessionManager),
		AuthConfig:     authCfg,
		CSRFSecret:     csrfSecret,
		SecureCookies:  authCfg.SecureCookies,
		StreamLimiter:  streamLimiter,
		ParserRules:    app.ParserRules,
	})

	onShutdown := func(ctx context.Context) {
		if taskClient != nil && taskCtxCancel != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
		if maintenance != nil {
			maintenance.Stop()
		}
		authController.Stop()
		streamLimiter.Stop()
	}

	return Serve(router, cfg, onShutdown)
}

// loadCSRFSecret decodes a hex session secret, falls back to its raw bytes,
// or generates one when none is configured.
func loadCSRFSecret(configured string) ([]byte, error) {
	if configured != "" {
		if secret, err := hex.DecodeString(configured); err == nil {
			return secret, nil
		}
		return []byte(configured), nil
	}

	secret, err := auth.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate csrf secret: %w", err)
	}
	logging.With("entrypoint").Info().Msg("Generated session secret (set AUTH_SESSION_SECRET to persist)")
	return hex.DecodeString(secret)
}

// watchParserRules reloads the chapter rules whenever the config file
// changes.
func watchParserRules(cfg *config.Config, store *config.ParserRulesStore) {
	if cfg.Global.ConfigFile == "" {
		return
	}
	logger := logging.With("config")

	v := viper.New()
	v.SetConfigFile(cfg.Global.ConfigFile)
	if err := v.ReadInConfig(); err != nil {
		logger.Warn().Err(err).Str("file", cfg.Global.ConfigFile).Msg("Parser rules will not be reloaded")
		return
	}

	store.OnReloadError(func(err error) {
		logger.Error().Err(err).Msg("Failed to reload parser rules")
	})
	store.Watch(v, func(p config.Parser) {
		logger.Info().Int("version", p.Version).Int("rules", len(p.Rules)).Msg("Parser rules reloaded")
	})
}
