package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/trinity/guided-upload/internal/api"
	"github.com/trinity/guided-upload/internal/config"
	"github.com/trinity/guided-upload/internal/gateway"
	"github.com/trinity/guided-upload/internal/logging"
	"github.com/trinity/guided-upload/internal/models"
	"github.com/trinity/guided-upload/internal/persistence"
	"github.com/trinity/guided-upload/internal/session"
	"github.com/trinity/guided-upload/internal/stages"
	"go.uber.org/zap"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, "guided-upload.config")
	if p := os.Getenv("GUIDED_UPLOAD_CONFIG"); p != "" {
		configPath = p
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Advanced.LogLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, configPath, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig, configPath string, logger *zap.Logger) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	store, err := persistence.Open(cfg.Persistence.Driver, cfg.GetDataDir(), cfg.DuckOptions())
	if err != nil {
		return fmt.Errorf("opening flow store: %w", err)
	}
	defer store.Close()

	rules, err := stages.LoadRules(cfg.Advanced.RulesFile)
	if err != nil {
		return fmt.Errorf("loading classification rules: %w", err)
	}

	backend := gateway.NewHTTPClient(gateway.Options{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.BackendTimeout(),
		MaxRetries:    cfg.Backend.MaxRetries,
		RetryInterval: cfg.RetryInterval(),
		Logger:        logger,
	})

	flows := session.NewManager(session.Config{
		Persistence: store,
		Gateway:     backend,
		Rules:       rules,
		Logger:      logger,
		MaxFlows:    cfg.Sessions.MaxFlows,
		SaveTimeout: cfg.SaveTimeout(),
		OnComplete: func(ctx context.Context, flowID string, st models.GuidedUploadFlowState) {
			logger.Info("flow primed",
				zap.String("flow", flowID), zap.Int("files", len(st.UploadedFiles)))
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background flow cleanup
	go flows.Run(ctx, cfg.CleanupInterval(), cfg.SessionTimeout())

	api.ShowErrorDetails = cfg.Advanced.ShowErrorDetails

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e)

	// Configure middleware
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/keepalive") || path == "/api/health"
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Flows:   flows,
		Logger:  logger,
		Version: Version,
	}))

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	logger.Info("guided upload server starting",
		zap.String("version", Version),
		zap.String("buildTime", BuildTime),
		zap.String("config", configPath),
		zap.String("listen", cfg.GetServerAddr()),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("persistence", cfg.Persistence.Driver),
		zap.String("dataDir", cfg.GetDataDir()),
	)

	errc := make(chan error, 1)
	go func() {
		errc <- e.StartServer(s)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
