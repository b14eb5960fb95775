package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"

	"github.com/amyflash/audio-drama-system/handlers"
	"github.com/amyflash/audio-drama-system/metrics"
	"github.com/amyflash/audio-drama-system/services/admission"
	"github.com/amyflash/audio-drama-system/services/sessions"
	"github.com/amyflash/audio-drama-system/services/streaming"
	"github.com/amyflash/audio-drama-system/services/tokens"
	"github.com/amyflash/audio-drama-system/utils"
)

func main() {
	// Load environment variables
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found, continuing..")
		}
	}

	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, logCloser, err := utils.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *utils.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "environment", cfg.AppEnv, "addr", cfg.HTTPAddr)

	// Initialize the database connection pool
	dbPool, err := utils.OpenDB(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer dbPool.Close()

	if err := utils.Migrate(ctx, dbPool); err != nil {
		return err
	}

	redisPool, err := utils.OpenRedisPool(ctx, cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisPool.Close()

	codec, err := tokens.NewCodec(tokens.Config{
		Secret:    []byte(cfg.JWTSecret),
		Issuer:    cfg.JWTIssuer,
		AccessTTL: cfg.AccessTTL(),
		StreamTTL: cfg.StreamTTL(),
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	controller, err := admission.NewController(
		utils.NewUserStore(dbPool),
		sessions.NewRedisRegistry(redisPool, ""),
		codec,
		admission.Config{
			MaxConcurrentUsers: cfg.MaxConcurrentUsers,
			SessionTTL:         cfg.SessionTTL(),
		},
		logger,
		m,
	)
	if err != nil {
		return err
	}

	proxies, err := cfg.Proxies()
	if err != nil {
		return err
	}

	var media afero.Fs = afero.NewReadOnlyFs(afero.NewOsFs())
	if cfg.MediaRoot != "" {
		media = afero.NewBasePathFs(media, cfg.MediaRoot)
	}
	engine := streaming.NewEngine(media, utils.NewEpisodeStore(dbPool), codec, logger)

	router := handlers.NewRouter(handlers.Deps{
		Controller:     controller,
		Engine:         engine,
		Codec:          codec,
		Metrics:        m,
		Logger:         logger,
		LoginLimiter:   handlers.NewIPRateLimiter(ctx, cfg.LoginRatePerMinute),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		TrustedProxies: proxies,
	})

	// No WriteTimeout: a long audio stream must not be cut off mid-file.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
