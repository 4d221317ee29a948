package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/attendance-station/internal/backend"
	"github.com/example/attendance-station/internal/cache"
	"github.com/example/attendance-station/internal/capture"
	"github.com/example/attendance-station/internal/config"
	"github.com/example/attendance-station/internal/handlers"
	"github.com/example/attendance-station/internal/logging"
	"github.com/example/attendance-station/internal/repository"
	"github.com/example/attendance-station/internal/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app holds the services shared by every command.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	client  *backend.Client
	cache   cache.Cache
	history *repository.AttendanceRepository
	closers []func()
}

// appMode tells one-shot commands apart from the long-running bridge.
type appMode int

const (
	modeCommand appMode = iota
	modeServe
)

func newApp(ctx context.Context, opts *rootOptions, mode appMode) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.backendURL != "" {
		cfg.BackendURL = opts.backendURL
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		client: backend.NewClient(cfg.BackendURL, cfg.RequestTimeout, logger),
	}
	a.closers = append(a.closers, func() { logger.Sync() }) //nolint:errcheck

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	a.cache = a.initCache(redisCtx, mode)

	if cfg.DatabaseDSN != "" {
		db, err := initDatabase(ctx, cfg.DatabaseDSN, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		repo := repository.NewAttendanceRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("auto migrate failed: %w", err)
		}
		a.history = repo
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, func() { sqlDB.Close() })
		}
	}

	logger.Debug("station configured",
		zap.String("backend_url", cfg.BackendURL),
		zap.Duration("request_timeout", cfg.RequestTimeout),
		zap.Bool("history", a.history != nil),
	)
	return a, nil
}

// initCache prefers Redis. Without it the bridge keeps an in-process cache,
// while one-shot commands run uncached: an in-process cache dies with the
// command and could never serve an offline list.
func (a *app) initCache(ctx context.Context, mode appMode) cache.Cache {
	fallback := func() cache.Cache {
		if mode == modeServe {
			return cache.NewMemoryCache()
		}
		a.logger.Debug("offline lists disabled: set REDIS_ADDR to cache them between commands")
		return nil
	}
	if a.cfg.RedisAddr == "" {
		return fallback()
	}
	client, err := initRedis(ctx, a.cfg.RedisAddr, a.logger)
	if err != nil {
		a.logger.Warn("redis unavailable", zap.String("addr", a.cfg.RedisAddr), zap.Error(err))
		return fallback()
	}
	a.closers = append(a.closers, func() { client.Close() })
	return cache.NewRetryingCache(cache.NewRedisCache(client), a.logger)
}

func (a *app) deps() workflow.Deps {
	deps := workflow.Deps{Backend: a.client, Cache: a.cache, Logger: a.logger}
	if a.history != nil {
		deps.Recorder = a.history
	}
	return deps
}

func (a *app) fileCamera(source capture.FrameSource) *capture.FileCamera {
	return capture.NewFileCamera(source, capture.FileCameraOptions{
		OutputDir:    a.cfg.CaptureDir,
		MaxDimension: a.cfg.MaxDimension,
	}, a.logger)
}

// Close releases the backing services in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func runServe(ctx context.Context, a *app) error {
	if a.cfg.SpoolDir == "" {
		return errors.New("ATTENDANCE_SPOOL_DIR is required to serve")
	}

	device := a.fileCamera(capture.SpoolSource{Dir: a.cfg.SpoolDir})
	station := workflow.NewStation(device, workflow.StationConfig{
		RegisterQuality:  a.cfg.RegisterQuality,
		RecognizeQuality: a.cfg.RecognizeQuality,
	}, a.deps())
	defer station.Close()

	if err := station.Directory().Refresh(ctx); err != nil {
		a.logger.Warn("initial classroom refresh failed", zap.Error(err))
	}

	r := gin.New()
	r.Use(gin.Recovery())

	var history handlers.HistoryStore
	if a.history != nil {
		history = a.history
	}
	handlers.RegisterRoutes(r, station, history, a.logger)

	server := &http.Server{
		Addr:              a.cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("attendance station listening",
		zap.String("addr", a.cfg.ListenAddr),
		zap.String("spool_dir", a.cfg.SpoolDir),
	)
	return serveHTTPServer(server, a.cfg.ShutdownTimeout, a.logger)
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	zapLogger.Debug("database connected")
	return db, nil
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	zapLogger.Debug("redis connected", zap.String("addr", addr))
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
