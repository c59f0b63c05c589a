package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/park285/cheese-online/internal/config"
	"github.com/park285/cheese-online/internal/coordinator"
	"github.com/park285/cheese-online/internal/msgcat"
	"github.com/park285/cheese-online/internal/obslog"
	"github.com/park285/cheese-online/internal/server"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		log.Fatalf("dotenv error: %v", err)
	}
	cfg, err := config.LoadCoordinator()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv("coordinator"); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("message catalog error", zap.Error(err))
	}

	ctx := context.Background()
	opts := coordinator.Options{
		GracePeriod: cfg.GracePeriod,
		Retention:   cfg.RoomRetention,
		Revalidate:  cfg.RevalidateMoves,
		Metrics:     coordinator.NewMetrics(prometheus.DefaultRegisterer),
		Catalog:     catalog,
		Logger:      logger,
	}

	var store *coordinator.RedisStore
	if cfg.RedisURL != "" {
		store, err = coordinator.OpenRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("room store init error", zap.Error(err))
		}
		opts.Store = store
	}

	var repo *coordinator.Repository
	if cfg.DatabaseURL != "" {
		repo, err = coordinator.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("result repository init error", zap.Error(err))
		}
		mctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = repo.Migrate(mctx)
		cancel()
		if err != nil {
			logger.Fatal("result repository migrate error", zap.Error(err))
		}
		opts.Results = repo
	}

	hub := coordinator.NewHub(opts)
	if store != nil {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		n, err := hub.Recover(rctx)
		cancel()
		if err != nil {
			logger.Warn("room recovery failed", zap.Error(err))
		} else {
			logger.Info("rooms recovered", zap.Int("count", n))
		}
	}

	srv := server.New(hub, server.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		SendQueueSize:  cfg.SendQueueSize,
		Gatherer:       prometheus.DefaultGatherer,
		Logger:         logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("coordinator listening",
			zap.String("addr", cfg.ListenAddr),
			zap.Duration("grace", cfg.GracePeriod),
			zap.Bool("revalidate", cfg.RevalidateMoves),
			zap.Bool("redis", store != nil),
			zap.Bool("postgres", repo != nil),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	hub.Close()
	if store != nil {
		_ = store.Close()
	}
	if repo != nil {
		_ = repo.Close()
	}
	logger.Info("coordinator exited")
}
