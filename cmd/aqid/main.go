package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/zzkt/aqi/internal/circuitbreaker"
	"github.com/zzkt/aqi/internal/client"
	"github.com/zzkt/aqi/internal/config"
	"github.com/zzkt/aqi/internal/health"
	"github.com/zzkt/aqi/internal/httpapi"
	"github.com/zzkt/aqi/internal/observability"
	"github.com/zzkt/aqi/internal/report"
	"github.com/zzkt/aqi/internal/service"
	"github.com/zzkt/aqi/internal/store"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if cfg.LogLevel != "" {
		if configured, err := observability.NewLoggerWithLevel(cfg.LogLevel); err == nil {
			logger = configured
		}
	}

	feedClient, err := client.NewWAQIClient(cfg.Token, cfg.FeedAPIURL, cfg.FeedTimeout)
	if err != nil {
		logger.Fatal("feed client", zap.Error(err))
	}

	if cfg.BreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        "waqi_feed",
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.BreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
				observability.BreakerState.Set(float64(to))
			},
		})
		feedClient.SetBreaker(cb)
		observability.BreakerState.Set(float64(circuitbreaker.StateClosed))
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("timeout", cfg.BreakerTimeout))
	}

	var (
		entryStore store.Store
		storePing  func() error
		storeClose func() error
	)
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := store.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached store", zap.Error(err))
		}
		entryStore = mc
		storePing = mc.Ping
		storeClose = mc.Close
		logger.Info("store backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs, err := store.NewRedisStore(connectCtx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		cancel()
		if err != nil {
			logger.Fatal("redis store", zap.Error(err))
		}
		entryStore = rs
		storePing = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rs.Ping(pingCtx)
		}
		storeClose = rs.Close
		logger.Info("store backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		entryStore = store.NewInMemoryStore()
		logger.Info("store backend: in_memory")
	}

	pipeline := service.NewPipeline(feedClient, entryStore, service.Policy{
		UseCache:      cfg.UseCache,
		RefreshPeriod: cfg.RefreshPeriod,
	}, logger)
	formatter := report.NewFormatter(pipeline, logger)

	healthConfig := &httpapi.HealthConfig{
		DegradedWindow:   cfg.DegradedWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		StorePing:        storePing,
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httpapi.NewHandler(formatter, pipeline, feedClient, healthConfig, logger)

	if len(cfg.WarmPlaces) > 0 {
		observability.SetTrackedPlaces(cfg.WarmPlaces)
		warmer := service.NewWarmer(pipeline, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, cfg.WarmPlaces); err != nil {
			logger.Warn("store warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), cfg.WarmPlaces, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic store warming stopped", zap.Error(err))
				}
			}()
		}
	}

	router := mux.NewRouter()
	router.Use(httpapi.CorrelationIDMiddleware(logger))
	router.Use(httpapi.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())
	router.HandleFunc("/search", handler.GetSearch).Methods("GET")

	reportRouter := router.PathPrefix("/report").Subrouter()
	reportRouter.Use(httpapi.RateLimitMiddleware(limiter))
	reportRouter.Use(httpapi.TimeoutMiddleware(cfg.RequestTimeout))
	reportRouter.HandleFunc("/{place}", handler.GetReport).Methods("GET")

	feedRouter := router.PathPrefix("/feed").Subrouter()
	feedRouter.Use(httpapi.RateLimitMiddleware(limiter))
	feedRouter.Use(httpapi.TimeoutMiddleware(cfg.RequestTimeout))
	feedRouter.HandleFunc("/{place}", handler.GetFeed).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	health.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	if storeClose != nil {
		if err := storeClose(); err != nil {
			logger.Error("store close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
