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
	_ "time/tzdata"

	"github.com/ErlanBelekov/notify-scheduler/config"
	"github.com/ErlanBelekov/notify-scheduler/internal/alarm"
	"github.com/ErlanBelekov/notify-scheduler/internal/codec"
	"github.com/ErlanBelekov/notify-scheduler/internal/health"
	"github.com/ErlanBelekov/notify-scheduler/internal/infrastructure/file"
	"github.com/ErlanBelekov/notify-scheduler/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/notify-scheduler/internal/infrastructure/sqlite"
	ctxlog "github.com/ErlanBelekov/notify-scheduler/internal/log"
	"github.com/ErlanBelekov/notify-scheduler/internal/metrics"
	"github.com/ErlanBelekov/notify-scheduler/internal/render"
	"github.com/ErlanBelekov/notify-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/notify-scheduler/internal/store"
	httptransport "github.com/ErlanBelekov/notify-scheduler/internal/transport/http"
	"github.com/ErlanBelekov/notify-scheduler/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		stop()
		log.Fatalf("store: %v", err)
	}
	defer closeBackend()

	st := store.New(backend, codec.New(), logger)

	metrics.Register()
	checker := health.NewChecker(st, cfg.StoreDriver, logger, prometheus.DefaultRegisterer)

	renderer, err := render.New(cfg.Renderer, cfg.ResendAPIKey, cfg.ResendFrom, cfg.NotifyEmailTo, logger)
	if err != nil {
		stop()
		log.Fatalf("renderer: %v", err)
	}

	// The port fires into the dispatcher, which needs the scheduler, which
	// needs the port.
	var dispatcher *scheduler.Dispatcher
	port := alarm.NewTimerPort(ctx, alarm.TimerConfig{
		ExactAllowed:  cfg.ExactAlarmsAllowed,
		InexactWindow: cfg.InexactWindow,
		MaxSleep:      cfg.MaxSleep,
	}, func(ctx context.Context, id, gen int64) {
		dispatcher.OnFire(ctx, id, gen)
	}, logger)

	sched := scheduler.New(st, port, logger)
	dispatcher = scheduler.NewDispatcher(st, sched, renderer, logger)

	if err := sched.OnBootCompleted(ctx); err != nil {
		// A storage failure here is not fatal: the API stays up and requests
		// scheduled later are armed normally.
		logger.Error("rehydrate on boot", "error", err)
	}

	notificationHandler := handler.NewNotificationHandler(sched, cfg.DefaultZone, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httptransport.NewRouter(logger, notificationHandler, []byte(cfg.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("scheduler stopped", "error", err)
	}

	// Waits for in-flight fire callbacks so their store writes land before
	// the backend closes.
	if err := port.Close(); err != nil {
		logger.Error("alarm port close", "error", err)
	}
	logger.Info("scheduler shut down")
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Backend, func(), error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("memory store selected, schedules will not survive a restart")
		return store.NewMemoryBackend(), func() {}, nil
	case "file":
		b, err := file.New(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return b, func() {}, nil
	case "sqlite":
		b, err := sqlite.Open(ctx, cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("sqlite store opened", "path", b.Path())
		return b, func() {
			if err := b.Close(); err != nil {
				logger.Error("sqlite close", "error", err)
			}
		}, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		b := postgres.NewBackend(pool, logger)
		if err := b.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("db connected")
		return b, pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
