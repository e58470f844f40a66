package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lobby-scheduler/internal/config"
	"github.com/DoyleJ11/lobby-scheduler/internal/httpapi"
	"github.com/DoyleJ11/lobby-scheduler/internal/hub"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger config lives in cfg, so there is no logger yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	os.Exit(exitCode(log, run(cfg, log)))
}

// exitCode logs a failed run and flushes the logger before the process exits,
// since os.Exit skips deferred calls.
func exitCode(log *zap.Logger, err error) int {
	code := 0
	if err != nil {
		log.Error("server exited", zap.Error(err))
		code = 1
	}
	_ = log.Sync()
	return code
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.LogDevelopment {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := hub.New(hub.Config{
		LobbyCreationInterval:   cfg.LobbyCreationInterval,
		LobbyDuration:           cfg.LobbyDuration,
		MaxGameDuration:         cfg.MaxGameDuration,
		PrivateLobbyIdleTimeout: cfg.PrivateLobbyIdleTimeout,
		PublicBots:              cfg.PublicBots,
		MapWeights:              cfg.MapWeights,
		PlaylistSeed:            cfg.PlaylistSeed,
	}, hub.WithLogger(log))
	if err != nil {
		return err
	}
	if cfg.PrivateLobbyIdleTimeout == 0 {
		log.Warn("private lobby idle eviction disabled; abandoned private lobbies are never reclaimed")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(h, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.Run(gctx, cfg.TickInterval)
		return nil
	})
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}
		if err := h.Shutdown(shutdownCtx); err != nil {
			log.Warn("ending games on shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
