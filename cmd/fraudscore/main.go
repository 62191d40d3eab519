package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"fraudscore/internal/cfg"
	"fraudscore/internal/history"
	"fraudscore/internal/inference"
	"fraudscore/internal/metrics"
	"fraudscore/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	setupLogging(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ic := c.Inference()
	modelCtx, err := inference.LoadContext(ic)
	if err != nil {
		log.Fatal().Err(err).
			Str("forest", ic.ForestPath).
			Str("booster", ic.BoosterPath).
			Str("encoders", ic.EncoderPath).
			Msg("failed to load models")
	}

	mw := metrics.NewWrapper(metrics.New())
	engine := inference.NewEngine(modelCtx, ic)
	engine.SetMetrics(mw)

	store := initializeHistory(ctx, c)
	if store != nil {
		defer store.Close()
		engine.SetHistory(store)
	}

	srv := server.New(engine, server.Config{
		Addr:           c.ListenAddr,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		RequestTimeout: c.RequestTimeout,
	}, mw, nil)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, engine)

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown server")
	}
}

// setupLogging applies the configured level and output format.
func setupLogging(c cfg.Settings) {
	zerolog.SetGlobalLevel(c.Level())
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if c.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// initializeHistory opens the configured card history store. A store that
// cannot be opened is logged and scoring continues with neutral defaults.
func initializeHistory(ctx context.Context, c cfg.Settings) history.Store {
	store, err := history.Open(ctx, c.History())
	if err != nil {
		log.Warn().Err(err).Str("backend", c.HistoryBackend).Msg("history store initialization failed, continuing without card history")
		return nil
	}
	if store != nil {
		log.Info().Str("backend", c.HistoryBackend).Msg("card history enabled")
	}
	return store
}

// waitForShutdown blocks until SIGINT/SIGTERM or ctx is done. SIGHUP
// reloads the models in place.
func waitForShutdown(ctx context.Context, engine *inference.Engine) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				log.Info().Msg("reload signal received")
				// failure is logged by the engine and keeps the active models
				_ = engine.Reload()
				continue
			}
			log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
			return
		case <-ctx.Done():
			log.Info().Msg("context canceled")
			return
		}
	}
}
