// Package main provides the entry point for the session-recording playback
// server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/glyptodon/glyptodon-enterprise-player/internal/config"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/indexcache"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/metrics"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/recording"
	"github.com/glyptodon/glyptodon-enterprise-player/internal/session"
)

func main() {
	printBanner()

	fmt.Println("Loading configuration...")
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)

	logger.Info().
		Str("listen_addr", cfg.ListenAddr).
		Str("recordings_dir", cfg.RecordingsDir).
		Bool("index_cache_enabled", cfg.IndexCacheEnabled()).
		Bool("metrics_enabled", cfg.MetricsEnabled()).
		Msg("Configuration loaded")

	var cache *indexcache.Store
	if cfg.IndexCacheEnabled() {
		logger.Info().Str("path", cfg.IndexCachePath).Msg("Opening frame index cache...")
		cache, err = indexcache.Open(cfg.IndexCachePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to open index cache")
		}
		defer cache.Close()
	}

	var metricsRegistry *metrics.Registry
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsEnabled() {
		metricsRegistry = metrics.New(logger)
		go func() {
			if err := metricsRegistry.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error().Err(err).Msg("metrics listener stopped with error")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("Metrics listener starting")
	}

	logger.Info().Msg("Creating session server...")
	serverCfg := session.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		RecordingsDir:  cfg.RecordingsDir,
		IndexConfig: recording.Config{
			BlockSize:            cfg.BlockSize,
			KeyframeCharInterval: cfg.KeyframeCharInterval,
			KeyframeTimeInterval: cfg.KeyframeTimeInterval,
		},
	}
	httpServer := session.NewServer(serverCfg, cache, metricsRegistry, logger)

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	printReadyMessage(cfg)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info().Msg("Shutting down session server...")
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error stopping session server")
	}
	logger.Info().Msg("Session server stopped")

	cancel()

	logger.Info().Msg("Shutdown complete")
}

func setupLogging(cfg *config.Config) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	var level zerolog.Level
	switch cfg.LogLevel {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "playback-server").
		Logger()

	log.Logger = logger
	return logger
}

func printBanner() {
	banner := `
╔══════════════════════════════════════════════════════════════╗
║           Glyptodon Enterprise Player                        ║
║           Session Recording Playback Server                  ║
╚══════════════════════════════════════════════════════════════╝
`
	fmt.Print(banner)
}

func printReadyMessage(cfg *config.Config) {
	addr := cfg.ListenAddr
	if addr[0] == ':' {
		addr = "0.0.0.0" + addr
	}

	var metricsInfo string
	if cfg.MetricsEnabled() {
		metricsInfo = fmt.Sprintf("http://%s/metrics", cfg.MetricsAddr)
	} else {
		metricsInfo = "disabled"
	}

	readyMsg := fmt.Sprintf(`

═══════════════════════════════════════════════════════════════
  Server ready!

  Session API:        http://%s
  Health check:       http://%s/healthz
  Metrics:             %s

  Recordings dir:      %s

  Press Ctrl+C to stop
═══════════════════════════════════════════════════════════════

`, addr, addr, metricsInfo, cfg.RecordingsDir)

	fmt.Print(readyMsg)
}
