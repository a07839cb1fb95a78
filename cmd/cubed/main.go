// cubed is the cube-store server daemon.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TobiasJacob/cube-store/config"
	"github.com/TobiasJacob/cube-store/internal/api"
	"github.com/TobiasJacob/cube-store/internal/catalog"
	"github.com/TobiasJacob/cube-store/internal/compute"
	"github.com/TobiasJacob/cube-store/internal/logging"
	"github.com/TobiasJacob/cube-store/internal/metastore"
	"github.com/TobiasJacob/cube-store/internal/server"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CLI flags
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address (overrides config)")
	httpListen := flag.String("http-listen", "", "HTTP gateway address (overrides config)")
	apiKey := flag.String("api-key", "", "API key (or CUBED_API_KEY env)")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	dbPath := flag.String("db", "", "metastore database path (overrides config)")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg = config.Default()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *httpListen != "" {
		cfg.Server.HTTPListen = *httpListen
	}
	if *apiKey != "" {
		cfg.Session.APIKey = *apiKey
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *dbPath != "" {
		cfg.Metastore.Path = *dbPath
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config: %v", err)
	}

	logging.Init(parseLevel(cfg.Log.Level), cfg.Log.JSON)
	logger := logging.Component("main")
	logger.Info("cubed starting", "version", Version)

	// =========================================================================
	// Initialize Catalog (chunk store + data directory)
	// =========================================================================

	cat, err := catalog.Open(cfg.Storage.DataDir, catalog.Options{
		ChunkTargetBytes: cfg.Storage.ChunkTargetBytes,
		ChunkCacheBytes:  cfg.Storage.ChunkCacheBytes,
	})
	if err != nil {
		log.Fatalf("Open catalog: %v", err)
	}
	logger.Info("catalog opened", "data_dir", cfg.Storage.DataDir, "cubes", len(cat.List()))

	// =========================================================================
	// Initialize Metastore (DuckDB - operation log, stats)
	// =========================================================================

	var meta *metastore.Store
	if cfg.Metastore.Path != "" {
		meta, err = metastore.Open(metastore.DefaultConfig(cfg.Metastore.Path))
		if err != nil {
			log.Fatalf("Open metastore: %v", err)
		}
		logger.Info("metastore opened", "path", cfg.Metastore.Path)
	} else {
		logger.Info("metastore disabled")
	}

	// =========================================================================
	// Create Server
	// =========================================================================

	exec := compute.NewExecutor(cat, cfg.Compute.Workers, cfg.Compute.QuantileAccuracy)

	srv := server.New(&server.Config{
		Catalog:            cat,
		Executor:           exec,
		Metastore:          meta,
		Listen:             cfg.Server.Listen,
		APIKey:             cfg.Session.APIKey,
		MaxHeaderSize:      cfg.Server.MaxHeaderSize,
		MaxPayloadSize:     cfg.Server.MaxPayloadSize,
		AuthTimeout:        time.Duration(cfg.Session.AuthTimeoutSec) * time.Second,
		RateLimitPerMinute: cfg.Session.RateLimitPerMinute,
		SandboxBudget:      cfg.SandboxBudget(),
		DrainTimeout:       time.Duration(cfg.Server.DrainTimeoutSec) * time.Second,
	})

	// =========================================================================
	// HTTP Gateway (read-only)
	// =========================================================================

	var gw *api.Gateway
	if cfg.Server.HTTPListen != "" {
		gw = api.New(cat, meta, cfg.Session.APIKey)
		go func() {
			logger.Info("http gateway listening", "addr", cfg.Server.HTTPListen)
			if err := gw.Start(cfg.Server.HTTPListen); err != nil {
				logger.Error("http gateway", "error", err)
			}
		}()
	}

	// =========================================================================
	// Signal Handling and Graceful Shutdown
	// =========================================================================

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info("shutting down")

		// Stop accepting new work first
		srv.Shutdown()

		if gw != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := gw.Shutdown(ctx); err != nil {
				logger.Warn("http gateway shutdown", "error", err)
			}
			cancel()
		}

		// Flush dirty chunks, then release the metastore
		if err := cat.Close(); err != nil {
			logger.Warn("catalog close", "error", err)
		}
		if meta != nil {
			if err := meta.Close(); err != nil {
				logger.Warn("metastore close", "error", err)
			}
		}
	}()

	logger.Info("listening", "addr", cfg.Server.Listen)
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
