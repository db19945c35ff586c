package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"glideview/internal/cache"
	"glideview/internal/config"
	httphandlers "glideview/internal/http"
	"glideview/internal/image_codec"
	"glideview/internal/image_list"
	"glideview/internal/image_loader"
	"glideview/internal/logger"
	"glideview/internal/preloader"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	// Map vips log levels to zap levels; info/debug noise is dropped.
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting Glideview server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
	)

	scanner := image_list.New(cfg.DataDir, log)
	if err := scanner.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	bitmapCache, err := cache.NewCache(cfg.CacheType, cfg.CacheMaxEntries, cfg.CacheMaxCostBytes(), log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}

	codec := image_codec.New(cfg.JpegQuality, log)
	loader := image_loader.New(bitmapCache, image_loader.FileFetcher{}, codec, codec, cfg.MaxDimension, log)

	pre := preloader.New(preloader.Config{
		AheadCount:    cfg.PreloadAhead,
		BehindCount:   cfg.PreloadBehind,
		RapidVelocity: cfg.RapidVelocity,
		NarrowAfter:   cfg.RapidNarrowAfter,
		ClearAfter:    cfg.RapidClearAfter,
		SampleRing:    cfg.PositionSamples,
	}, loader, bitmapCache, log)
	pre.SetLocations(scanner.Locations())

	handlers := httphandlers.New(cfg, log, scanner, loader, pre)

	mux := http.NewServeMux()

	mux.HandleFunc("/api/images", handlers.HandleImages)
	mux.HandleFunc("/api/images/", handlers.HandleImageRoutes)
	mux.HandleFunc("/api/position", handlers.HandlePosition)
	mux.HandleFunc("/api/queue/", handlers.HandleQueue)
	mux.HandleFunc("/healthz", handlers.HandleHealthz)

	handler := handlers.CORSMiddleware(handlers.RequestLoggingMiddleware(mux))

	// Warm the window around the first image so the initial view is instant.
	if scanner.Len() > 0 {
		pre.OnPositionChanged(context.Background(), 0)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	pre.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}
