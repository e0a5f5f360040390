package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/whiskeygoggles/goggles/internal/assets"
	"github.com/whiskeygoggles/goggles/internal/catalog"
	"github.com/whiskeygoggles/goggles/internal/config"
	"github.com/whiskeygoggles/goggles/internal/handlers"
	"github.com/whiskeygoggles/goggles/internal/logging"
	"github.com/whiskeygoggles/goggles/internal/model"
	"github.com/whiskeygoggles/goggles/internal/pipeline"
	"github.com/whiskeygoggles/goggles/internal/ranking"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := pflag.StringP("config", "c", "", "Configuration file path")
	bind := pflag.String("bind", "", "Listen address (overrides server.bind)")
	pflag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *bind); err != nil {
		fmt.Fprintf(os.Stderr, "goggles-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, bind string) error {
	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if bind != "" {
		cfg.Server.Bind = bind
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info().Str("config", resolved).Bool("config_exists", exists).Msg("configuration loaded")

	cache, store, err := assets.OpenServing(cfg, logger)
	if err != nil {
		return fmt.Errorf("open asset directory: %w", err)
	}
	defer cache.Close()

	runtime := model.NewORTRuntime(model.ORTOptions{
		LibraryPath:    cfg.Runtime.LibraryPath,
		IO:             model.IONames{Input: cfg.Runtime.InputName, Output: cfg.Runtime.OutputName},
		IntraOpThreads: cfg.Runtime.IntraOpThreads,
	})
	defer runtime.Close()
	engine := model.NewEngine(runtime, logging.WithComponent(logger, "engine"))
	defer engine.Close()

	orchestrator, err := pipeline.New(pipeline.Options{
		Assets:   cache,
		Engine:   engine,
		Ranking:  ranking.Options{TopK: cfg.Ranking.TopK, HighConfidence: cfg.Ranking.HighConfidence},
		Estimate: cfg.EstimatedRunTime(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	source, err := catalog.Open(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	if closer, ok := source.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	handler := handlers.NewHandler(handlers.Options{
		Orchestrator:   orchestrator,
		Catalog:        source,
		AssetDir:       store,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	})

	router := newRouter(logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("bind", cfg.Server.Bind).
			Str("asset_dir", store.Root()).
			Str("catalog", cfg.Catalog.Source).
			Msg("server starting")
		logger.Info().Msg("endpoints: GET /health, GET /onnx/{model.onnx,labels.json,mean_std.json}, POST /predict/image")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newRouter(logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "HEAD", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	router.Use(cors.New(corsConfig))
	return router
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	httpLogger := logging.WithComponent(logger, "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		httpLogger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
