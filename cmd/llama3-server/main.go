// OpenAI-compatible chat completion server for Llama 3 style models
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

	_ "net/http/pprof" // Enable pprof endpoints

	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/config"
	"github.com/Agent-Artificial/llama3/engine"
	"github.com/Agent-Artificial/llama3/handlers"
	"github.com/Agent-Artificial/llama3/internal/prompt"
	"github.com/Agent-Artificial/llama3/logger"
	"github.com/Agent-Artificial/llama3/service"
)

// Version information (set at build time via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	appLogger, err := logger.Init(cfg.Log.Dir, cfg.Log.Level)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer appLogger.Sync()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, appLogger *zap.Logger) error {
	appLogger.Info("Starting OpenAI-compatible server",
		zap.String("version", Version),
		zap.String("commit", GitCommit),
		zap.String("build_time", BuildTime),
		zap.String("model", cfg.Model.ID),
		zap.String("engine", cfg.Engine.Kind),
		zap.String("engine_url", cfg.Engine.URL),
	)

	eng, err := newEngine(cfg.Engine, appLogger)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer func() {
		if err := engine.Close(eng); err != nil {
			appLogger.Warn("Failed to close engine", zap.Error(err))
		}
	}()

	if hr, ok := engine.AsHealthReporter(eng); ok {
		hbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := hr.Heartbeat(hbCtx); err != nil {
			appLogger.Warn("Engine not reachable yet; /health will report it", zap.Error(err))
		}
		cancel()
	}

	tmpl, err := prompt.Resolve(cfg.Model.Template, cfg.Model.ID)
	if err != nil {
		return err
	}

	svc, err := service.NewGenerationService(eng, service.Config{
		Template: tmpl,
		Defaults: engine.SamplingParams{
			DoSample:     cfg.Sampling.DoSample,
			Temperature:  cfg.Sampling.Temperature,
			TopP:         cfg.Sampling.TopP,
			MaxNewTokens: cfg.Sampling.MaxNewTokens,
		},
		ModelID:     cfg.Model.ID,
		EngineModel: cfg.Engine.Model,
	}, appLogger.Named("generation"))
	if err != nil {
		return err
	}
	appLogger.Info("Generation service ready", zap.String("chat_template", tmpl.Name()))

	if cfg.Pprof.Enabled {
		startPprof(cfg.Pprof.Port, appLogger)
	}

	server := &fasthttp.Server{
		Handler: handlers.NewHandler(handlers.Options{
			Logger:         appLogger,
			Service:        svc,
			Fingerprint:    cfg.Model.Fingerprint,
			Timeout:        cfg.Engine.Timeout,
			RateLimitRPS:   cfg.Server.RateLimitRPS,
			RateLimitBurst: cfg.Server.RateLimitBurst,
			TrustedProxies: cfg.Server.TrustedProxies,
		}),
		ErrorHandler:       handlers.NewErrorHandler(appLogger),
		Name:               "llama3-server",
		MaxRequestBodySize: cfg.Server.MaxBodyBytes,
	}

	serverAddr := cfg.Server.Addr()
	baseURL := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)

	// Print available HTTP endpoints
	appLogger.Info("Available HTTP endpoints:")
	appLogger.Info(fmt.Sprintf("  GET  %s/health", baseURL))
	appLogger.Info(fmt.Sprintf("  GET  %s/v1/models", baseURL))
	appLogger.Info(fmt.Sprintf("  GET  %s/get_model_info", baseURL))
	appLogger.Info(fmt.Sprintf("  GET  %s/metrics", baseURL))
	for _, p := range handlers.ChatPaths {
		appLogger.Info(fmt.Sprintf("  POST %s%s", baseURL, p))
	}

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info(fmt.Sprintf("Application startup complete. Listening on %s", serverAddr))
		serverErr <- server.ListenAndServe(serverAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		appLogger.Info("Shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	appLogger.Info("Server stopped")
	return nil
}

func startPprof(port int, appLogger *zap.Logger) {
	pprofAddr := fmt.Sprintf(":%d", port)
	go func() {
		appLogger.Info("Starting pprof server", zap.String("address", pprofAddr))
		if err := http.ListenAndServe(pprofAddr, nil); err != nil {
			appLogger.Error("pprof server failed", zap.Error(err))
		}
	}()
	appLogger.Info("pprof enabled", zap.Int("port", port), zap.String("endpoint", fmt.Sprintf("http://localhost:%d/debug/pprof/", port)))
}
