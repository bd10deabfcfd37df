package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Agent-Artificial/llama3/config"
	"github.com/Agent-Artificial/llama3/engine"
	"github.com/Agent-Artificial/llama3/engine/echo"
	"github.com/Agent-Artificial/llama3/engine/ollama"
	"github.com/Agent-Artificial/llama3/engine/tgi"
)

// newEngine builds the configured engine adapter, bounded by
// engine.concurrency when set.
func newEngine(cfg config.EngineConfig, logger *zap.Logger) (engine.Engine, error) {
	var eng engine.Engine

	switch cfg.Kind {
	case config.EngineTGI:
		c, err := tgi.New(tgi.Config{
			URL:      cfg.URL,
			Timeout:  cfg.Timeout,
			MaxConns: cfg.MaxConns,
		}, logger.Named("tgi"))
		if err != nil {
			return nil, err
		}
		eng = c
	case config.EngineOllama:
		oc := ollama.DefaultConfig()
		oc.URL = cfg.URL
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		e, err := ollama.New(oc, logger.Named("ollama"))
		if err != nil {
			return nil, err
		}
		eng = e
	case config.EngineEcho:
		eng = echo.New(cfg.Model, cfg.EchoReply)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", cfg.Kind)
	}

	return engine.Limit(eng, int64(cfg.Concurrency)), nil
}
