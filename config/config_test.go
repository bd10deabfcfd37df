package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test from an empty directory so no stray llama3.yaml or
// .env is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 7099, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:7099", cfg.Server.Addr())
	assert.Equal(t, 4<<20, cfg.Server.MaxBodyBytes)
	assert.Zero(t, cfg.Server.RateLimitRPS)
	assert.Equal(t, 20, cfg.Server.RateLimitBurst)
	assert.Empty(t, cfg.Server.TrustedProxies)

	assert.Equal(t, "meta-llama/Meta-Llama-3-8B-Instruct", cfg.Model.ID)
	assert.Equal(t, "auto", cfg.Model.Template)
	assert.Equal(t, "fp_44709d6fcb", cfg.Model.Fingerprint)

	assert.Equal(t, EngineTGI, cfg.Engine.Kind)
	assert.Equal(t, "http://localhost:8080", cfg.Engine.URL)
	assert.Equal(t, cfg.Model.ID, cfg.Engine.Model)
	assert.Equal(t, 5*time.Minute, cfg.Engine.Timeout)
	assert.Zero(t, cfg.Engine.Concurrency)

	assert.True(t, cfg.Sampling.DoSample)
	assert.InDelta(t, 0.7, cfg.Sampling.Temperature, 1e-9)
	assert.InDelta(t, 0.9, cfg.Sampling.TopP, 1e-9)
	assert.Equal(t, 100, cfg.Sampling.MaxNewTokens)

	assert.Equal(t, "./logs", cfg.Log.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Pprof.Enabled)
	assert.Equal(t, 6060, cfg.Pprof.Port)
}

func TestLoadPrecedence(t *testing.T) {
	dir := isolate(t)

	yaml := []byte("server:\n  port: 8000\n  host: 127.0.0.1\nsampling:\n  temperature: 0.2\n  max_new_tokens: 64\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "llama3.yaml"), yaml, 0o644))

	t.Setenv("LLAMA3_SERVER_PORT", "9099")
	t.Setenv("LLAMA3_SAMPLING_DO_SAMPLE", "false")

	cfg, err := Load([]string{"--max-tokens", "512"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "file over default")
	assert.Equal(t, 9099, cfg.Server.Port, "env over file")
	assert.InDelta(t, 0.2, cfg.Sampling.Temperature, 1e-9, "file over default")
	assert.False(t, cfg.Sampling.DoSample, "env over default")
	assert.Equal(t, 512, cfg.Sampling.MaxNewTokens, "flag over file")

	cfg, err = Load([]string{"--port", "7100"})
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Server.Port, "flag over env")
}

func TestLoadTrustedProxies(t *testing.T) {
	isolate(t)

	t.Setenv("LLAMA3_SERVER_TRUSTED_PROXIES", "10.0.0.0/8,127.0.0.1")
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "127.0.0.1"}, cfg.Server.TrustedProxies)

	cfg, err = Load([]string{"--trusted-proxy", "192.168.1.1", "--trusted-proxy", "172.16.0.0/12"})
	require.NoError(t, err)
	assert.Equal(t, []string{"192.168.1.1", "172.16.0.0/12"}, cfg.Server.TrustedProxies, "flag over env")
}

func TestLoadExplicitConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	yaml := []byte("engine:\n  kind: echo\n  echo_reply: hi there\nmodel:\n  id: Qwen/Qwen2.5-7B-Instruct\n  template: chatml\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, EngineEcho, cfg.Engine.Kind)
	assert.Equal(t, "hi there", cfg.Engine.EchoReply)
	assert.Equal(t, "chatml", cfg.Model.Template)
}

func TestLoadMissingExplicitConfigFile(t *testing.T) {
	isolate(t)
	_, err := Load([]string{"--config", "does-not-exist.yaml"})
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LLAMA3_LOG_LEVEL=debug\nLLAMA3_ENGINE_KIND=ollama\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("LLAMA3_LOG_LEVEL")
		os.Unsetenv("LLAMA3_ENGINE_KIND")
	})

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, EngineOllama, cfg.Engine.Kind)
	assert.Empty(t, cfg.Engine.Model, "ollama keeps its own default model name")
}

func TestLoadHelp(t *testing.T) {
	isolate(t)
	_, err := Load([]string{"--help"})
	assert.True(t, errors.Is(err, pflag.ErrHelp))
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Host: "0.0.0.0", Port: 7099, MaxBodyBytes: 1024},
			Model:    ModelConfig{ID: "meta-llama/Meta-Llama-3-8B-Instruct", Template: "auto"},
			Engine:   EngineConfig{Kind: EngineTGI, URL: "http://localhost:8080"},
			Sampling: SamplingConfig{DoSample: true, Temperature: 0.7, TopP: 0.9, MaxNewTokens: 100},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"negative temperature", func(c *Config) { c.Sampling.Temperature = -1 }, "sampling.temperature"},
		{"zero top_p", func(c *Config) { c.Sampling.TopP = 0 }, "sampling.top_p"},
		{"top_p above one", func(c *Config) { c.Sampling.TopP = 1.5 }, "sampling.top_p"},
		{"zero max tokens", func(c *Config) { c.Sampling.MaxNewTokens = 0 }, "sampling.max_new_tokens"},
		{"unknown engine", func(c *Config) { c.Engine.Kind = "vllm" }, "engine.kind"},
		{"missing url", func(c *Config) { c.Engine.URL = "" }, "engine.url"},
		{"echo needs no url", func(c *Config) { c.Engine.Kind = EngineEcho; c.Engine.URL = "" }, ""},
		{"unknown template", func(c *Config) { c.Model.Template = "alpaca" }, "model.template"},
		{"rate limit without burst", func(c *Config) { c.Server.RateLimitRPS = 5 }, "rate_limit_burst"},
		{"pprof port", func(c *Config) { c.Pprof = PprofConfig{Enabled: true} }, "pprof.port"},
		{"trusted proxies", func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.1", "fd00::/8"} }, ""},
		{"bad trusted proxy", func(c *Config) { c.Server.TrustedProxies = []string{"proxy.local"} }, "server.trusted_proxies"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	c := &Config{Engine: EngineConfig{Kind: "nope"}}
	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.port", "model.id", "engine.kind", "sampling.top_p", "sampling.max_new_tokens"} {
		assert.Contains(t, err.Error(), want)
	}
}
