package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Agent-Artificial/llama3/internal/prompt"
)

// Engine kinds.
const (
	EngineTGI    = "tgi"
	EngineOllama = "ollama"
	EngineEcho   = "echo"
)

// EnvPrefix prefixes every environment variable, e.g. LLAMA3_SERVER_PORT.
const EnvPrefix = "LLAMA3"

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Sampling SamplingConfig `mapstructure:"sampling"`
	Log      LogConfig      `mapstructure:"log"`
	Pprof    PprofConfig    `mapstructure:"pprof"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	MaxBodyBytes int    `mapstructure:"max_body_bytes"`

	// RateLimitRPS is the per-client request rate; 0 disables limiting.
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// TrustedProxies are proxy IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// Addr returns the listen address as host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ModelConfig describes the served model.
type ModelConfig struct {
	ID          string `mapstructure:"id"`
	Template    string `mapstructure:"template"`
	Fingerprint string `mapstructure:"fingerprint"`
}

// EngineConfig selects and configures the generation engine.
type EngineConfig struct {
	Kind        string        `mapstructure:"kind"`
	URL         string        `mapstructure:"url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxConns    int           `mapstructure:"max_conns"`
	EchoReply   string        `mapstructure:"echo_reply"`
}

// SamplingConfig holds default decoding parameters.
type SamplingConfig struct {
	DoSample     bool    `mapstructure:"do_sample"`
	Temperature  float64 `mapstructure:"temperature"`
	TopP         float64 `mapstructure:"top_p"`
	MaxNewTokens int     `mapstructure:"max_new_tokens"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	Level string `mapstructure:"level"`
}

// PprofConfig controls the profiling listener.
type PprofConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"host":          "server.host",
	"port":          "server.port",
	"rate-limit":    "server.rate_limit_rps",
	"trusted-proxy": "server.trusted_proxies",
	"model":         "model.id",
	"template":      "model.template",
	"engine":        "engine.kind",
	"engine-url":    "engine.url",
	"engine-model":  "engine.model",
	"timeout":       "engine.timeout",
	"concurrency":   "engine.concurrency",
	"max-tokens":    "sampling.max_new_tokens",
	"log-dir":       "log.dir",
	"log-level":     "log.level",
	"pprof":         "pprof.enabled",
}

// NewFlagSet defines the command-line flags understood by Load.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Path to a YAML config file (default: llama3.yaml in . or ./configs)")
	fs.String("env-file", ".env", "Dotenv file with environment defaults")

	fs.String("host", "", "Listen host")
	fs.IntP("port", "p", 0, "Listen port")
	fs.Float64("rate-limit", 0, "Per-client requests per second (0 disables)")
	fs.StringSlice("trusted-proxy", nil, "Proxy IP or CIDR whose X-Forwarded-For is trusted (repeatable)")
	fs.StringP("model", "m", "", "Model id reported to clients")
	fs.String("template", "", "Chat template: auto, "+strings.Join(prompt.Names(), ", "))
	fs.StringP("engine", "e", "", "Engine kind: tgi, ollama or echo")
	fs.String("engine-url", "", "Engine base URL")
	fs.String("engine-model", "", "Engine-side model name")
	fs.Duration("timeout", 0, "Per-generation timeout")
	fs.Int("concurrency", 0, "Maximum concurrent engine calls (0 = unlimited)")
	fs.Int("max-tokens", 0, "Default max_new_tokens")
	fs.String("log-dir", "", "Log directory")
	fs.String("log-level", "", "Log level: debug, info, warn, error")
	fs.Bool("pprof", false, "Enable the pprof listener")
	fs.SortFlags = false
	return fs
}

// Load builds the configuration from, lowest precedence first: built-in
// defaults, the dotenv file, the YAML config file, LLAMA3_* environment
// variables and command-line flags.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("llama3-server")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	envFile, _ := fs.GetString("env-file")
	if info, err := os.Stat(envFile); err == nil && info.Mode().IsRegular() {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	configPath, _ := fs.GetString("config")
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	// Ollama names models its own way; leave its default in charge.
	if cfg.Engine.Model == "" && cfg.Engine.Kind != EngineOllama {
		cfg.Engine.Model = cfg.Model.ID
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("llama3")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// Environment variable support: LLAMA3_SERVER_PORT=9099
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// No config file is fine -- use defaults
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7099)
	v.SetDefault("server.max_body_bytes", 4<<20)
	v.SetDefault("server.rate_limit_rps", 0)
	v.SetDefault("server.rate_limit_burst", 20)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("model.id", "meta-llama/Meta-Llama-3-8B-Instruct")
	v.SetDefault("model.template", prompt.AutoTemplate)
	v.SetDefault("model.fingerprint", "fp_44709d6fcb")

	v.SetDefault("engine.kind", EngineTGI)
	v.SetDefault("engine.url", "http://localhost:8080")
	v.SetDefault("engine.model", "")
	v.SetDefault("engine.timeout", "5m")
	v.SetDefault("engine.concurrency", 0)
	v.SetDefault("engine.max_conns", 0)
	v.SetDefault("engine.echo_reply", "")

	v.SetDefault("sampling.do_sample", true)
	v.SetDefault("sampling.temperature", 0.7)
	v.SetDefault("sampling.top_p", 0.9)
	v.SetDefault("sampling.max_new_tokens", 100)

	v.SetDefault("log.dir", "./logs")
	v.SetDefault("log.level", "info")

	v.SetDefault("pprof.enabled", false)
	v.SetDefault("pprof.port", 6060)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.MaxBodyBytes > 0, "server.max_body_bytes must be positive")
	check(c.Server.RateLimitRPS >= 0, "server.rate_limit_rps must not be negative")
	check(c.Server.RateLimitRPS == 0 || c.Server.RateLimitBurst > 0, "server.rate_limit_burst must be positive when rate limiting")
	for _, p := range c.Server.TrustedProxies {
		check(validProxy(p), "server.trusted_proxies: %q is not an IP or CIDR", p)
	}

	check(c.Model.ID != "", "model.id is required")
	if _, err := prompt.Resolve(c.Model.Template, c.Model.ID); err != nil {
		errs = append(errs, fmt.Errorf("model.template: %w", err))
	}

	switch c.Engine.Kind {
	case EngineTGI, EngineOllama:
		check(c.Engine.URL != "", "engine.url is required for %s", c.Engine.Kind)
	case EngineEcho:
	default:
		errs = append(errs, fmt.Errorf("engine.kind %q unknown (want %s, %s or %s)", c.Engine.Kind, EngineTGI, EngineOllama, EngineEcho))
	}
	check(c.Engine.Timeout >= 0, "engine.timeout must not be negative")
	check(c.Engine.Concurrency >= 0, "engine.concurrency must not be negative")

	check(c.Sampling.Temperature >= 0, "sampling.temperature must not be negative")
	check(c.Sampling.TopP > 0 && c.Sampling.TopP <= 1, "sampling.top_p must be in (0, 1]")
	check(c.Sampling.MaxNewTokens > 0, "sampling.max_new_tokens must be positive")

	if c.Pprof.Enabled {
		check(c.Pprof.Port > 0 && c.Pprof.Port < 65536, "pprof.port %d out of range", c.Pprof.Port)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}
