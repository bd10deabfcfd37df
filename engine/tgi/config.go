package tgi

import "time"

// Config holds the text-generation-inference client configuration.
type Config struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxConns caps open connections to the server. Zero uses the
	// fasthttp default.
	MaxConns int `mapstructure:"max_conns"`
}

// DefaultConfig returns defaults for a local TGI container.
func DefaultConfig() Config {
	return Config{
		URL:     "http://localhost:8080",
		Timeout: 5 * time.Minute,
	}
}
