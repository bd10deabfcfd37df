package ollama

import "time"

// Config holds the Ollama engine configuration.
type Config struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
	// Timeout bounds a whole generation call, including the streamed body.
	Timeout time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns defaults for a local Ollama daemon.
func DefaultConfig() Config {
	return Config{
		URL:     "http://localhost:11434",
		Model:   "llama3:8b-instruct-q4_K_M",
		Timeout: 5 * time.Minute,
	}
}
