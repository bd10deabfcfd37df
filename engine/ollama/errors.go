package ollama

import (
	"context"
	"errors"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/Agent-Artificial/llama3/engine"
)

// mapError translates Ollama and network errors into typed engine errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	// Context errors.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return engine.NewError(engine.ErrCodeTimeout, "request timed out or cancelled", err)
	}

	// HTTP-level errors.
	var se api.StatusError
	if errors.As(err, &se) {
		msg := se.ErrorMessage
		if msg == "" {
			msg = se.Status
		}
		switch {
		case se.StatusCode == 404 && strings.Contains(strings.ToLower(msg), "model"):
			return engine.NewError(engine.ErrCodeModelNotFound, msg, err)
		case se.StatusCode == 429 || se.StatusCode == 503:
			return engine.NewError(engine.ErrCodeUnavailable, msg, err)
		case se.StatusCode >= 500:
			return engine.NewError(engine.ErrCodeServerError, msg, err)
		case se.StatusCode >= 400:
			return engine.NewError(engine.ErrCodeInvalidRequest, msg, err)
		}
	}

	// Connection refused, DNS errors, etc.
	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return engine.NewError(engine.ErrCodeUnavailable, "ollama server unreachable", err)
	}

	return engine.NewError(engine.ErrCodeServerError, "ollama error", err)
}
