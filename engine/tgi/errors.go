package tgi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/Agent-Artificial/llama3/engine"
)

// statusError is a non-2xx response from the server.
type statusError struct {
	StatusCode int
	Message    string
	Type       string
}

func (e *statusError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("tgi %d (%s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("tgi %d: %s", e.StatusCode, e.Message)
}

// mapError translates transport and server failures into typed engine errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, fasthttp.ErrTimeout) {
		return engine.NewError(engine.ErrCodeTimeout, "request timed out or cancelled", err)
	}

	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 404 && strings.Contains(strings.ToLower(se.Message), "model"):
			return engine.NewError(engine.ErrCodeModelNotFound, se.Message, err)
		case se.StatusCode == 429 || se.StatusCode == 503:
			return engine.NewError(engine.ErrCodeUnavailable, se.Message, err)
		case se.StatusCode >= 500 || se.StatusCode == 424:
			return engine.NewError(engine.ErrCodeServerError, se.Message, err)
		case se.StatusCode >= 400:
			return engine.NewError(engine.ErrCodeInvalidRequest, se.Message, err)
		}
	}

	if errors.Is(err, fasthttp.ErrNoFreeConns) || errors.Is(err, fasthttp.ErrConnectionClosed) {
		return engine.NewError(engine.ErrCodeUnavailable, "tgi server busy or closed the connection", err)
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial") {
		return engine.NewError(engine.ErrCodeUnavailable, "tgi server unreachable", err)
	}

	return engine.NewError(engine.ErrCodeServerError, "tgi error", err)
}
