package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Agent-Artificial/llama3/engine"
	"github.com/Agent-Artificial/llama3/engine/echo"
	"github.com/Agent-Artificial/llama3/engine/enginetest"
)

func TestErrorHelpers(t *testing.T) {
	base := errors.New("connection refused")
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  string
	}{
		{"invalid request", engine.NewError(engine.ErrCodeInvalidRequest, "bad", nil), engine.IsInvalidRequest, engine.ErrCodeInvalidRequest},
		{"model not found", engine.NewError(engine.ErrCodeModelNotFound, "no model", nil), engine.IsModelNotFound, engine.ErrCodeModelNotFound},
		{"server error", engine.NewError(engine.ErrCodeServerError, "boom", nil), engine.IsServerError, engine.ErrCodeServerError},
		{"unavailable", engine.NewError(engine.ErrCodeUnavailable, "down", base), engine.IsUnavailable, engine.ErrCodeUnavailable},
		{"timeout wrapped", fmt.Errorf("generate: %w", engine.NewError(engine.ErrCodeTimeout, "slow", nil)), engine.IsTimeout, engine.ErrCodeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("helper returned false for %v", tt.err)
			}
			if got := engine.Code(tt.err); got != tt.code {
				t.Errorf("Code() = %q, want %q", got, tt.code)
			}
		})
	}

	if engine.Code(base) != "" {
		t.Error("Code() of a plain error should be empty")
	}
}

func TestErrorMessage(t *testing.T) {
	err := engine.NewError(engine.ErrCodeUnavailable, "engine unreachable", errors.New("dial tcp: refused"))
	if got, want := err.Error(), "engine unreachable: dial tcp: refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, err.Err) {
		t.Error("Unwrap should expose the underlying error")
	}
}

func TestLimitZeroReturnsSameEngine(t *testing.T) {
	f := &enginetest.Fake{}
	if got := engine.Limit(f, 0); got != engine.Engine(f) {
		t.Error("Limit(e, 0) should return e unchanged")
	}
}

func TestLimitBoundsConcurrency(t *testing.T) {
	var inFlight, maxSeen int32
	f := &enginetest.Fake{
		GenerateFunc: func(ctx context.Context, req engine.Request) (*engine.Output, error) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return &engine.Output{Text: "ok"}, nil
		},
	}

	limited := engine.Limit(f, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := limited.Generate(context.Background(), engine.Request{}); err != nil {
				t.Errorf("Generate() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxSeen); got > 2 {
		t.Errorf("max concurrent calls = %d, want <= 2", got)
	}
	if got := len(f.Requests()); got != 10 {
		t.Errorf("engine received %d calls, want 10", got)
	}
}

func TestLimitHonoursContextWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	f := &enginetest.Fake{
		GenerateFunc: func(ctx context.Context, req engine.Request) (*engine.Output, error) {
			close(started)
			<-release
			return &engine.Output{}, nil
		},
	}
	limited := engine.Limit(f, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = limited.Generate(context.Background(), engine.Request{})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := limited.Generate(ctx, engine.Request{})
	if !engine.IsTimeout(err) {
		t.Errorf("Generate() error = %v, want timeout", err)
	}

	close(release)
	<-done
}

func TestAsHelpersLookThroughLimit(t *testing.T) {
	e := engine.Limit(echo.New("m", ""), 4)

	if _, ok := engine.AsStreamer(e); !ok {
		t.Error("AsStreamer should find the echo engine's streamer")
	}
	if _, ok := engine.AsTokenizer(e); !ok {
		t.Error("AsTokenizer should look through the limit wrapper")
	}
	if _, ok := engine.AsHealthReporter(e); !ok {
		t.Error("AsHealthReporter should look through the limit wrapper")
	}

	plain := engine.Limit(&enginetest.Fake{}, 4)
	if _, ok := engine.AsStreamer(plain); ok {
		t.Error("fake engine does not stream")
	}
	if _, ok := engine.AsTokenizer(plain); ok {
		t.Error("fake engine does not tokenize")
	}
	if err := engine.Close(plain); err != nil {
		t.Errorf("Close() on engine without Closer = %v", err)
	}
}
