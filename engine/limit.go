package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limit bounds the number of concurrent generation calls against e.
// Callers waiting for a slot give up when their context is done.
// n <= 0 returns e unchanged.
func Limit(e Engine, n int64) Engine {
	if n <= 0 {
		return e
	}
	l := &limited{next: e, sem: semaphore.NewWeighted(n)}
	if s, ok := e.(Streamer); ok {
		return &limitedStreamer{limited: l, streamer: s}
	}
	return l
}

type limited struct {
	next Engine
	sem  *semaphore.Weighted
}

func (l *limited) Generate(ctx context.Context, req Request) (*Output, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.next.Generate(ctx, req)
}

func (l *limited) Unwrap() Engine {
	return l.next
}

func (l *limited) acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return NewError(ErrCodeTimeout, "waiting for a free engine slot", err)
	}
	return nil
}

type limitedStreamer struct {
	*limited
	streamer Streamer
}

func (l *limitedStreamer) GenerateStream(ctx context.Context, req Request, fn func(delta string) error) (*Output, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.streamer.GenerateStream(ctx, req, fn)
}
