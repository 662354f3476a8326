package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeExpirer struct {
	mu      sync.Mutex
	pending int
	cutoffs []time.Time
	err     error
}

func (f *fakeExpirer) ExpireStale(_ context.Context, before time.Time, limit int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	if f.err != nil {
		return 0, f.err
	}
	n := f.pending
	if n > limit {
		n = limit
	}
	f.pending -= n
	return n, nil
}

func TestRunOnceDrainsBatches(t *testing.T) {
	fx := &fakeExpirer{pending: 250}
	w := NewSweeper(fx, zap.NewNop(), time.Hour, time.Minute)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	n, err := w.RunOnce(context.Background())
	if err != nil || n != 250 {
		t.Fatalf("got %d %v", n, err)
	}
	if len(fx.cutoffs) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(fx.cutoffs))
	}
	if want := now.Add(-time.Hour); !fx.cutoffs[0].Equal(want) {
		t.Fatalf("cutoff %s want %s", fx.cutoffs[0], want)
	}
}

func TestRunOnceError(t *testing.T) {
	boom := errors.New("db down")
	w := NewSweeper(&fakeExpirer{err: boom}, zap.NewNop(), time.Hour, time.Minute)
	if _, err := w.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	fx := &fakeExpirer{pending: 1}
	w := NewSweeper(fx, zap.NewNop(), time.Hour, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Start(ctx); close(done) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		fx.mu.Lock()
		ran := len(fx.cutoffs) > 0
		fx.mu.Unlock()
		if ran {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sweeper never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop")
	}
}

func TestDisabledReturnsImmediately(t *testing.T) {
	w := NewSweeper(&fakeExpirer{}, zap.NewNop(), 0, time.Millisecond)
	done := make(chan struct{})
	go func() { w.Start(context.Background()); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("disabled sweeper should return")
	}
}
