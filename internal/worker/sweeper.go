// Package worker 后台任务
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer 由 TransactionService 实现
type Expirer interface {
	ExpireStale(ctx context.Context, before time.Time, limit int) (int, error)
}

// Sweeper 定期取消超时未入场的预约，释放车位
type Sweeper struct {
	tx       Expirer
	l        *zap.Logger
	ttl      time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewSweeper(tx Expirer, l *zap.Logger, ttl, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{tx: tx, l: l.Named("sweeper"), ttl: ttl, interval: interval, batch: 100, now: time.Now}
}

// Start 阻塞到 ctx 取消；ttl <= 0 时直接返回
func (w *Sweeper) Start(ctx context.Context) {
	if w.ttl <= 0 {
		w.l.Info("reservation sweeper disabled")
		return
	}
	t := time.NewTicker(w.interval)
	defer t.Stop()

	w.l.Info("reservation sweeper started", zap.Duration("ttl", w.ttl), zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.l.Info("reservation sweeper stopped")
			return
		case <-t.C:
			if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.l.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce 一轮清理，批量满了就继续下一批
func (w *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.ttl)
	total := 0
	for {
		n, err := w.tx.ExpireStale(ctx, cutoff, w.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batch || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		w.l.Info("expired reservations", zap.Int("count", total))
	}
	return total, nil
}
