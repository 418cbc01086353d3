package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CleanupWorker periodically deletes expired session rows. Correctness does
// not depend on it running: validation rejects expired sessions on its own,
// the sweep only reclaims storage.
type CleanupWorker struct {
	tokens   *TokenService
	interval time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewCleanupWorker(tokens *TokenService, interval time.Duration, logger *zap.Logger) *CleanupWorker {
	return &CleanupWorker{
		tokens:   tokens,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled. One
// sweep runs immediately so a long interval does not delay the first pass.
func (w *CleanupWorker) Start(ctx context.Context) {
	go func() {
		defer close(w.done)

		w.sweep(ctx)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.sweep(ctx)
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.logger.Info("Session cleanup worker started",
		zap.Duration("interval", w.interval))
}

// Stop signals the loop to exit and waits for the in-flight sweep.
func (w *CleanupWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := w.tokens.CleanupExpired(sweepCtx)
	if err != nil {
		w.logger.Error("Session cleanup sweep failed",
			zap.Error(err))
		return
	}
	if deleted > 0 {
		w.logger.Info("Expired sessions deleted",
			zap.Int64("count", deleted))
	}
}
