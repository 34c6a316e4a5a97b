package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Pool runs a fixed number of goroutines, each looping over
// Worker.ProcessOne.
type Pool struct {
	worker      *Worker
	concurrency int
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool creates a pool of concurrency workers. Values below 1 mean 1.
func NewPool(w *Worker, concurrency int, logger *slog.Logger) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{worker: w, concurrency: concurrency, logger: logger}
}

// Start launches the worker goroutines and returns immediately. Workers stop
// when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	waitCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))
	for range p.concurrency {
		p.wg.Add(1)
		go p.loop(waitCtx, ctx)
	}
}

func (p *Pool) loop(ctx, jobCtx context.Context) {
	defer p.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := p.worker.process(ctx, jobCtx)
		if !processed {
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				p.logger.Error("dequeue failed", slog.Any("error", err))
				// Back off briefly so a broken store does not spin.
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		// Handler errors are already logged by the worker.
	}
}

// Stop stops dequeuing and waits for in-flight jobs until ctx expires.
// Running handlers are not cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out")
		return ctx.Err()
	}
}
