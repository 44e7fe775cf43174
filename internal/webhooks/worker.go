package webhooks

import (
	"context"
	"log"
	"time"

	"hookgate/internal/config"
	"hookgate/internal/store"
)

// Worker drains due deliveries on a ticker. Retry scheduling itself lives in
// the store (next_attempt_at); the worker only executes what is due.
type Worker struct {
	Dispatcher *Dispatcher
	Interval   time.Duration
	BatchSize  int
	Stop       chan struct{}
}

func NewWorker(s store.Store, cfg config.WorkerConfig) *Worker {
	d := NewDispatcher(s)
	if cfg.Concurrency > 0 {
		d.Concurrency = cfg.Concurrency
	}
	interval := time.Duration(cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Worker{Dispatcher: d, Interval: interval, BatchSize: batch, Stop: make(chan struct{})}
}

func (w *Worker) Start() {
	go func() {
		ticker := time.NewTicker(w.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.Stop:
				return
			case <-ticker.C:
				w.processOnce()
			}
		}
	}()
}

func (w *Worker) processOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	stats, err := w.Dispatcher.ProcessPendingDeliveries(ctx, w.BatchSize)
	if err != nil {
		log.Printf("webhook worker: %v", err)
		return
	}
	if stats.Processed > 0 {
		log.Printf("webhook worker: processed=%d succeeded=%d failed=%d", stats.Processed, stats.Succeeded, stats.Failed)
	}
}
