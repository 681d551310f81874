package worker

import (
	"context"
	"log"
	"sync"
	"time"
)

// ReplyWorker runs the reply sweep on a fixed tick. Sweeps never overlap:
// IMAP fetches can outlive the interval, in which case the next fire skips.
type ReplyWorker struct {
	Checker  *ReplyChecker
	Logger   *log.Logger
	Interval time.Duration

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func NewReplyWorker(checker *ReplyChecker, logger *log.Logger, interval time.Duration) *ReplyWorker {
	return &ReplyWorker{
		Checker:  checker,
		Logger:   logger,
		Interval: interval,
	}
}

func (w *ReplyWorker) Start(ctx context.Context) {
	w.Logger.Println("Reply worker started")

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Println("Reply worker shutting down...")
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// Wait blocks until an in-flight sweep completes or the context expires
func (w *ReplyWorker) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.Logger.Println("Reply worker: grace period expired with sweep in flight")
	}
}

func (w *ReplyWorker) tick() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.wg.Done()
		}()
		w.Checker.SweepAccounts()
	}()
}
