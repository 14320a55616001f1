package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MaksM89/equarium/internal/observability"
	"github.com/MaksM89/equarium/internal/service"
	"go.uber.org/zap"
)

// Settler settles a single transaction; implemented by service.TransferService.
type Settler interface {
	Settle(ctx context.Context, transactionID int64) error
}

// SettlementWorker settles transactions in the background. Newly created
// transactions are handed over through Schedule; a periodic sweep re-enqueues
// non-terminal transactions older than the stale window, so a lost enqueue
// or a crash between creation and settlement is always recovered from.
// Settlement is a no-op on terminal rows, so double delivery is harmless.
type SettlementWorker struct {
	settler      Settler
	store        service.QueryStore
	queue        chan int64
	pollInterval time.Duration
	batchSize    int32
	staleAfter   time.Duration
	stopCh       chan struct{}
	stopOnce     sync.Once
}

// NewSettlementWorker creates a worker with default intervals.
func NewSettlementWorker(settler Settler, store service.QueryStore) *SettlementWorker {
	return &SettlementWorker{
		settler:      settler,
		store:        store,
		queue:        make(chan int64, 256),
		pollInterval: 5 * time.Second,
		batchSize:    50,
		staleAfter:   10 * time.Second,
		stopCh:       make(chan struct{}),
	}
}

// WithPollInterval sets the sweep interval.
func (w *SettlementWorker) WithPollInterval(interval time.Duration) *SettlementWorker {
	if interval > 0 {
		w.pollInterval = interval
	}
	return w
}

// WithBatchSize sets how many stale transactions one sweep picks up.
func (w *SettlementWorker) WithBatchSize(size int32) *SettlementWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// WithQueueSize resizes the in-process queue. Must be called before Start.
func (w *SettlementWorker) WithQueueSize(size int) *SettlementWorker {
	if size > 0 {
		w.queue = make(chan int64, size)
	}
	return w
}

// Schedule submits a transaction for settlement without blocking the caller.
// If the queue is full the id is dropped; the sweep picks it up later.
func (w *SettlementWorker) Schedule(transactionID int64) {
	select {
	case w.queue <- transactionID:
	default:
		zap.L().Warn("settlement queue full, deferring to sweep", zap.Int64("transaction_id", transactionID))
	}
}

// Start runs the worker loop until Stop is called or the context is canceled.
func (w *SettlementWorker) Start(ctx context.Context) {
	zap.L().Info("settlement worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("settlement worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("settlement worker stop signal received")
			return
		case id := <-w.queue:
			w.settle(ctx, id)
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// Stop signals the worker to stop.
func (w *SettlementWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *SettlementWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce drains the queue and runs one sweep synchronously. Useful for
// tests and manual triggering.
func (w *SettlementWorker) ProcessOnce(ctx context.Context) {
	for {
		select {
		case id := <-w.queue:
			w.settle(ctx, id)
		default:
			w.sweep(ctx)
			return
		}
	}
}

func (w *SettlementWorker) settle(ctx context.Context, transactionID int64) {
	if err := w.settler.Settle(ctx, transactionID); err != nil {
		observability.IncrementWorkerRun("settlement", "failed")
		zap.L().Error("settlement failed", zap.Int64("transaction_id", transactionID), zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("settlement", "success")
}

func (w *SettlementWorker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	ids, err := w.store.Queries().ListUnsettledTransactionIDs(ctx, cutoff, w.batchSize)
	if err != nil {
		observability.IncrementWorkerRun("settlement_sweep", "failed")
		zap.L().Error("settlement sweep failed", zap.Error(err))
		return
	}
	for _, id := range ids {
		w.settle(ctx, id)
	}
	observability.IncrementWorkerRun("settlement_sweep", "success")
}

// String returns a string representation of the worker.
func (w *SettlementWorker) String() string {
	return fmt.Sprintf("SettlementWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
