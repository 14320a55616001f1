package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MaksM89/equarium/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSettler struct {
	mu      sync.Mutex
	settled []int64
	err     error
}

func (s *stubSettler) Settle(ctx context.Context, transactionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled = append(s.settled, transactionID)
	return s.err
}

func (s *stubSettler) ids() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.settled...)
}

// stubQuerier only answers the unsettled-id listing; everything else panics
// through the embedded nil interface.
type stubQuerier struct {
	repository.Querier
	unsettled []int64
	err       error
}

func (s *stubQuerier) ListUnsettledTransactionIDs(ctx context.Context, cutoff time.Time, limit int32) ([]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	if int32(len(s.unsettled)) > limit {
		return s.unsettled[:limit], nil
	}
	return s.unsettled, nil
}

type stubStore struct {
	q repository.Querier
}

func (s *stubStore) Queries() repository.Querier { return s.q }

func (s *stubStore) RunInTx(ctx context.Context, fn func(q repository.Querier) error) error {
	return fn(s.q)
}

func TestSettlementWorkerProcessOnce(t *testing.T) {
	settler := &stubSettler{}
	store := &stubStore{q: &stubQuerier{}}
	w := NewSettlementWorker(settler, store)

	w.Schedule(7)
	w.Schedule(8)
	w.ProcessOnce(context.Background())

	assert.Equal(t, []int64{7, 8}, settler.ids())
}

func TestSettlementWorkerSweepRecoversLostIDs(t *testing.T) {
	settler := &stubSettler{}
	store := &stubStore{q: &stubQuerier{unsettled: []int64{1, 2, 3}}}
	w := NewSettlementWorker(settler, store).WithBatchSize(2)

	// Nothing was scheduled; the sweep alone must find work.
	w.ProcessOnce(context.Background())

	assert.Equal(t, []int64{1, 2}, settler.ids())
}

func TestSettlementWorkerQueueFullDropsToSweep(t *testing.T) {
	settler := &stubSettler{}
	store := &stubStore{q: &stubQuerier{}}
	w := NewSettlementWorker(settler, store).WithQueueSize(1)

	w.Schedule(1)
	w.Schedule(2) // dropped, queue is full
	w.ProcessOnce(context.Background())

	assert.Equal(t, []int64{1}, settler.ids())
}

func TestSettlementWorkerKeepsGoingOnErrors(t *testing.T) {
	settler := &stubSettler{err: errors.New("boom")}
	store := &stubStore{q: &stubQuerier{unsettled: []int64{5}}}
	w := NewSettlementWorker(settler, store)

	w.Schedule(4)
	w.ProcessOnce(context.Background())

	// Both the queued id and the swept id were attempted despite failures.
	assert.Equal(t, []int64{4, 5}, settler.ids())
}

func TestSettlementWorkerStartAndStop(t *testing.T) {
	settler := &stubSettler{}
	store := &stubStore{q: &stubQuerier{}}
	w := NewSettlementWorker(settler, store).WithPollInterval(time.Hour)

	stop := w.Run(context.Background())
	w.Schedule(11)

	require.Eventually(t, func() bool {
		return len(settler.ids()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	stop()
	stop() // idempotent
}

func TestSettlementWorkerString(t *testing.T) {
	w := NewSettlementWorker(&stubSettler{}, &stubStore{q: &stubQuerier{}}).
		WithPollInterval(time.Second).
		WithBatchSize(5)
	assert.Equal(t, "SettlementWorker(interval=1s, batch=5)", w.String())
}
