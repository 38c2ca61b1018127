package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/constants"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"
)

type fakeProcessor struct {
	mu       sync.Mutex
	seen     []uuid.UUID
	requests []string
	fail     map[uuid.UUID]bool
	block    chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, id uuid.UUID) (*pipeline.Outcome, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	f.seen = append(f.seen, id)
	f.requests = append(f.requests, common.RequestIDFromContext(ctx))
	fail := f.fail[id]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("boom")
	}
	return &pipeline.Outcome{Status: constants.OCRStatusExtracted}, nil
}

func TestProcessorQueue_ProcessesAllJobs(t *testing.T) {
	bad := uuid.New()
	proc := &fakeProcessor{fail: map[uuid.UUID]bool{bad: true}}

	var (
		mu     sync.Mutex
		failed int
		done   int
	)
	q := NewProcessorQueue(proc, zap.NewNop(),
		WithWorkers(3),
		WithQueueSize(2),
		WithResultHook(func(_ Job, _ *pipeline.Outcome, err error) {
			mu.Lock()
			defer mu.Unlock()
			done++
			if err != nil {
				failed++
			}
		}))

	ids := []uuid.UUID{uuid.New(), uuid.New(), bad, uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: id, RequestID: "req-" + id.String()[:4]}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.ElementsMatch(t, ids, proc.seen)
	assert.Equal(t, 5, done)
	assert.Equal(t, 1, failed)
	for _, r := range proc.requests {
		assert.Contains(t, r, "req-")
	}
	assert.LessOrEqual(t, proc.maxSeen.Load(), int32(3))
}

func TestProcessorQueue_EnqueueAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(&fakeProcessor{}, zap.NewNop(), WithWorkers(1))
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{DocumentID: uuid.New()})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestProcessorQueue_BackpressureHonorsContext(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	q := NewProcessorQueue(proc, zap.NewNop(), WithWorkers(1), WithQueueSize(1))

	// one job held by the worker, one filling the buffer
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))
	require.Eventually(t, func() bool { return proc.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{DocumentID: uuid.New()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(proc.block)
	q.Shutdown(context.Background())
	assert.Len(t, proc.seen, 2)
}

func TestProcessorQueue_ProcessTimeout(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	errs := make(chan error, 1)
	q := NewProcessorQueue(proc, zap.NewNop(),
		WithWorkers(1),
		WithProcessTimeout(20*time.Millisecond),
		WithResultHook(func(_ Job, _ *pipeline.Outcome, err error) { errs <- err }))

	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not time out")
	}
	q.Shutdown(context.Background())
}
