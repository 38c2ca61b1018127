package async

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/prescriptions-tracker/internal/common"
	"github.com/joseph-ayodele/prescriptions-tracker/internal/pipeline"
)

// DocumentProcessor is satisfied by *pipeline.Processor.
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, documentID uuid.UUID) (*pipeline.Outcome, error)
}

// ResultHook observes every finished job.
type ResultHook func(job Job, out *pipeline.Outcome, err error)

type ProcessorQueue struct {
	proc    DocumentProcessor
	logger  *zap.Logger
	workers int
	timeout time.Duration
	hook    ResultHook

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithResultHook(h ResultHook) Option {
	return func(q *ProcessorQueue) { q.hook = h }
}

func NewProcessorQueue(proc DocumentProcessor, logger *zap.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = zap.L()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work(i + 1)
		}
	})
}

func (q *ProcessorQueue) work(workerID int) {
	defer q.wg.Done()
	q.logger.Info("worker started", zap.Int("worker_id", workerID))

	for job := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		if job.RequestID != "" {
			ctx = common.WithRequestID(ctx, job.RequestID)
		}
		out, err := q.proc.ProcessDocument(ctx, job.DocumentID)
		cancel()

		if err != nil {
			q.logger.Error("processing failed",
				zap.Int("worker_id", workerID),
				zap.String("document_id", job.DocumentID.String()),
				zap.Error(err))
		} else {
			q.logger.Info("processed document successfully",
				zap.Int("worker_id", workerID),
				zap.String("document_id", job.DocumentID.String()),
				zap.String("status", string(out.Status)),
				zap.Duration("queued_for", time.Since(job.SubmittedAt)))
		}
		if q.hook != nil {
			q.hook(job, out, err)
		}
	}

	q.logger.Info("worker stopped", zap.Int("worker_id", workerID))
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", zap.String("document_id", job.DocumentID.String()))
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued document for processing", zap.String("document_id", job.DocumentID.String()), zap.Bool("force", job.Force))
		return nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", zap.String("document_id", job.DocumentID.String()))
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish, or for ctx.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
