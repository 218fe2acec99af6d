package window

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// compactJob identifies one pending compaction.
type compactJob struct {
	userID  string
	convID  string
	boundary int
}

// Queue runs compactions on background workers so the response path
// never waits for summarization.
type Queue struct {
	manager *Manager
	jobs    chan compactJob
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  zerolog.Logger
}

// NewQueue creates and starts a compaction queue.
func NewQueue(manager *Manager, workers, queueSize int, jobTimeout time.Duration, logger zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		manager: manager,
		jobs:    make(chan compactJob, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		timeout: jobTimeout,
		logger:  logger.With().Str("component", "compaction-queue").Logger(),
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.run(job)
		}
	}
}

func (q *Queue) run(job compactJob) {
	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	if err := q.manager.CreateCompact(ctx, job.userID, job.convID, job.boundary); err != nil {
		q.logger.Error().Err(err).
			Str("conversation", job.convID).
			Int("boundary", job.boundary).
			Msg("compaction failed")
	}
}

// TriggerIfNeeded checks the boundary condition and enqueues a
// compaction when one is due. A full queue drops the job; the next
// boundary check picks it up again.
func (q *Queue) TriggerIfNeeded(ctx context.Context, userID, convID string) {
	boundary, needed, err := q.manager.ShouldCompact(ctx, userID, convID)
	if err != nil {
		q.logger.Error().Err(err).Str("conversation", convID).Msg("boundary check failed")
		return
	}
	if !needed {
		return
	}

	select {
	case q.jobs <- compactJob{userID: userID, convID: convID, boundary: boundary}:
	default:
		q.logger.Warn().Str("conversation", convID).Msg("compaction queue full, dropping job")
	}
}

// Stop drains workers. Pending jobs in the channel are abandoned.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
}
