// Package localqueue runs batch jobs inside the API server process, for deployments without redis.
package localqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sre-norns/imago/pkg/grace"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/runner"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
)

var (
	ErrNotBound   = fmt.Errorf("scheduler is not bound to a service")
	ErrQueueFull  = fmt.Errorf("job queue is full")
	ErrQueueClose = fmt.Errorf("job queue is closed")
)

type Options struct {
	// Number of batches processed at the same time
	Workers int

	// Number of jobs waiting for a worker, before Schedule starts to fail
	QueueSize int

	Run runner.RunOptions

	Logger log.Logger
}

type queuedJob struct {
	id  imago.RunId
	job imago.BatchJob
}

type Scheduler struct {
	mu     sync.RWMutex
	closed bool
	api    imago.Service

	queue   chan queuedJob
	workers *grace.Workgroup
	seq     atomic.Uint64

	options runner.RunOptions
	logger  log.Logger
}

func NewScheduler(options Options) *Scheduler {
	if options.Workers <= 0 {
		options.Workers = DefaultWorkers
	}
	if options.QueueSize <= 0 {
		options.QueueSize = DefaultQueueSize
	}
	if options.Logger == nil {
		options.Logger = log.NewNopLogger()
	}

	s := &Scheduler{
		queue:   make(chan queuedJob, options.QueueSize),
		workers: grace.NewWorkgroup(options.Workers),
		options: options.Run,
		logger:  options.Logger,
	}
	s.options.Logger = options.Logger

	for i := 0; i < options.Workers; i++ {
		s.workers.Go(s.work)
	}

	return s
}

// Bind sets the service jobs report their progress to
func (s *Scheduler) Bind(api imago.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.api = api
}

func (s *Scheduler) service() imago.Service {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.api
}

func (s *Scheduler) Schedule(ctx context.Context, job imago.BatchJob) (imago.RunId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return imago.InvalidRunId, ErrQueueClose
	}
	if s.api == nil {
		return imago.InvalidRunId, ErrNotBound
	}

	id := job.RunID
	if id == imago.InvalidRunId {
		id = imago.RunId(fmt.Sprintf("local-%d", s.seq.Add(1)))
	}
	select {
	case s.queue <- queuedJob{id: id, job: job}:
	default:
		return imago.InvalidRunId, ErrQueueFull
	}

	level.Debug(s.logger).Log("msg", "job queued", "id", id, "batch", job.BatchID)
	return id, nil
}

func (s *Scheduler) work() error {
	for item := range s.queue {
		if err := runner.Execute(context.Background(), s.service(), item.job, s.options); err != nil {
			level.Error(s.logger).Log("msg", "job failed", "id", item.id, "batch", item.job.BatchID, "err", err)
		}
	}

	return nil
}

// Close stops accepting jobs and waits until the queue is drained
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	return s.workers.Wait()
}
