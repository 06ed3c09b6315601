package redqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sre-norns/imago/pkg/imago"
)

const TaskType = imago.ProcessBatchTopicName

// Extra time given to a worker past the job timeout to post results back
const ReportingGracePeriod = 30 * time.Second

var ErrInvalidJobSpec = fmt.Errorf("job has no images")

func UnmarshalJob(msg *asynq.Task) (imago.BatchJob, error) {
	return imago.UnmarshalJob(msg.Payload())
}

func MarshalJob(job imago.BatchJob) (*asynq.Task, error) {
	data, err := imago.MarshalJob(job)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskType, data), nil
}

// TaskOptions used to enqueue the job
func TaskOptions(job imago.BatchJob) []asynq.Option {
	options := []asynq.Option{
		asynq.MaxRetry(1),
		asynq.TaskID(taskID(job)),
	}
	if job.Timeout > 0 {
		options = append(options, asynq.Timeout(job.Timeout+ReportingGracePeriod))
	}

	return options
}

func taskID(job imago.BatchJob) string {
	if job.RunID != imago.InvalidRunId {
		return string(job.RunID)
	}
	return fmt.Sprintf("batch-%v-%v", job.BatchID.ID, job.BatchID.Version)
}

// NewScheduler connects to redis at redisAddr. Enqueue outcomes are counted in reg, which may be nil.
func NewScheduler(redisAddr string, logger log.Logger, reg prometheus.Registerer) (imago.Scheduler, error) {
	if redisAddr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	return &asynqScheduler{
		client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr}),
		logger: logger,
		tasks: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "imago",
			Subsystem: "redqueue",
			Name:      "tasks_total",
			Help:      "Number of batch jobs handed to the queue by outcome",
		}, []string{"outcome"}),
	}, nil
}

type asynqScheduler struct {
	client *asynq.Client
	logger log.Logger
	tasks  *prometheus.CounterVec
}

func (s *asynqScheduler) Close() error {
	if s == nil || s.client == nil {
		return nil
	}

	return s.client.Close()
}

func (s *asynqScheduler) Schedule(ctx context.Context, job imago.BatchJob) (imago.RunId, error) {
	if len(job.Images) == 0 {
		s.tasks.WithLabelValues("invalid").Inc()
		return imago.InvalidRunId, fmt.Errorf("can't schedule job: %w", ErrInvalidJobSpec)
	}

	task, err := MarshalJob(job)
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to serialize job", "batch", job.BatchID, "err", err)
		s.tasks.WithLabelValues("invalid").Inc()
		return imago.InvalidRunId, err
	}

	info, err := s.client.EnqueueContext(ctx, task, TaskOptions(job)...)
	if err != nil {
		level.Error(s.logger).Log("msg", "failed to publish", "batch", job.BatchID, "err", err)
		s.tasks.WithLabelValues("failed").Inc()
		return imago.InvalidRunId, err
	}

	s.tasks.WithLabelValues("published").Inc()
	level.Debug(s.logger).Log("msg", "published task", "id", info.ID, "queue", info.Queue, "batch", job.BatchID)
	return imago.RunId(info.ID), nil
}

// JobHandler processes a single batch job picked from the queue
type JobHandler func(ctx context.Context, messageID string, job imago.BatchJob) error

// NewHandler adapts job handler to asynq. Jobs that can't be decoded or are reported as permanent by isPermanent are not retried.
func NewHandler(handler JobHandler, isPermanent func(error) bool) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		job, err := UnmarshalJob(t)
		if err != nil {
			return errors.Join(fmt.Errorf("failed to deserialize message content: %w", err), asynq.SkipRetry)
		}

		messageID, _ := asynq.GetTaskID(ctx)
		err = handler(ctx, messageID, job)
		if err != nil && isPermanent != nil && isPermanent(err) {
			return errors.Join(err, asynq.SkipRetry)
		}

		return err
	}
}
