package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sre-norns/imago/pkg/grace"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/wyrd"
)

// IsStale tells if err means the batch moved on without this run: it was finished or updated by someone else.
// Retrying a job in this case is pointless.
func IsStale(err error) bool {
	code := imago.StatusCodeFor(err)
	return code == http.StatusConflict || code == http.StatusNotFound
}

// Execute runs a job and reports its progress, artifacts and final status to the API
func Execute(ctx context.Context, api imago.Service, job imago.BatchJob, options RunOptions) error {
	logger := options.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = log.With(logger, "batch", job.BatchID, "name", job.Name)

	batches := api.GetBatchAPI()
	running, err := batches.UpdateStatus(ctx, job.BatchID, job.Token, imago.BatchStatus{State: imago.RunRunning})
	if err != nil {
		return fmt.Errorf("failed to mark batch %v as running: %w", job.BatchID, err)
	}
	level.Info(logger).Log("msg", "batch started", "images", len(job.Images))

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = options.Timeout
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	options.Logger = logger
	status, artifacts, runErr := Play(runCtx, job, options)

	// Reporting uses the parent context: the run one may have expired
	ids, postErr := PostArtifacts(ctx, api.GetArtifactsAPI(), job, artifacts, options)
	for i, artifact := range artifacts {
		if artifact.Rel == imago.RelArchive && ids[i] != wyrd.InvalidResourceID {
			status.ArchiveID = ids[i]
		}
	}

	if runErr != nil {
		status.State = imago.RunFinishedError
		status.Message = runErr.Error()
	}
	if status.FinishedAt == nil {
		now := time.Now()
		status.FinishedAt = &now
	}

	_, err = batches.UpdateStatus(ctx, running.VersionedResourceId, job.Token, status)
	if err != nil {
		err = fmt.Errorf("failed to report status of batch %v: %w", running.VersionedResourceId, err)
	}
	level.Info(logger).Log("msg", "batch finished", "state", status.State, "processed", status.Processed, "failures", len(status.Failures))

	return errors.Join(runErr, postErr, err)
}

// PostArtifacts uploads artifacts concurrently. Returned ids follow order of artifacts, failed uploads get invalid id.
func PostArtifacts(ctx context.Context, api imago.ArtifactApi, job imago.BatchJob, artifacts []imago.ArtifactSpec, options RunOptions) ([]wyrd.ResourceID, error) {
	parallelism := options.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	ids := make([]wyrd.ResourceID, len(artifacts))
	seq := map[string]int{}

	wg := grace.NewWorkgroup(parallelism)
	for i, artifact := range artifacts {
		seq[artifact.Rel] += 1
		meta := ArtifactMeta(job, artifact, seq[artifact.Rel], options.WorkerLabels)
		artifact.BatchID = job.BatchID.ID

		wg.Go(func() error {
			created, err := api.Create(ctx, job.Token, meta, artifact)
			if err != nil {
				return fmt.Errorf("failed to post artifact %q: %w", meta.Name, err)
			}

			ids[i] = created.ID
			return nil
		})
	}

	return ids, wg.Wait()
}
