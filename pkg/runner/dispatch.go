package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/google/martian/har"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sre-norns/imago/pkg/bundle"
	"github.com/sre-norns/imago/pkg/grace"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/picture"
	"github.com/sre-norns/imago/pkg/wyrd"
)

const DefaultParallelism = 4

const MessageNothingProcessed = "no images were processed successfully"

type RunOptions struct {
	// Number of images processed at the same time
	Parallelism int

	// Run timeout, used when the job does not set one
	Timeout time.Duration

	Fetch      picture.FetchOptions
	CaptureHar bool
	Metrics    RegistryOptions

	// Labels attached to every artifact produced
	WorkerLabels wyrd.Labels

	Logger log.Logger
}

func failedRun(message string, runLog *RunLog) (imago.BatchStatus, []imago.ArtifactSpec) {
	runLog.Log(message)
	now := time.Now()
	return imago.BatchStatus{
		State:      imago.RunFinishedError,
		Message:    message,
		FinishedAt: &now,
	}, runLog.Package()
}

func stateOf(err error) imago.RunStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return imago.RunFinishedTimeout
	}
	return imago.RunFinishedCanceled
}

// Play processes every image of the job. Artifacts are returned in order:
// processed images, archive of the images, HAR, metrics and the run log.
func Play(ctx context.Context, job imago.BatchJob, options RunOptions) (imago.BatchStatus, []imago.ArtifactSpec, error) {
	runLog := NewRunLog(options.Logger)
	runLog.Logf("batch %q: processing %d images into %dx%d, enhance=%t", job.Name, len(job.Images), job.Width, job.Height, job.Enhance)

	if len(job.Images) == 0 {
		status, artifacts := failedRun("no images to process", runLog)
		return status, artifacts, nil
	}

	opts := picture.Options{Width: job.Width, Height: job.Height, Enhance: job.Enhance}
	if err := opts.Validate(); err != nil {
		status, artifacts := failedRun(err.Error(), runLog)
		return status, artifacts, nil
	}

	registry := prometheus.NewRegistry()
	metrics := newRunMetrics(registry)

	var harLogger *har.Logger
	if options.CaptureHar {
		harLogger = har.NewLogger()
		harLogger.SetOption(har.BodyLogging(false))
	}

	fetchOptions := options.Fetch
	fetchOptions.Har = harLogger
	fetchOptions.Transcript = runLog
	fetcher := picture.NewFetcher(fetchOptions)

	parallelism := options.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	// Each worker writes its own slot so the order of images is preserved
	results := make([][]byte, len(job.Images))
	failures := make([]error, len(job.Images))

	wg := grace.NewWorkgroup(parallelism)
	for i, url := range job.Images {
		wg.Go(func() error {
			if err := ctx.Err(); err != nil {
				failures[i] = err
				return nil
			}

			start := time.Now()
			data, err := picture.Process(ctx, fetcher, url, opts)
			metrics.duration.Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.images.WithLabelValues("failed").Inc()
				runLog.Logf("image %d/%d: %v", i+1, len(job.Images), err)
				failures[i] = err
				return nil
			}

			metrics.images.WithLabelValues("success").Inc()
			metrics.bytes.Add(float64(len(data)))
			runLog.Logf("image %d/%d: processed %s into %d bytes", i+1, len(job.Images), url, len(data))
			results[i] = data
			return nil
		})
	}
	_ = wg.Wait()

	status := imago.BatchStatus{}
	var images [][]byte
	for i, data := range results {
		if failures[i] != nil {
			status.Failures = append(status.Failures, imago.ImageFailure{URL: job.Images[i], Reason: failures[i].Error()})
			continue
		}
		images = append(images, data)
	}
	status.Processed = len(images)

	switch {
	case ctx.Err() != nil:
		status.State = stateOf(ctx.Err())
		status.Message = ctx.Err().Error()
	case len(images) == 0:
		status.State = imago.RunFinishedError
		status.Message = MessageNothingProcessed
	default:
		status.State = imago.RunFinishedSuccess
	}
	runLog.Logf("batch %q: %s, %d of %d images processed", job.Name, status.State, status.Processed, len(job.Images))

	artifacts := make([]imago.ArtifactSpec, 0, len(images)+4)
	for _, data := range images {
		artifacts = append(artifacts, imago.ArtifactSpec{
			Rel:      imago.RelImage,
			MimeType: "image/jpeg",
			Encoding: imago.EncodingIdentity,
			Content:  data,
		})
	}

	var packErr error
	if len(images) > 0 {
		archive, err := bundle.Archive(images)
		if err != nil {
			packErr = errors.Join(packErr, fmt.Errorf("failed to archive images: %w", err))
		} else {
			artifacts = append(artifacts, imago.ArtifactSpec{
				Rel:      imago.RelArchive,
				MimeType: bundle.ArchiveMimeType,
				Encoding: imago.EncodingIdentity,
				Content:  archive,
			})
		}
	}

	if harLogger != nil {
		harData, err := json.Marshal(harLogger.ExportAndReset())
		if err != nil {
			runLog.Log("failed to serialize HAR file: ", err)
		} else {
			artifacts = append(artifacts, imago.ArtifactSpec{
				Rel:      imago.RelHar,
				MimeType: "application/json",
				Encoding: imago.EncodingIdentity,
				Content:  harData,
			})
		}
	}

	metricsArtifact, err := ToArtifact(registry, options.Metrics)
	if err != nil {
		runLog.Log("failed to export run metrics: ", err)
	} else {
		artifacts = append(artifacts, metricsArtifact)
	}

	now := time.Now()
	status.FinishedAt = &now
	artifacts = append(artifacts, runLog.ToArtifact())

	return status, artifacts, packErr
}

// ArtifactMeta names an artifact of a job. seq counts artifacts of the same rel, starting from 1.
func ArtifactMeta(job imago.BatchJob, spec imago.ArtifactSpec, seq int, workerLabels wyrd.Labels) wyrd.ObjectMeta {
	name := fmt.Sprintf("%s-%s-%d", job.Name, spec.Rel, seq)
	labels := wyrd.MergeLabels(workerLabels)
	switch spec.Rel {
	case imago.RelImage:
		labels[imago.LabelArtifactIndex] = fmt.Sprint(seq)
	case imago.RelArchive:
		name = fmt.Sprintf("%s-%s", job.Name, bundle.ArchiveName)
	}

	return wyrd.ObjectMeta{
		Name:   name,
		Labels: labels,
	}
}
