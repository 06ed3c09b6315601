package imago

import (
	"context"
	"io"

	"github.com/google/uuid"
)

type RunId string

const InvalidRunId = RunId("")

// NewRunId returns a unique id for a queued batch run, schedulers use it as the message id
func NewRunId() RunId {
	return RunId("run-" + uuid.NewString())
}

const ProcessBatchTopicName = "batch:process"

type Scheduler interface {
	io.Closer

	Schedule(ctx context.Context, job BatchJob) (RunId, error)
}
