package imago

import (
	"encoding/json"
	"time"

	"github.com/sre-norns/imago/pkg/wyrd"
)

// BatchJob is a unit of work picked up by a worker
type BatchJob struct {
	// ID and version of the batch to report results to
	BatchID wyrd.VersionedResourceId `json:"batchId" yaml:"batchId"`
	Name    string                   `json:"name" yaml:"name"`

	Labels wyrd.Labels `json:"labels,omitempty" yaml:"labels,omitempty"`

	// Image urls to process, in order
	Images []string `json:"images" yaml:"images"`

	Width   int  `json:"width" yaml:"width"`
	Height  int  `json:"height" yaml:"height"`
	Enhance bool `json:"enhance" yaml:"enhance"`

	// Token a worker must present when reporting results
	Token ApiToken `json:"token" yaml:"token"`

	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Message id the job is queued under, recorded on the batch before scheduling
	RunID RunId `json:"runId,omitempty" yaml:"runId,omitempty"`
}

func NewBatchJob(batch Batch, images []string, token ApiToken, timeout time.Duration) (BatchJob, error) {
	width, height, err := batch.Spec.Aspect.Dimensions()
	if err != nil {
		return BatchJob{}, err
	}

	return BatchJob{
		BatchID: batch.GetVersionedID(),
		Name:    batch.Name,
		Labels: wyrd.MergeLabels(
			batch.Labels,
			wyrd.Labels{
				LabelBatchName:   batch.Name,
				LabelBatchUID:    batch.ID.String(),
				LabelBatchAspect: batch.Spec.Aspect.Orientation(),
			},
		),
		Images:  images,
		Width:   width,
		Height:  height,
		Enhance: batch.Spec.IsEnhanced(),
		Token:   token,
		Timeout: timeout,
	}, nil
}

func UnmarshalJob(data []byte) (result BatchJob, err error) {
	err = json.Unmarshal(data, &result)
	return
}

func MarshalJob(job BatchJob) ([]byte, error) {
	return json.Marshal(&job)
}
