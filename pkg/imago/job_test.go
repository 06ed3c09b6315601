package imago_test

import (
	"testing"
	"time"

	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/wyrd"
	"github.com/stretchr/testify/require"
)

func TestNewBatchJob(t *testing.T) {
	batch := imago.Batch{
		ResourceMeta: imago.ResourceMeta{ID: 5, Version: 1, Name: "holiday", Labels: wyrd.Labels{"owner": "me"}},
		Spec:         imago.BatchSpec{Aspect: imago.AspectPortrait},
	}

	job, err := imago.NewBatchJob(batch, []string{"https://example.com/1.jpg"}, "token", time.Minute)
	require.NoError(t, err)
	require.Equal(t, wyrd.NewVersionedId(5, 1), job.BatchID)
	require.Equal(t, 1080, job.Width)
	require.Equal(t, 1920, job.Height)
	require.True(t, job.Enhance)
	require.Equal(t, wyrd.Labels{
		"owner":                "me",
		imago.LabelBatchName:   "holiday",
		imago.LabelBatchUID:    "5",
		imago.LabelBatchAspect: "portrait",
	}, job.Labels)

	data, err := imago.MarshalJob(job)
	require.NoError(t, err)
	got, err := imago.UnmarshalJob(data)
	require.NoError(t, err)
	require.Equal(t, job, got)

	_, err = imago.NewBatchJob(imago.Batch{Spec: imago.BatchSpec{Aspect: "5:4"}}, nil, "", 0)
	require.ErrorIs(t, err, imago.ErrUnknownAspect)
}
