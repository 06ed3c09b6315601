package runner_test

import (
	"bytes"
	"context"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sre-norns/imago/pkg/bundle"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/runner"
	"github.com/stretchr/testify/require"
)

func newImageServer(t *testing.T) *httptest.Server {
	var jpeg, png bytes.Buffer
	require.NoError(t, imaging.Encode(&jpeg, imaging.New(640, 480, color.NRGBA{R: 200, G: 30, B: 30, A: 255}), imaging.JPEG))
	require.NoError(t, imaging.Encode(&png, imaging.New(300, 600, color.NRGBA{G: 200, A: 128}), imaging.PNG))

	mux := http.NewServeMux()
	mux.HandleFunc("/wide.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(jpeg.Bytes())
	})
	mux.HandleFunc("/tall.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(png.Bytes())
	})
	mux.HandleFunc("/slow.jpg", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
		w.WriteHeader(http.StatusGatewayTimeout)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func rels(artifacts []imago.ArtifactSpec) []string {
	result := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		result = append(result, a.Rel)
	}
	return result
}

func TestPlay(t *testing.T) {
	srv := newImageServer(t)

	testCases := map[string]struct {
		images          []string
		width, height   int
		expectState     imago.RunStatus
		expectProcessed int
		expectFailures  int
		expectMessage   string
		expectRels      []string
	}{
		"all-good": {
			images:          []string{srv.URL + "/wide.jpg", srv.URL + "/tall.png"},
			width:           160,
			height:          90,
			expectState:     imago.RunFinishedSuccess,
			expectProcessed: 2,
			expectRels:      []string{imago.RelImage, imago.RelImage, imago.RelArchive, imago.RelHar, imago.RelMetrics, imago.RelLog},
		},
		"partial-failure": {
			images:          []string{srv.URL + "/missing.jpg", srv.URL + "/wide.jpg"},
			width:           90,
			height:          160,
			expectState:     imago.RunFinishedSuccess,
			expectProcessed: 1,
			expectFailures:  1,
			expectRels:      []string{imago.RelImage, imago.RelArchive, imago.RelHar, imago.RelMetrics, imago.RelLog},
		},
		"nothing-processed": {
			images:         []string{srv.URL + "/missing.jpg"},
			width:          160,
			height:         90,
			expectState:    imago.RunFinishedError,
			expectFailures: 1,
			expectMessage:  runner.MessageNothingProcessed,
			expectRels:     []string{imago.RelHar, imago.RelMetrics, imago.RelLog},
		},
		"no-images": {
			width:       160,
			height:      90,
			expectState: imago.RunFinishedError,
			expectRels:  []string{imago.RelLog},
		},
		"invalid-size": {
			images:      []string{srv.URL + "/wide.jpg"},
			expectState: imago.RunFinishedError,
			expectRels:  []string{imago.RelLog},
		},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			job := imago.BatchJob{
				Name:    "batch-" + name,
				Images:  test.images,
				Width:   test.width,
				Height:  test.height,
				Enhance: true,
			}
			options := runner.RunOptions{Parallelism: 2, CaptureHar: true}

			status, artifacts, err := runner.Play(context.Background(), job, options)
			require.NoError(t, err)
			require.Equal(t, test.expectState, status.State)
			require.Equal(t, test.expectProcessed, status.Processed)
			require.Len(t, status.Failures, test.expectFailures)
			require.NotNil(t, status.FinishedAt)
			if test.expectMessage != "" {
				require.Equal(t, test.expectMessage, status.Message)
			}
			require.Equal(t, test.expectRels, rels(artifacts))

			for _, artifact := range artifacts {
				switch artifact.Rel {
				case imago.RelImage:
					img, err := imaging.Decode(bytes.NewReader(artifact.Content))
					require.NoError(t, err)
					require.Equal(t, test.width, img.Bounds().Dx())
					require.Equal(t, test.height, img.Bounds().Dy())
				case imago.RelArchive:
					names, err := bundle.List(artifact.Content)
					require.NoError(t, err)
					require.Len(t, names, test.expectProcessed)
					require.Equal(t, bundle.EntryName(1), names[0])
				}
			}
		})
	}
}

func TestPlay_KeepsOrder(t *testing.T) {
	srv := newImageServer(t)
	job := imago.BatchJob{
		Name:   "ordered",
		Images: []string{srv.URL + "/tall.png", srv.URL + "/missing.jpg", srv.URL + "/wide.jpg"},
		Width:  100,
		Height: 100,
	}

	status, artifacts, err := runner.Play(context.Background(), job, runner.RunOptions{Parallelism: 3})
	require.NoError(t, err)
	require.Equal(t, 2, status.Processed)
	require.Equal(t, srv.URL+"/missing.jpg", status.Failures[0].URL)

	// Green image first, red one second
	first, err := imaging.Decode(bytes.NewReader(artifacts[0].Content))
	require.NoError(t, err)
	r, g, _, _ := first.At(50, 50).RGBA()
	require.Greater(t, g, r)

	second, err := imaging.Decode(bytes.NewReader(artifacts[1].Content))
	require.NoError(t, err)
	r, g, _, _ = second.At(50, 50).RGBA()
	require.Greater(t, r, g)
}

func TestPlay_Interrupted(t *testing.T) {
	srv := newImageServer(t)
	job := imago.BatchJob{
		Name:   "interrupted",
		Images: []string{srv.URL + "/slow.jpg"},
		Width:  100,
		Height: 100,
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	expired, stop := context.WithTimeout(context.Background(), 50*time.Millisecond)
	t.Cleanup(stop)

	testCases := map[string]struct {
		ctx         context.Context
		expectState imago.RunStatus
	}{
		"canceled": {
			ctx:         canceled,
			expectState: imago.RunFinishedCanceled,
		},
		"timeout": {
			ctx:         expired,
			expectState: imago.RunFinishedTimeout,
		},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			status, artifacts, err := runner.Play(test.ctx, job, runner.RunOptions{})
			require.NoError(t, err)
			require.Equal(t, test.expectState, status.State)
			require.Zero(t, status.Processed)
			require.Equal(t, []string{imago.RelMetrics, imago.RelLog}, rels(artifacts))
		})
	}
}

func TestArtifactMeta(t *testing.T) {
	job := imago.BatchJob{Name: "batch-42"}
	labels := map[string]string{imago.LabelWorkerName: "w1"}

	image := runner.ArtifactMeta(job, imago.ArtifactSpec{Rel: imago.RelImage}, 3, labels)
	require.Equal(t, "batch-42-image-3", image.Name)
	require.Equal(t, "3", image.Labels[imago.LabelArtifactIndex])
	require.Equal(t, "w1", image.Labels[imago.LabelWorkerName])

	archive := runner.ArtifactMeta(job, imago.ArtifactSpec{Rel: imago.RelArchive}, 1, labels)
	require.Equal(t, "batch-42-"+bundle.ArchiveName, archive.Name)
	require.NotContains(t, archive.Labels, imago.LabelArtifactIndex)

	// Labels of the worker are not shared between artifacts
	require.NotContains(t, labels, imago.LabelArtifactIndex)
}
