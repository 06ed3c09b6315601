package imago_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sre-norns/imago/pkg/dbstore"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/search"
	"github.com/sre-norns/imago/pkg/wyrd"
	"github.com/stretchr/testify/require"
)

type fixedProviders map[string]search.Registration

func (p fixedProviders) Find(name string) (search.Registration, bool) {
	reg, ok := p[name]
	return reg, ok
}

func (p fixedProviders) List() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	return names
}

type recordingScheduler struct {
	mu   sync.Mutex
	jobs []imago.BatchJob
	err  error

	// Runs before Schedule returns, as an in-process worker could
	onSchedule func(job imago.BatchJob)
}

func (s *recordingScheduler) Schedule(ctx context.Context, job imago.BatchJob) (imago.RunId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return imago.InvalidRunId, s.err
	}

	s.jobs = append(s.jobs, job)
	if s.onSchedule != nil {
		s.onSchedule(job)
	}
	return job.RunID, nil
}

func (s *recordingScheduler) Close() error { return nil }

func (s *recordingScheduler) lastJob(t *testing.T) imago.BatchJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.jobs)
	return s.jobs[len(s.jobs)-1]
}

var testProviders = fixedProviders{
	"fixed": {
		Version: "v1.0.0",
		Provider: search.ProviderFunc(func(ctx context.Context, request search.Request) (search.Result, error) {
			urls := make([]string, 0, request.Limit)
			for i := 0; i < request.Limit; i++ {
				urls = append(urls, fmt.Sprintf("https://example.com/%s/%d.jpg", request.Query, i))
			}
			return search.NewResult(urls, request.Limit), nil
		}),
	},
	"empty": {
		Version: "v0.1.0",
		Provider: search.ProviderFunc(func(ctx context.Context, request search.Request) (search.Result, error) {
			return search.NewResult(nil, request.Limit), nil
		}),
	},
	"broken": {
		Provider: search.ProviderFunc(func(ctx context.Context, request search.Request) (search.Result, error) {
			return search.Result{}, errors.New("connection reset by peer")
		}),
	},
}

type testEnv struct {
	service   imago.Service
	scheduler *recordingScheduler
	tokens    *imago.TokenIssuer
	registry  *prometheus.Registry
}

func newTestEnv(t *testing.T) testEnv {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	db, err := dbstore.Open(dsn, log.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	env := testEnv{
		scheduler: &recordingScheduler{},
		tokens:    imago.NewTokenIssuer([]byte("test-secret")),
		registry:  prometheus.NewRegistry(),
	}
	env.service = imago.NewService(dbstore.NewDbStore(db), env.scheduler,
		imago.WithProviders(testProviders),
		imago.WithTokenIssuer(env.tokens),
		imago.WithMetrics(env.registry),
		imago.WithJobTimeout(time.Minute),
	)

	return env
}

func TestSearchApi_Create(t *testing.T) {
	testCases := map[string]struct {
		spec           imago.SearchSpec
		expectErr      error
		expectState    imago.SearchState
		expectCount    int
		expectWarnings []string
	}{
		"default-limit": {
			spec:        imago.SearchSpec{Query: "kittens", Provider: "fixed"},
			expectState: imago.SearchFound,
			expectCount: imago.DefaultSearchLimit,
		},
		"max-limit": {
			spec:        imago.SearchSpec{Query: "kittens", Provider: "fixed", Limit: 50},
			expectState: imago.SearchFound,
			expectCount: 50,
		},
		"nothing-found": {
			spec:           imago.SearchSpec{Query: "zxqv", Provider: "empty", Limit: 5},
			expectState:    imago.SearchEmpty,
			expectWarnings: []string{search.WarningNoImages},
		},
		"limit-too-big": {
			spec:      imago.SearchSpec{Query: "kittens", Provider: "fixed", Limit: 51},
			expectErr: imago.ErrInvalidLimit,
		},
		"negative-limit": {
			spec:      imago.SearchSpec{Query: "kittens", Provider: "fixed", Limit: -1},
			expectErr: imago.ErrInvalidLimit,
		},
		"empty-query": {
			spec:      imago.SearchSpec{Query: "  ", Provider: "fixed"},
			expectErr: imago.ErrEmptyQuery,
		},
		"unknown-provider": {
			spec:      imago.SearchSpec{Query: "kittens", Provider: "bing"},
			expectErr: imago.ErrUnknownProvider,
		},
		"provider-failed": {
			spec:      imago.SearchSpec{Query: "kittens", Provider: "broken"},
			expectErr: imago.ErrProviderFailed,
		},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()

			got, err := env.service.GetSearchAPI().Create(ctx, wyrd.ObjectMeta{}, test.spec)
			if test.expectErr != nil {
				require.ErrorIs(t, err, test.expectErr)

				stored, err := env.service.GetSearchAPI().List(ctx, imago.SearchQuery{})
				require.NoError(t, err)
				require.Empty(t, stored)
				return
			}

			require.NoError(t, err)
			require.Equal(t, test.expectState, got.Status.State)
			require.Len(t, got.Status.Candidates, test.expectCount)
			require.Equal(t, test.expectWarnings, got.Status.Warnings)
			require.True(t, strings.HasPrefix(got.Name, "search-"))
			require.Equal(t, test.spec.Provider, got.Labels[imago.LabelSearchProvider])

			for i, c := range got.Status.Candidates {
				require.Equal(t, i, c.Position)
			}

			stored, ok, err := env.service.GetSearchAPI().Get(ctx, got.ID)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, got.Status.Candidates, stored.Status.Candidates)

			count, err := testutil.GatherAndCount(env.registry, "imago_searches_total")
			require.NoError(t, err)
			require.Equal(t, 1, count)
		})
	}
}

func TestBatchApi_Create(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	found, err := env.service.GetSearchAPI().Create(ctx, wyrd.ObjectMeta{Name: "kittens"}, imago.SearchSpec{Query: "kittens", Provider: "fixed", Limit: 5})
	require.NoError(t, err)

	testCases := map[string]struct {
		spec         imago.BatchSpec
		expectErr    error
		expectImages []string
		expectWidth  int
		expectHeight int
	}{
		"explicit-images": {
			spec:         imago.BatchSpec{Images: []string{"https://example.com/a.png"}},
			expectImages: []string{"https://example.com/a.png"},
			expectWidth:  1920,
			expectHeight: 1080,
		},
		"selected-candidates": {
			spec: imago.BatchSpec{SearchID: found.ID, Select: []int{3, 0}, Aspect: imago.AspectPortrait},
			expectImages: []string{
				"https://example.com/kittens/3.jpg",
				"https://example.com/kittens/0.jpg",
			},
			expectWidth:  1080,
			expectHeight: 1920,
		},
		"nothing-selected": {
			spec:      imago.BatchSpec{SearchID: found.ID},
			expectErr: imago.ErrNoImages,
		},
		"selection-out-of-range": {
			spec:      imago.BatchSpec{SearchID: found.ID, Select: []int{5}},
			expectErr: imago.ErrInvalidSelection,
		},
		"unknown-search": {
			spec:      imago.BatchSpec{SearchID: found.ID + 100, Select: []int{0}},
			expectErr: imago.ErrResourceNotFound,
		},
		"unknown-aspect": {
			spec:      imago.BatchSpec{Images: []string{"https://example.com/a.png"}, Aspect: "4:3"},
			expectErr: imago.ErrUnknownAspect,
		},
		"not-a-url": {
			spec:      imago.BatchSpec{Images: []string{"file:///etc/passwd"}},
			expectErr: imago.ErrInvalidImageURL,
		},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			got, err := env.service.GetBatchAPI().Create(ctx, wyrd.ObjectMeta{}, test.spec)
			if test.expectErr != nil {
				require.ErrorIs(t, err, test.expectErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, imago.RunPending, got.Status.State)
			require.NotEmpty(t, got.Status.MessageID)
			require.Equal(t, got.Status.MessageID, string(env.scheduler.lastJob(t).RunID))

			job := env.scheduler.lastJob(t)
			require.Equal(t, got.GetVersionedID(), job.BatchID)
			require.Equal(t, test.expectImages, job.Images)
			require.Equal(t, test.expectWidth, job.Width)
			require.Equal(t, test.expectHeight, job.Height)
			require.True(t, job.Enhance)
			require.Equal(t, time.Minute, job.Timeout)

			claims, err := env.tokens.Verify(job.Token, got.ID)
			require.NoError(t, err)
			require.Equal(t, got.Version, claims.Version)
		})
	}
}

func TestBatchApi_CreateWithoutScheduler(t *testing.T) {
	service := imago.NewService(nil, nil)
	_, err := service.GetBatchAPI().Create(context.Background(), wyrd.ObjectMeta{}, imago.BatchSpec{Images: []string{"https://example.com/a.png"}})
	require.ErrorIs(t, err, imago.ErrNoScheduler)
}

func TestBatchApi_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	batches := env.service.GetBatchAPI()

	batch, err := batches.Create(ctx, wyrd.ObjectMeta{}, imago.BatchSpec{Images: []string{"https://example.com/a.png"}})
	require.NoError(t, err)
	_, err = batches.Create(ctx, wyrd.ObjectMeta{}, imago.BatchSpec{Images: []string{"https://example.com/b.png"}})
	require.NoError(t, err)

	token := env.scheduler.jobs[0].Token
	otherToken := env.scheduler.jobs[1].Token

	_, err = batches.UpdateStatus(ctx, batch.GetVersionedID(), otherToken, imago.BatchStatus{State: imago.RunRunning})
	require.ErrorIs(t, err, imago.ErrInvalidToken)

	_, err = batches.UpdateStatus(ctx, batch.GetVersionedID(), token, imago.BatchStatus{State: imago.RunPending})
	require.ErrorIs(t, err, imago.ErrInvalidRunState)

	running, err := batches.UpdateStatus(ctx, batch.GetVersionedID(), token, imago.BatchStatus{State: imago.RunRunning})
	require.NoError(t, err)
	require.Equal(t, batch.Version+1, running.Version)
	require.Equal(t, imago.KindBatch, running.Kind)

	// Stale version
	_, err = batches.UpdateStatus(ctx, batch.GetVersionedID(), token, imago.BatchStatus{State: imago.RunFinishedSuccess})
	require.ErrorIs(t, err, imago.ErrVersionConflict)

	done, err := batches.UpdateStatus(ctx, running.VersionedResourceId, token, imago.BatchStatus{
		State:     imago.RunFinishedSuccess,
		Processed: 1,
	})
	require.NoError(t, err)

	got, ok, err := batches.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, done.Version, got.Version)
	require.Equal(t, imago.RunFinishedSuccess, got.Status.State)
	require.Equal(t, 1, got.Status.Processed)
	require.NotNil(t, got.Status.FinishedAt)
	require.Equal(t, batch.Status.MessageID, got.Status.MessageID)

	_, err = batches.UpdateStatus(ctx, done.VersionedResourceId, token, imago.BatchStatus{State: imago.RunFinishedFailed})
	require.ErrorIs(t, err, imago.ErrBatchFinished)

	count, err := testutil.GatherAndCount(env.registry, "imago_batches_finished_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestBatchApi_CreateWithFastWorker(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	batches := env.service.GetBatchAPI()

	var workerErr error
	env.scheduler.onSchedule = func(job imago.BatchJob) {
		_, workerErr = batches.UpdateStatus(ctx, job.BatchID, job.Token, imago.BatchStatus{State: imago.RunRunning})
	}

	batch, err := batches.Create(ctx, wyrd.ObjectMeta{}, imago.BatchSpec{Images: []string{"https://example.com/a.png"}})
	require.NoError(t, err)
	require.NoError(t, workerErr)

	job := env.scheduler.lastJob(t)
	require.NotEqual(t, imago.InvalidRunId, job.RunID)

	got, ok, err := batches.Get(ctx, batch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, imago.RunRunning, got.Status.State)
	require.Equal(t, batch.Version+1, got.Version)
	require.Equal(t, string(job.RunID), got.Status.MessageID)
}

func TestArtifactApi(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	batch, err := env.service.GetBatchAPI().Create(ctx, wyrd.ObjectMeta{}, imago.BatchSpec{Images: []string{"https://example.com/a.png"}})
	require.NoError(t, err)
	token := env.scheduler.lastJob(t).Token

	artifacts := env.service.GetArtifactsAPI()

	_, err = artifacts.Create(ctx, imago.ApiToken("not-a-token"), wyrd.ObjectMeta{}, imago.ArtifactSpec{BatchID: batch.ID, Rel: imago.RelArchive})
	require.ErrorIs(t, err, imago.ErrInvalidToken)

	archive, err := artifacts.Create(ctx, token, wyrd.ObjectMeta{Name: "processed_images.zip"}, imago.ArtifactSpec{
		BatchID:  batch.ID,
		Rel:      imago.RelArchive,
		MimeType: "application/zip",
		Content:  []byte("PK-zip-bytes"),
	})
	require.NoError(t, err)
	require.Equal(t, imago.KindArtifact, archive.Kind)

	_, err = artifacts.Create(ctx, token, wyrd.ObjectMeta{}, imago.ArtifactSpec{
		BatchID:  batch.ID,
		Rel:      imago.RelLog,
		MimeType: "text/plain",
		Content:  []byte("log line"),
	})
	require.NoError(t, err)

	listed, err := artifacts.List(ctx, imago.SearchQuery{Selector: fmt.Sprintf("%s=%v,%s=%s", imago.LabelBatchUID, batch.ID, imago.LabelArtifactRel, imago.RelArchive)})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, "processed_images.zip", listed[0].Name)
	require.Nil(t, listed[0].Spec.Content)
	require.Equal(t, "application_zip", listed[0].Labels[imago.LabelArtifactMime])

	content, ok, err := artifacts.GetContent(ctx, archive.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("PK-zip-bytes"), content.Content)
	require.Equal(t, imago.EncodingIdentity, content.Encoding)

	// No archive until the batch status points to one
	_, ok, err = env.service.GetBatchAPI().GetArchive(ctx, batch.ID)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = env.service.GetBatchAPI().UpdateStatus(ctx, batch.GetVersionedID(), token, imago.BatchStatus{
		State:     imago.RunFinishedSuccess,
		Processed: 1,
		ArchiveID: archive.ID,
	})
	require.NoError(t, err)

	got, ok, err := env.service.GetBatchAPI().GetArchive(ctx, batch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("PK-zip-bytes"), got.Spec.Content)

	// Batch is final, no more artifacts
	_, err = artifacts.Create(ctx, token, wyrd.ObjectMeta{}, imago.ArtifactSpec{BatchID: batch.ID, Rel: imago.RelLog})
	require.ErrorIs(t, err, imago.ErrBatchFinished)
}

func TestProvidersApi_List(t *testing.T) {
	env := newTestEnv(t)

	got, err := env.service.GetProvidersAPI().List(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []imago.ProviderInfo{
		{Name: "fixed", Version: "v1.0.0"},
		{Name: "empty", Version: "v0.1.0"},
		{Name: "broken"},
	}, got)
}
