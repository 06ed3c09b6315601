package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/runner"
	"github.com/stretchr/testify/require"
)

func TestAsynqLogger(t *testing.T) {
	var buf bytes.Buffer
	l := asynqLogger{log.NewLogfmtLogger(&buf)}
	l.Warn("redis ", "is ", "slow")
	require.Contains(t, buf.String(), "level=warn")
	require.Contains(t, buf.String(), `msg="redis is slow"`)
}

func TestHandleBatchJob_ServerRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"code":409,"message":"batch finished"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := imago.NewRestApiClient(imago.ApiClientConfig{ApiServerAddress: srv.URL, ApiTimeout: time.Second})
	require.NoError(t, err)

	worker := WorkerConfig{
		RunnerConfig: runner.NewDefaultConfig(),
		apiClient:    client,
		logger:       log.NewNopLogger(),
	}

	err = worker.handleBatchJob(context.Background(), "task-1", imago.BatchJob{Name: "late", Images: []string{"https://example.com/a.jpg"}})
	require.Error(t, err)
	require.True(t, runner.IsStale(err))
}
