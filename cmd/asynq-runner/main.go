package main

import (
	"context"
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/sre-norns/imago/pkg/grace"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/redqueue"
	"github.com/sre-norns/imago/pkg/runner"
)

type WorkerConfig struct {
	imago.ApiClientConfig `embed:"" prefix:"client."`
	runner.RunnerConfig   `embed:""`

	RedisAddress string `help:"Redis server address:port to connect to" default:"localhost:6379" env:"IMAGO_REDIS_ADDRESS"`
	Concurrency  int    `help:"Number of batches processed at once" default:"2"`

	LogLevel string `help:"Log level: '${enum}'" enum:"debug,info,warn,error" default:"info" env:"IMAGO_LOG_LEVEL"`

	apiClient imago.Service
	logger    log.Logger
}

func (w *WorkerConfig) handleBatchJob(ctx context.Context, messageID string, job imago.BatchJob) error {
	logger := log.With(w.logger, "task", messageID)
	level.Info(logger).Log("msg", "new job execution request", "batch", job.BatchID, "images", len(job.Images))

	if job.Timeout <= 0 || (w.RunnerConfig.Timeout > 0 && job.Timeout > w.RunnerConfig.Timeout) {
		job.Timeout = w.RunnerConfig.Timeout
	}

	err := runner.Execute(ctx, w.apiClient, job, w.RunnerConfig.RunOptions(logger))
	if err != nil {
		level.Error(logger).Log("msg", "job failed", "batch", job.BatchID, "err", err)
	}

	return err
}

var appConfig = WorkerConfig{
	RunnerConfig: runner.NewDefaultConfig(),
}

func main() {
	// Missing .env is fine: configuration comes from the environment then
	_ = godotenv.Load()

	appCtx := kong.Parse(&appConfig,
		kong.Name("asynq-runner"),
		kong.Description("imago async worker picks up batch jobs from the queue, processes images and posts results back to the API server"),
	)

	logger, err := grace.NewLogger(os.Stderr, appConfig.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	appConfig.logger = logger

	apiClient, err := imago.NewRestApiClient(appConfig.ApiClientConfig)
	grace.SuccessRequired(logger, err, "Failed to initialize API Client")
	appConfig.apiClient = apiClient

	versionCtx, cancel := context.WithTimeout(context.Background(), appConfig.ApiTimeout)
	serverVersion, err := apiClient.Version(versionCtx)
	cancel()
	grace.SuccessRequired(logger, err, "API server is not reachable")

	appConfig.DetectRuntime(logger)
	level.Info(logger).Log("msg", "worker ready",
		"name", appConfig.GetName(),
		"server", appConfig.ApiServerAddress,
		"serverVersion", serverVersion,
		"labels", fmt.Sprint(appConfig.GetEffectiveLabels()),
	)

	workerServer := asynq.NewServer(asynq.RedisClientOpt{Addr: appConfig.RedisAddress}, asynq.Config{
		Concurrency: appConfig.Concurrency,
		Logger:      asynqLogger{log.With(logger, "component", "asynq")},
	})

	mux := asynq.NewServeMux()
	mux.Handle(redqueue.TaskType, redqueue.NewHandler(appConfig.handleBatchJob, runner.IsStale))

	appCtx.FatalIfErrorf(workerServer.Run(mux))
}
