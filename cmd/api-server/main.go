package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sre-norns/imago/pkg/dbstore"
	"github.com/sre-norns/imago/pkg/grace"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/localqueue"
	"github.com/sre-norns/imago/pkg/redqueue"
	"github.com/sre-norns/imago/pkg/runner"
	"github.com/sre-norns/imago/pkg/search/list"

	_ "github.com/sre-norns/imago/pkg/search/browser"
	_ "github.com/sre-norns/imago/pkg/search/google"
)

const (
	QueueRedis = "redis"
	QueueLocal = "local"
)

type ServerConfig struct {
	Port    int    `help:"Port to listen on" default:"8501" env:"PORT"`
	Address string `help:"Network address to bind, all interfaces if empty" env:"IMAGO_LISTEN_ADDRESS"`

	DbDSN string `name:"db-dsn" help:"Database to store resources in: a sqlite file name, postgres:// or mysql:// DSN" default:"imago.db" env:"IMAGO_DB_DSN"`

	Queue        string `help:"Where batches are processed: '${enum}'" enum:"redis,local" default:"local" env:"IMAGO_QUEUE"`
	RedisAddress string `help:"Redis server address:port to connect to" default:"localhost:6379" env:"IMAGO_REDIS_ADDRESS"`

	TokenSecret string        `help:"Secret to sign run tokens with, random if empty" env:"IMAGO_TOKEN_SECRET"`
	JobTimeout  time.Duration `help:"Maximum duration of a batch run" default:"5m" env:"IMAGO_JOB_TIMEOUT"`

	ListFile string `help:"File with image urls, one per line, served by the 'list' search provider" env:"IMAGO_LIST_FILE"`

	LocalWorkers        int                 `help:"Number of batches processed at once by the local queue" default:"2"`
	runner.RunnerConfig `embed:"" prefix:"local."`

	LogLevel string `help:"Log level: '${enum}'" enum:"debug,info,warn,error" default:"info" env:"IMAGO_LOG_LEVEL"`
}

var appConfig = ServerConfig{
	RunnerConfig: runner.NewDefaultConfig(),
}

func newScheduler(logger log.Logger, reg prometheus.Registerer) (imago.Scheduler, func(imago.Service), error) {
	switch appConfig.Queue {
	case QueueRedis:
		scheduler, err := redqueue.NewScheduler(appConfig.RedisAddress, log.With(logger, "component", "redqueue"), reg)
		return scheduler, func(imago.Service) {}, err
	case QueueLocal:
		queueLogger := log.With(logger, "component", "localqueue")
		appConfig.RunnerConfig.DetectRuntime(queueLogger)
		scheduler := localqueue.NewScheduler(localqueue.Options{
			Workers: appConfig.LocalWorkers,
			Run:     appConfig.RunnerConfig.RunOptions(queueLogger),
			Logger:  queueLogger,
		})
		return scheduler, scheduler.Bind, nil
	}

	return nil, nil, fmt.Errorf("unknown queue %q", appConfig.Queue)
}

func main() {
	// Missing .env is fine: configuration comes from the environment then
	_ = godotenv.Load()

	kong.Parse(&appConfig,
		kong.Name("api-server"),
		kong.Description("imago API server: stores image searches, batches and their artifacts, schedules batch processing"),
	)

	logger, err := grace.NewLogger(os.Stderr, appConfig.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	gin.SetMode(gin.ReleaseMode)

	db, err := dbstore.Open(appConfig.DbDSN, logger)
	grace.SuccessRequired(logger, err, "failed to open database")

	secret := []byte(appConfig.TokenSecret)
	if len(secret) == 0 {
		level.Warn(logger).Log("msg", "no token secret configured, run tokens will not survive restart")
		secret = imago.NewRandomSecret()
	}

	if appConfig.ListFile != "" {
		grace.SuccessRequired(logger, list.RegisterFile(appConfig.ListFile), "failed to load url list")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	scheduler, bind, err := newScheduler(logger, registry)
	grace.SuccessRequired(logger, err, "failed to create scheduler")

	api := imago.NewService(dbstore.NewDbStore(db), scheduler,
		imago.WithTokenIssuer(imago.NewTokenIssuer(secret)),
		imago.WithJobTimeout(appConfig.JobTimeout),
		imago.WithLogger(log.With(logger, "component", "service")),
		imago.WithMetrics(registry),
	)
	bind(api)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Address, appConfig.Port),
		Handler:           apiRoutes(api, logger, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx := grace.SetupSignalHandler()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			level.Error(logger).Log("msg", "shutdown", "err", err)
		}
	}()

	level.Info(logger).Log("msg", "listening", "addr", server.Addr, "queue", appConfig.Queue)
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	if closeErr := scheduler.Close(); closeErr != nil {
		level.Error(logger).Log("msg", "failed to stop scheduler", "err", closeErr)
	}
	grace.ExitOrLog(logger, err)
}
