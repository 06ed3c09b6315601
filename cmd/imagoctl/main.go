package main

import (
	"context"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/go-kit/log"
	"github.com/sre-norns/imago/pkg/grace"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/runner"

	_ "github.com/sre-norns/imago/pkg/search/browser"
	_ "github.com/sre-norns/imago/pkg/search/google"
)

type commandContext struct {
	*runner.RunnerConfig
	*imago.ApiClientConfig

	OutputFormatter formatter
	Output          io.Writer
	Context         context.Context
	Logger          log.Logger
}

func (c *commandContext) apiClient() (*imago.RestApiClient, error) {
	client, err := imago.NewRestApiClient(*c.ApiClientConfig)
	if err != nil {
		return nil, grace.RaiseError("http(s) URL of the API server", err.Error(), "set --client.api-server-address or IMAGO_API_SERVER")
	}
	return client, nil
}

type outputFormat string

func (f outputFormat) AfterApply(cfg *commandContext) (err error) {
	cfg.OutputFormatter, err = getFormatter(f)
	return err
}

type logLevel string

func (l logLevel) AfterApply(cfg *commandContext) (err error) {
	cfg.Logger, err = grace.NewLogger(os.Stderr, string(l))
	return err
}

var appCli struct {
	imago.ApiClientConfig `embed:"" prefix:"client."`
	runner.RunnerConfig   `embed:"" prefix:"runner."`

	Format   outputFormat `enum:"yaml,yml,json,table" help:"Data output format" default:"table"`
	LogLevel logLevel     `enum:"debug,info,warn,error" help:"Log level of diagnostic messages" default:"warn" env:"IMAGO_LOG_LEVEL"`

	Search    SearchCmd    `cmd:"" help:"Search images for a text query"`
	Process   ProcessCmd   `cmd:"" help:"Download and process images locally, writing a zip archive"`
	Get       GetCmd       `cmd:"" help:"Get and display managed resource(s) from the server"`
	Apply     ApplyCmd     `cmd:"" help:"Create resources from a manifest file on the server"`
	Archive   ArchiveCmd   `cmd:"" help:"Download the zip archive of a processed batch"`
	Providers ProvidersCmd `cmd:"" help:"List search providers"`
}

func main() {
	mainContext := grace.SetupSignalHandler()
	cfg := &commandContext{
		Context:         mainContext,
		OutputFormatter: tableFormatter,
		Output:          os.Stdout,
		Logger:          log.NewNopLogger(),
		RunnerConfig:    &appCli.RunnerConfig,
		ApiClientConfig: &appCli.ApiClientConfig,
	}
	appCli.RunnerConfig = runner.NewDefaultConfig()

	appCtx := kong.Parse(&appCli,
		kong.Name("imagoctl"),
		kong.Description("imago command line tool: search images, process them locally or through the API server"),
		kong.Bind(cfg),
	)

	appCtx.FatalIfErrorf(appCtx.Run(cfg))
}
