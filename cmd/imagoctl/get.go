package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/runner"
	"github.com/sre-norns/imago/pkg/wyrd"
)

type ListQuery struct {
	Selector string `short:"l" help:"Label selector to filter resources with, e.g. 'batch.aspect=portrait'"`
	Offset   uint   `help:"Number of resources to skip"`
	Limit    uint   `help:"Maximum number of resources to list"`
}

func (q ListQuery) searchQuery() imago.SearchQuery {
	return imago.SearchQuery{
		Selector:   q.Selector,
		Pagination: imago.Pagination{Offset: q.Offset, Limit: q.Limit},
	}
}

type GetSearchCmd struct {
	ID        wyrd.ResourceID `arg:"" optional:"" help:"ID of the search, all searches are listed if omitted"`
	ListQuery `embed:""`
}

func (c *GetSearchCmd) Run(cfg *commandContext) error {
	if c.ID == wyrd.InvalidResourceID {
		return listWith(cfg, func(ctx context.Context, client *imago.RestApiClient) (any, error) {
			return client.GetSearchAPI().List(ctx, c.searchQuery())
		})
	}

	return getWith(cfg, "search", c.ID, func(ctx context.Context, client *imago.RestApiClient) (any, bool, error) {
		result, ok, err := client.GetSearchAPI().Get(ctx, c.ID)
		return &result, ok, err
	})
}

type GetBatchCmd struct {
	ID        wyrd.ResourceID `arg:"" optional:"" help:"ID of the batch, all batches are listed if omitted"`
	ListQuery `embed:""`
}

func (c *GetBatchCmd) Run(cfg *commandContext) error {
	if c.ID == wyrd.InvalidResourceID {
		return listWith(cfg, func(ctx context.Context, client *imago.RestApiClient) (any, error) {
			return client.GetBatchAPI().List(ctx, c.searchQuery())
		})
	}

	return getWith(cfg, "batch", c.ID, func(ctx context.Context, client *imago.RestApiClient) (any, bool, error) {
		result, ok, err := client.GetBatchAPI().Get(ctx, c.ID)
		return &result, ok, err
	})
}

type GetArtifactCmd struct {
	ID        wyrd.ResourceID `arg:"" optional:"" help:"ID of the artifact, all artifacts are listed if omitted"`
	Content   string          `help:"Write content of the artifact into the given file, '-' for stdout"`
	ListQuery `embed:""`
}

func (c *GetArtifactCmd) Run(cfg *commandContext) error {
	if c.ID == wyrd.InvalidResourceID {
		return listWith(cfg, func(ctx context.Context, client *imago.RestApiClient) (any, error) {
			return client.GetArtifactsAPI().List(ctx, c.searchQuery())
		})
	}

	if c.Content == "" {
		return getWith(cfg, "artifact", c.ID, func(ctx context.Context, client *imago.RestApiClient) (any, bool, error) {
			result, ok, err := client.GetArtifactsAPI().Get(ctx, c.ID)
			return &result, ok, err
		})
	}

	ctx, cancel := context.WithTimeout(cfg.Context, cfg.ApiTimeout)
	defer cancel()

	client, err := cfg.apiClient()
	if err != nil {
		return err
	}

	content, ok, err := client.GetArtifactsAPI().GetContent(ctx, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("artifact %v: %w", c.ID, imago.ErrResourceNotFound)
	}

	return writeContent(c.Content, content)
}

type GetCmd struct {
	Search   GetSearchCmd   `cmd:"" aliases:"searches" help:"Get a search by ID or list searches"`
	Batch    GetBatchCmd    `cmd:"" aliases:"batches" help:"Get a batch by ID or list batches"`
	Artifact GetArtifactCmd `cmd:"" aliases:"artifacts" help:"Get an artifact by ID or list artifacts"`
}

type ProvidersCmd struct{}

func (c *ProvidersCmd) Run(cfg *commandContext) error {
	return listWith(cfg, func(ctx context.Context, client *imago.RestApiClient) (any, error) {
		return client.GetProvidersAPI().List(ctx)
	})
}

func listWith(cfg *commandContext, list func(ctx context.Context, client *imago.RestApiClient) (any, error)) error {
	ctx, cancel := context.WithTimeout(cfg.Context, cfg.ApiTimeout)
	defer cancel()

	client, err := cfg.apiClient()
	if err != nil {
		return err
	}

	results, err := list(ctx, client)
	if err != nil {
		return err
	}

	return cfg.OutputFormatter(cfg.Output, results)
}

func getWith(cfg *commandContext, kind string, id wyrd.ResourceID, get func(ctx context.Context, client *imago.RestApiClient) (any, bool, error)) error {
	ctx, cancel := context.WithTimeout(cfg.Context, cfg.ApiTimeout)
	defer cancel()

	client, err := cfg.apiClient()
	if err != nil {
		return err
	}

	result, ok, err := get(ctx, client)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s %v: %w", kind, id, imago.ErrResourceNotFound)
	}

	return cfg.OutputFormatter(cfg.Output, result)
}

// writeContent stores artifact content, decompressing it when needed
func writeContent(filename string, spec imago.ArtifactSpec) error {
	content, err := runner.DecodeContent(spec)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if filename != "-" {
		f, err := os.Create(filename)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(content)
	return err
}
