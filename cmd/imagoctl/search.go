package main

import (
	"context"
	"fmt"

	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/search"
	"github.com/sre-norns/imago/pkg/search/list"
	"github.com/sre-norns/imago/pkg/wyrd"
)

type SearchCmd struct {
	Query    string      `arg:"" help:"Text to search images for"`
	Limit    int         `help:"Maximum number of images to return" default:"10"`
	Provider string      `help:"Name of the search provider to use" default:"google"`
	Format   string      `name:"image-format" help:"Preferred image file format" default:"jpg"`
	Name     string      `help:"Name of the search resource created on the server"`
	Labels   wyrd.Labels `help:"Labels of the search resource created on the server" short:"l"`
	Local    bool        `help:"Run the search in this process instead of the API server"`
	ListFile string      `help:"File with image urls, one per line, served by the local 'list' provider" env:"IMAGO_LIST_FILE"`
}

// searchLocally runs the provider in process and shapes results like the server does
func searchLocally(ctx context.Context, spec imago.SearchSpec) (imago.Search, error) {
	registration, ok := search.Find(spec.Provider)
	if !ok {
		return imago.Search{}, fmt.Errorf("%w: %q, known providers: %v", imago.ErrUnknownProvider, spec.Provider, search.List())
	}

	result, err := registration.Provider.Search(ctx, search.Request{
		Query:  spec.Query,
		Limit:  spec.Limit,
		Format: spec.Format,
	})
	if err != nil {
		return imago.Search{}, fmt.Errorf("%w: %v", imago.ErrProviderFailed, err)
	}

	found := imago.Search{
		Spec: spec,
		Status: imago.SearchStatus{
			State:           imago.SearchEmpty,
			Warnings:        result.Warnings,
			ProviderVersion: registration.Version,
		},
	}
	for i, u := range result.URLs {
		found.Status.Candidates = append(found.Status.Candidates, imago.Candidate{Position: i, URL: u})
	}
	if len(found.Status.Candidates) > 0 {
		found.Status.State = imago.SearchFound
	}

	return found, nil
}

func (c *SearchCmd) Run(cfg *commandContext) error {
	spec := imago.SearchSpec{
		Query:    c.Query,
		Limit:    c.Limit,
		Provider: c.Provider,
		Format:   c.Format,
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cfg.Context, cfg.ApiTimeout)
	defer cancel()

	if c.Local {
		if c.ListFile != "" {
			if err := list.RegisterFile(c.ListFile); err != nil {
				return err
			}
		}

		found, err := searchLocally(ctx, spec)
		if err != nil {
			return err
		}
		return cfg.OutputFormatter(cfg.Output, &found)
	}

	client, err := cfg.apiClient()
	if err != nil {
		return err
	}

	found, err := client.GetSearchAPI().Create(ctx, wyrd.ObjectMeta{Name: c.Name, Labels: c.Labels}, spec)
	if err != nil {
		return err
	}

	return cfg.OutputFormatter(cfg.Output, &found)
}
