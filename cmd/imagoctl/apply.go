package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/wyrd"
	"gopkg.in/yaml.v3"
)

var ErrNotApplicable = fmt.Errorf("resource can not be created from a manifest")

type ApplyCmd struct {
	Filename string `help:"Manifest file with resources to create on the API server, '-' for stdin" short:"f" name:"file" required:""`
}

func readContent(filename string) ([]byte, error) {
	if filename == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return content, fmt.Errorf("failed to read content from STDIN: %w", err)
		}

		return content, nil
	}

	return os.ReadFile(filename)
}

// readManifests decodes every document of a multi-document YAML (or JSON) stream
func readManifests(content []byte) ([]wyrd.ResourceManifest, error) {
	var result []wyrd.ResourceManifest

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	for {
		var manifest wyrd.ResourceManifest
		err := decoder.Decode(&manifest)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("manifest %d: %w", len(result)+1, err)
		}

		result = append(result, manifest)
	}

	return result, nil
}

func applyManifest(ctx context.Context, service imago.Service, manifest wyrd.ResourceManifest) (any, error) {
	switch spec := manifest.Spec.(type) {
	case *imago.SearchSpec:
		result, err := service.GetSearchAPI().Create(ctx, manifest.Metadata, *spec)
		return &result, err
	case *imago.BatchSpec:
		result, err := service.GetBatchAPI().Create(ctx, manifest.Metadata, *spec)
		return &result, err
	}

	return nil, fmt.Errorf("%w: kind %q", ErrNotApplicable, manifest.Kind)
}

func (c *ApplyCmd) Run(cfg *commandContext) error {
	content, err := readContent(c.Filename)
	if err != nil {
		return err
	}

	manifests, err := readManifests(content)
	if err != nil {
		return err
	}

	client, err := cfg.apiClient()
	if err != nil {
		return fmt.Errorf("failed to initialize API Client: %w", err)
	}

	for _, manifest := range manifests {
		ctx, cancel := context.WithTimeout(cfg.Context, cfg.ApiTimeout)
		created, err := applyManifest(ctx, client, manifest)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to apply %s %q: %w", manifest.Kind, manifest.Metadata.Name, err)
		}

		if err := cfg.OutputFormatter(cfg.Output, created); err != nil {
			return err
		}
	}

	return nil
}
