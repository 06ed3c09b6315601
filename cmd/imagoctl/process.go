package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kit/log/level"
	"github.com/sre-norns/imago/pkg/bundle"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/runner"
	"github.com/sre-norns/imago/pkg/search/list"
)

type ProcessCmd struct {
	URLs      []string          `arg:"" optional:"" name:"url" help:"Image URLs to process"`
	File      string            `short:"f" help:"File with image URLs, one per line, '-' for stdin"`
	Aspect    imago.AspectRatio `enum:"16:9,9:16" help:"Aspect ratio of processed images" default:"16:9"`
	NoEnhance bool              `help:"Do not sharpen processed images"`
	Out       string            `short:"o" help:"Path of the zip archive to write" default:"processed_images.zip" type:"path"`
	ImagesDir string            `help:"Also write processed images into this directory" type:"path"`
	Name      string            `help:"Name of the batch, used in logs" default:"local"`
}

func (c *ProcessCmd) images() ([]string, error) {
	urls := append([]string{}, c.URLs...)
	if c.File == "" {
		return urls, nil
	}

	content, err := readContent(c.File)
	if err != nil {
		return nil, err
	}

	fromFile, err := list.Read(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to read url list %q: %w", c.File, err)
	}

	return append(urls, fromFile...), nil
}

func (c *ProcessCmd) job() (imago.BatchJob, error) {
	urls, err := c.images()
	if err != nil {
		return imago.BatchJob{}, err
	}

	enhance := !c.NoEnhance
	spec := imago.BatchSpec{
		Images:  urls,
		Aspect:  c.Aspect,
		Enhance: &enhance,
	}
	if err := spec.Validate(); err != nil {
		return imago.BatchJob{}, err
	}

	width, height, err := spec.Aspect.Dimensions()
	if err != nil {
		return imago.BatchJob{}, err
	}

	return imago.BatchJob{
		Name:    c.Name,
		Images:  spec.Images,
		Width:   width,
		Height:  height,
		Enhance: spec.IsEnhanced(),
	}, nil
}

func writeImages(dir string, artifacts []imago.ArtifactSpec) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	n := 0
	for _, a := range artifacts {
		if a.Rel != imago.RelImage {
			continue
		}
		n++
		if err := os.WriteFile(filepath.Join(dir, bundle.EntryName(n)), a.Content, 0o644); err != nil {
			return n - 1, err
		}
	}

	return n, nil
}

func (c *ProcessCmd) Run(cfg *commandContext) error {
	job, err := c.job()
	if err != nil {
		return err
	}

	options := cfg.RunnerConfig.RunOptions(cfg.Logger)
	options.CaptureHar = false

	status, artifacts, err := runner.Play(cfg.Context, job, options)
	if err != nil {
		level.Warn(cfg.Logger).Log("msg", "batch run finished with errors", "err", err)
	}

	for _, a := range artifacts {
		switch a.Rel {
		case imago.RelArchive:
			if err := os.WriteFile(c.Out, a.Content, 0o644); err != nil {
				return fmt.Errorf("failed to write archive: %w", err)
			}
			level.Info(cfg.Logger).Log("msg", "archive written", "path", c.Out, "bytes", len(a.Content))
		case imago.RelLog:
			level.Debug(cfg.Logger).Log("msg", "run log", "log", string(a.Content))
		}
	}

	if c.ImagesDir != "" {
		n, err := writeImages(c.ImagesDir, artifacts)
		if err != nil {
			return fmt.Errorf("failed to write images: %w", err)
		}
		level.Info(cfg.Logger).Log("msg", "images written", "dir", c.ImagesDir, "count", n)
	}

	if err := cfg.OutputFormatter(cfg.Output, &status); err != nil {
		return err
	}

	if status.State != imago.RunFinishedSuccess {
		return fmt.Errorf("batch %s: %s", status.State, status.Message)
	}
	return nil
}
