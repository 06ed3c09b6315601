package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-kit/log/level"
	"github.com/sre-norns/imago/pkg/bundle"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/wyrd"
)

type ArchiveCmd struct {
	ID   wyrd.ResourceID `arg:"" help:"ID of the batch"`
	Out  string          `short:"o" help:"Path to write the archive to" default:"processed_images.zip"`
	List bool            `help:"Print names of the archive entries"`
}

func (c *ArchiveCmd) Run(cfg *commandContext) error {
	ctx, cancel := context.WithTimeout(cfg.Context, cfg.ApiTimeout)
	defer cancel()

	client, err := cfg.apiClient()
	if err != nil {
		return err
	}

	archive, ok, err := client.GetBatchAPI().GetArchive(ctx, c.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("archive of batch %v: %w", c.ID, imago.ErrResourceNotFound)
	}

	if err := writeContent(c.Out, archive.Spec); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}
	level.Info(cfg.Logger).Log("msg", "archive written", "batch", c.ID, "path", c.Out)

	if !c.List {
		return nil
	}

	content, err := os.ReadFile(c.Out)
	if err != nil {
		return err
	}
	names, err := bundle.List(content)
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(cfg.Output, name)
	}

	return nil
}
