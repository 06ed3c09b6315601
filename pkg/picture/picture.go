// Package picture turns downloaded images into fixed size JPEG frames
package picture

import (
	"context"
	"fmt"
)

type Options struct {
	Width   int
	Height  int
	Enhance bool
}

func (o Options) Validate() error {
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", o.Width, o.Height)
	}
	return nil
}

// Transform decodes data and returns it as a JPEG of exactly the target size
func Transform(data []byte, options Options) ([]byte, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	frame := Fit(ToRGB(img), options.Width, options.Height)
	if options.Enhance {
		frame = Sharpen(frame)
	}

	return EncodeJPEG(frame)
}

// Process downloads the image at url and transforms it
func Process(ctx context.Context, fetcher *Fetcher, url string, options Options) ([]byte, error) {
	data, err := fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("error downloading image %s: %w", url, err)
	}

	result, err := Transform(data, options)
	if err != nil {
		return nil, fmt.Errorf("error processing image %s: %w", url, err)
	}

	return result, nil
}
