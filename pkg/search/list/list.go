package list

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sre-norns/imago/pkg/search"
)

const Name = "list"

// Provider returns a fixed list of image urls regardless of the query
type Provider struct {
	urls []string
}

func New(urls []string) *Provider {
	return &Provider{urls: urls}
}

// Read image urls one per line, blank lines and lines starting with # are skipped
func Read(r io.Reader) ([]string, error) {
	var result []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result = append(result, line)
	}

	return result, scanner.Err()
}

func FromFile(filename string) (*Provider, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	urls, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read url list %q: %w", filename, err)
	}

	return New(urls), nil
}

func (p *Provider) Search(ctx context.Context, request search.Request) (search.Result, error) {
	return search.NewResult(p.urls, request.Limit), ctx.Err()
}

// RegisterFile registers a provider serving the urls listed in filename under Name
func RegisterFile(filename string) error {
	provider, err := FromFile(filename)
	if err != nil {
		return err
	}

	moduleVersion := "devel"
	if bi, ok := debug.ReadBuildInfo(); ok {
		moduleVersion = strings.Trim(bi.Main.Version, "()")
	}

	return search.Register(Name, search.Registration{
		Provider:    provider,
		Version:     moduleVersion,
		Description: fmt.Sprintf("fixed list of %d image urls from %s", len(provider.urls), filename),
	})
}
