package browser

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/sre-norns/imago/pkg/search"
	"github.com/sre-norns/imago/pkg/search/google"
)

const (
	Name = "browser"

	// Environment variable with the path to the browser binary
	ChromeBinEnv = "CHROME_BIN"
)

type Options struct {
	// Path of the Chromium binary, auto-detected by chromedp if empty
	ExecPath  string
	Headless  bool
	NoSandbox bool

	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

func DefaultOptions() Options {
	return Options{
		ExecPath:  os.Getenv(ChromeBinEnv),
		Headless:  true,
		NoSandbox: true,
		BaseURL:   google.DefaultBaseURL,
		UserAgent: search.DefaultUserAgent,
		Timeout:   time.Minute,
	}
}

// Provider renders the results page in a headless browser, for pages that need scripts to run
type Provider struct {
	options Options
}

func New(options Options) *Provider {
	return &Provider{options: options}
}

func (p *Provider) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", p.options.Headless),
		chromedp.UserAgent(p.options.UserAgent),
	)
	if p.options.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if p.options.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.options.ExecPath))
	}

	return opts
}

func (p *Provider) resultsPageURL(request search.Request) string {
	query := url.Values{}
	for k, v := range google.SearchParams(request) {
		query.Set(k, v)
	}

	return strings.TrimSuffix(p.options.BaseURL, "/") + "/search?" + query.Encode()
}

func (p *Provider) Search(ctx context.Context, request search.Request) (search.Result, error) {
	if p.options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.options.Timeout)
		defer cancel()
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, p.allocatorOptions()...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	var page string
	err := chromedp.Run(browserCtx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": "en-US,en;q=0.9",
		}),
		chromedp.Navigate(p.resultsPageURL(request)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &page, chromedp.ByQuery),
	)
	if err != nil {
		return search.Result{}, fmt.Errorf("render results page: %w", err)
	}

	urls, err := search.ExtractImageURLs(strings.NewReader(page))
	if err != nil {
		return search.Result{}, err
	}

	return search.NewResult(urls, request.Limit), nil
}

func init() {
	moduleVersion := "devel"
	if bi, ok := debug.ReadBuildInfo(); ok {
		moduleVersion = strings.Trim(bi.Main.Version, "()")
	}

	_ = search.Register(Name, search.Registration{
		Provider:    New(DefaultOptions()),
		Version:     moduleVersion,
		Description: "Google Images rendered in headless Chromium",
	})
}
