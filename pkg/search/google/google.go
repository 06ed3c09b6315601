package google

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sre-norns/imago/pkg/search"
	"golang.org/x/time/rate"
)

const (
	Name           = "google"
	DefaultBaseURL = "https://www.google.com"
)

type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration

	// Requests per second allowed towards the search engine
	RateLimit rate.Limit
}

func DefaultOptions() Options {
	return Options{
		BaseURL:   DefaultBaseURL,
		UserAgent: search.DefaultUserAgent,
		Timeout:   30 * time.Second,
		RateLimit: 1,
	}
}

// Provider scrapes the Google Images results page
type Provider struct {
	http *resty.Client
}

func New(options Options) *Provider {
	httpClient := resty.New()
	httpClient.SetBaseURL(options.BaseURL)
	httpClient.SetTimeout(options.Timeout)
	httpClient.SetHeader("User-Agent", options.UserAgent)
	httpClient.SetHeader("Accept-Language", "en-US,en;q=0.9")

	rateLimiter := rate.NewLimiter(options.RateLimit, 1)
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return rateLimiter.Wait(req.Context())
	})

	return &Provider{http: httpClient}
}

// SearchParams returns query parameters of the results page for the request
func SearchParams(request search.Request) map[string]string {
	params := map[string]string{
		"q":   request.Query,
		"tbm": "isch",
		"hl":  "en",
	}
	if request.Format != "" {
		params["tbs"] = "ift:" + strings.ToLower(request.Format)
	}

	return params
}

func (p *Provider) Search(ctx context.Context, request search.Request) (search.Result, error) {
	res, err := p.http.R().
		SetContext(ctx).
		SetQueryParams(SearchParams(request)).
		Get("/search")
	if err != nil {
		return search.Result{}, fmt.Errorf("fetch results page: %w", err)
	}

	if res.StatusCode() != http.StatusOK {
		return search.Result{}, fmt.Errorf("%w: status %v", search.ErrUnexpectedPage, res.Status())
	}

	urls, err := search.ExtractImageURLs(bytes.NewReader(res.Body()))
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

	// Ignore double registration error
	_ = search.Register(Name, search.Registration{
		Provider:    New(DefaultOptions()),
		Version:     moduleVersion,
		Description: "Google Images results page",
	})
}
