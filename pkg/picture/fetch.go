package picture

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/martian/har"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultMaxBytes  = 32 << 20
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

var (
	ErrUnexpectedStatus = fmt.Errorf("unexpected response status")
	ErrTooLarge         = fmt.Errorf("image is too large")
)

// Transcript receives human readable notes about downloads
type Transcript interface {
	Log(v ...any)
	Logf(format string, v ...any)
}

type FetchOptions struct {
	Timeout   time.Duration
	MaxBytes  int64
	UserAgent string

	// Requests per second across all downloads of the fetcher, unlimited if zero
	RateLimit rate.Limit
	Burst     int

	// Records requests and responses when set
	Har *har.Logger

	Transcript Transcript
}

func DefaultFetchOptions() FetchOptions {
	return FetchOptions{
		Timeout:   DefaultTimeout,
		MaxBytes:  DefaultMaxBytes,
		UserAgent: DefaultUserAgent,
		RateLimit: rate.Inf,
	}
}

type Fetcher struct {
	client     *resty.Client
	maxBytes   int64
	transcript Transcript
}

// harTransport records every round trip into a HAR log
type harTransport struct {
	next   http.RoundTripper
	logger *har.Logger
	seq    atomic.Int64
}

func (t *harTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := strconv.FormatInt(t.seq.Add(1), 10)
	if err := t.logger.RecordRequest(id, req); err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}

	res, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := t.logger.RecordResponse(id, res); err != nil {
		res.Body.Close()
		return nil, fmt.Errorf("failed to record response: %w", err)
	}

	return res, nil
}

type nopTranscript struct{}

func (nopTranscript) Log(v ...any)                 {}
func (nopTranscript) Logf(format string, v ...any) {}

func NewFetcher(options FetchOptions) *Fetcher {
	if options.Timeout <= 0 {
		options.Timeout = DefaultTimeout
	}
	if options.MaxBytes <= 0 {
		options.MaxBytes = DefaultMaxBytes
	}
	if options.UserAgent == "" {
		options.UserAgent = DefaultUserAgent
	}
	if options.RateLimit == 0 {
		options.RateLimit = rate.Inf
	}
	if options.Burst <= 0 {
		options.Burst = 1
	}
	if options.Transcript == nil {
		options.Transcript = nopTranscript{}
	}

	var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	if options.Har != nil {
		transport = &harTransport{next: transport, logger: options.Har}
	}

	limiter := rate.NewLimiter(options.RateLimit, options.Burst)
	client := resty.NewWithClient(&http.Client{Transport: transport}).
		SetTimeout(options.Timeout).
		SetHeader("User-Agent", options.UserAgent).
		SetHeader("Accept", "image/avif,image/webp,image/png,image/jpeg,image/*;q=0.8,*/*;q=0.5").
		OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
			return limiter.Wait(req.Context())
		})

	return &Fetcher{
		client:     client,
		maxBytes:   options.MaxBytes,
		transcript: options.Transcript,
	}
}

// Fetch downloads the content at url. Non 2xx responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		EnableTrace().
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		f.transcript.Logf("GET %s: failed: %v", url, err)
		return nil, err
	}
	body := resp.RawBody()
	defer body.Close()

	trace := resp.Request.TraceInfo()
	f.transcript.Logf("GET %s: %s (dns=%v connect=%v tls=%v first-byte=%v)",
		url, resp.Status(), trace.DNSLookup, trace.TCPConnTime, trace.TLSHandshake, trace.ServerTime)

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status())
	}

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}

	f.transcript.Logf("GET %s: received %d bytes of %q", url, len(data), resp.Header().Get("Content-Type"))
	return data, nil
}
