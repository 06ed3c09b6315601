package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultUserAgent is presented by providers that talk to search engines directly
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

const WarningNoImages = "no images found for the query"

var (
	ErrNilProvider    = fmt.Errorf("search provider is nil")
	ErrUnexpectedPage = fmt.Errorf("unexpected search results page")
)

// Request is a single image search
type Request struct {
	Query  string
	Limit  int
	Format string
}

// Result of an image search: ordered and de-duplicated image urls
type Result struct {
	URLs     []string
	Warnings []string
}

type Provider interface {
	Search(ctx context.Context, request Request) (Result, error)
}

// ProviderFunc adapts a function to the Provider interface
type ProviderFunc func(ctx context.Context, request Request) (Result, error)

func (f ProviderFunc) Search(ctx context.Context, request Request) (Result, error) {
	return f(ctx, request)
}

type Registration struct {
	Provider Provider

	// Sem-version of the provider module loaded
	Version string

	Description string
}

// Registrar of search providers
var (
	providersLock sync.RWMutex
	providers     = map[string]Registration{}
)

// Register a search provider under the given name, replacing existing registration
func Register(name string, registration Registration) error {
	if registration.Provider == nil {
		return ErrNilProvider
	}

	providersLock.Lock()
	defer providersLock.Unlock()
	providers[name] = registration
	return nil
}

func Unregister(name string) {
	providersLock.Lock()
	defer providersLock.Unlock()
	delete(providers, name)
}

func Find(name string) (Registration, bool) {
	providersLock.RLock()
	defer providersLock.RUnlock()
	result, ok := providers[name]
	return result, ok
}

// List names of all registered providers in lexical order
func List() []string {
	providersLock.RLock()
	defer providersLock.RUnlock()

	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// NewResult de-duplicates urls, keeps at most limit of them and warns if nothing was found
func NewResult(urls []string, limit int) Result {
	seen := make(map[string]struct{}, len(urls))
	result := Result{
		URLs: make([]string, 0, min(len(urls), max(limit, 0))),
	}

	for _, u := range urls {
		if limit > 0 && len(result.URLs) >= limit {
			break
		}
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		result.URLs = append(result.URLs, u)
	}

	if len(result.URLs) == 0 {
		result.Warnings = append(result.Warnings, WarningNoImages)
	}

	return result
}
