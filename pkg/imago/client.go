package imago

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sre-norns/imago/pkg/wyrd"
)

// ApiClientConfig is a kong configuration block for components talking to the API server
type ApiClientConfig struct {
	ApiServerAddress string        `help:"URL address of the API server" default:"http://localhost:8501/" env:"IMAGO_API_SERVER"`
	ApiTimeout       time.Duration `help:"Timeout of a single API request" default:"1m" env:"IMAGO_API_TIMEOUT"`
}

type RestApiClient struct {
	client *resty.Client
}

func NewRestApiClient(config ApiClientConfig) (*RestApiClient, error) {
	baseUrl, err := url.Parse(config.ApiServerAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid API server address %q: %w", config.ApiServerAddress, err)
	}
	if baseUrl.Scheme != "http" && baseUrl.Scheme != "https" {
		return nil, fmt.Errorf("invalid API server address %q: expected http(s) scheme", config.ApiServerAddress)
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(baseUrl.JoinPath("api", "v1").String(), "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(config.ApiTimeout)

	return &RestApiClient{
		client: client,
	}, nil
}

func (c *RestApiClient) GetSearchAPI() SearchApi {
	return &searchApiClient{c}
}

func (c *RestApiClient) GetBatchAPI() BatchApi {
	return &batchApiClient{c}
}

func (c *RestApiClient) GetArtifactsAPI() ArtifactApi {
	return &artifactApiClient{c}
}

func (c *RestApiClient) GetProvidersAPI() ProvidersApi {
	return &providersApiClient{c}
}

// Version of the API server
func (c *RestApiClient) Version(ctx context.Context) (string, error) {
	var result struct {
		Version string `json:"version"`
	}
	resp, err := c.client.R().SetContext(ctx).SetResult(&result).SetError(&ErrorResponse{}).Get("/version")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", readApiError(resp)
	}

	return result.Version, nil
}

func readApiError(resp *resty.Response) error {
	errorResponse, ok := resp.Error().(*ErrorResponse)
	if !ok || errorResponse == nil || errorResponse.Message == "" {
		// Failed to unmarshal error message, fallback to HTTP status code
		return &ErrorResponse{
			Code:    resp.StatusCode(),
			Message: resp.Status(),
		}
	}
	if errorResponse.Code == 0 {
		errorResponse.Code = resp.StatusCode()
	}

	return errorResponse
}

func searchToQuery(searchQuery SearchQuery) map[string]string {
	queryParams := map[string]string{}
	if searchQuery.Offset > 0 {
		queryParams["offset"] = strconv.FormatUint(uint64(searchQuery.Offset), 10)
	}
	if searchQuery.Limit > 0 {
		queryParams["limit"] = strconv.FormatUint(uint64(searchQuery.Limit), 10)
	}
	if len(searchQuery.Selector) > 0 {
		queryParams["labels"] = searchQuery.Selector
	}

	return queryParams
}

func listResources[T any](ctx context.Context, c *RestApiClient, uri string, searchQuery SearchQuery) ([]T, error) {
	var responseObject PaginatedResponse[T]
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(searchToQuery(searchQuery)).
		SetResult(&responseObject).
		SetError(&ErrorResponse{}).
		Get(uri)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, readApiError(resp)
	}

	return responseObject.Data, nil
}

func fetchResource[T any](ctx context.Context, c *RestApiClient, uri string) (result T, exists bool, err error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&result).
		SetError(&ErrorResponse{}).
		Get(uri)
	if err != nil {
		return result, false, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return result, false, nil
	}
	if resp.IsError() {
		return result, false, readApiError(resp)
	}

	return result, true, nil
}

func (c *RestApiClient) deleteResource(ctx context.Context, uri string, id wyrd.VersionedResourceId) (bool, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("version", id.Version.String()).
		SetHeader("If-Match", id.String()).
		SetError(&ErrorResponse{}).
		Delete(uri)
	if err != nil {
		return false, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.IsError() {
		return false, readApiError(resp)
	}

	return true, nil
}

func createResource[T any](ctx context.Context, c *RestApiClient, uri string, token ApiToken, manifest wyrd.ResourceManifest) (result T, err error) {
	request := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(manifest).
		SetResult(&result).
		SetError(&ErrorResponse{})
	if token != "" {
		request.SetAuthToken(string(token))
	}

	resp, err := request.Post(uri)
	if err != nil {
		return result, err
	}
	if resp.IsError() {
		return result, readApiError(resp)
	}

	return result, nil
}

// --------
// Searches API
// --------

type searchApiClient struct {
	*RestApiClient
}

func (c *searchApiClient) List(ctx context.Context, searchQuery SearchQuery) ([]Search, error) {
	return listResources[Search](ctx, c.RestApiClient, "/searches", searchQuery)
}

func (c *searchApiClient) Get(ctx context.Context, id wyrd.ResourceID) (Search, bool, error) {
	return fetchResource[Search](ctx, c.RestApiClient, fmt.Sprintf("/searches/%v", id))
}

func (c *searchApiClient) Create(ctx context.Context, meta wyrd.ObjectMeta, spec SearchSpec) (Search, error) {
	return createResource[Search](ctx, c.RestApiClient, "/searches", "", wyrd.ResourceManifest{
		TypeMeta: wyrd.TypeMeta{Kind: KindSearch},
		Metadata: meta,
		Spec:     &spec,
	})
}

func (c *searchApiClient) Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error) {
	return c.deleteResource(ctx, fmt.Sprintf("/searches/%v", id.ID), id)
}

// --------
// Batches API
// --------

type batchApiClient struct {
	*RestApiClient
}

func (c *batchApiClient) List(ctx context.Context, searchQuery SearchQuery) ([]Batch, error) {
	return listResources[Batch](ctx, c.RestApiClient, "/batches", searchQuery)
}

func (c *batchApiClient) Get(ctx context.Context, id wyrd.ResourceID) (Batch, bool, error) {
	return fetchResource[Batch](ctx, c.RestApiClient, fmt.Sprintf("/batches/%v", id))
}

func (c *batchApiClient) Create(ctx context.Context, meta wyrd.ObjectMeta, spec BatchSpec) (Batch, error) {
	return createResource[Batch](ctx, c.RestApiClient, "/batches", "", wyrd.ResourceManifest{
		TypeMeta: wyrd.TypeMeta{Kind: KindBatch},
		Metadata: meta,
		Spec:     &spec,
	})
}

func (c *batchApiClient) Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error) {
	return c.deleteResource(ctx, fmt.Sprintf("/batches/%v", id.ID), id)
}

func (c *batchApiClient) UpdateStatus(ctx context.Context, id wyrd.VersionedResourceId, token ApiToken, status BatchStatus) (CreatedResponse, error) {
	var result CreatedResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(string(token)).
		SetHeader("Content-Type", "application/json").
		SetHeader("If-Match", id.String()).
		SetQueryParam("version", id.Version.String()).
		SetBody(status).
		SetResult(&result).
		SetError(&ErrorResponse{}).
		Put(fmt.Sprintf("/batches/%v/status", id.ID))
	if err != nil {
		return result, err
	}
	if resp.IsError() {
		return result, readApiError(resp)
	}

	return result, nil
}

func (c *batchApiClient) GetArchive(ctx context.Context, id wyrd.ResourceID) (Artifact, bool, error) {
	batch, ok, err := c.Get(ctx, id)
	if err != nil || !ok {
		return Artifact{}, ok, err
	}
	if batch.Status.ArchiveID == wyrd.InvalidResourceID {
		return Artifact{}, false, nil
	}

	artifacts := artifactApiClient{c.RestApiClient}
	result, ok, err := artifacts.Get(ctx, batch.Status.ArchiveID)
	if err != nil || !ok {
		return result, ok, err
	}

	content, ok, err := artifacts.GetContent(ctx, batch.Status.ArchiveID)
	if err != nil || !ok {
		return result, ok, err
	}

	result.Spec.Content = content.Content
	result.Spec.Encoding = content.Encoding
	return result, true, nil
}

// --------
// Artifacts API
// --------

type artifactApiClient struct {
	*RestApiClient
}

func (c *artifactApiClient) List(ctx context.Context, searchQuery SearchQuery) ([]Artifact, error) {
	return listResources[Artifact](ctx, c.RestApiClient, "/artifacts", searchQuery)
}

func (c *artifactApiClient) Get(ctx context.Context, id wyrd.ResourceID) (Artifact, bool, error) {
	return fetchResource[Artifact](ctx, c.RestApiClient, fmt.Sprintf("/artifacts/%v", id))
}

func (c *artifactApiClient) Create(ctx context.Context, token ApiToken, meta wyrd.ObjectMeta, spec ArtifactSpec) (CreatedResponse, error) {
	return createResource[CreatedResponse](ctx, c.RestApiClient, "/artifacts", token, wyrd.ResourceManifest{
		TypeMeta: wyrd.TypeMeta{Kind: KindArtifact},
		Metadata: meta,
		Spec:     &spec,
	})
}

func (c *artifactApiClient) Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error) {
	return c.deleteResource(ctx, fmt.Sprintf("/artifacts/%v", id.ID), id)
}

// GetContent returns the content as stored, Encoding tells if it is compressed
func (c *artifactApiClient) GetContent(ctx context.Context, id wyrd.ResourceID) (ArtifactSpec, bool, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		SetHeader("Accept-Encoding", EncodingZstd).
		SetDoNotParseResponse(true).
		Get(fmt.Sprintf("/artifacts/%v/content", id))
	if err != nil {
		return ArtifactSpec{}, false, err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() == http.StatusNotFound {
		return ArtifactSpec{}, false, nil
	}
	if resp.IsError() {
		return ArtifactSpec{}, false, &ErrorResponse{Code: resp.StatusCode(), Message: resp.Status()}
	}

	content, err := io.ReadAll(body)
	if err != nil {
		return ArtifactSpec{}, false, err
	}

	encoding := resp.Header().Get("Content-Encoding")
	if encoding == "" {
		encoding = EncodingIdentity
	}

	return ArtifactSpec{
		MimeType: resp.Header().Get("Content-Type"),
		Encoding: encoding,
		Content:  content,
	}, true, nil
}

// --------
// Providers API
// --------

type providersApiClient struct {
	*RestApiClient
}

func (c *providersApiClient) List(ctx context.Context) ([]ProviderInfo, error) {
	return listResources[ProviderInfo](ctx, c.RestApiClient, "/providers", SearchQuery{})
}
