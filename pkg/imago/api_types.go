package imago

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sre-norns/imago/pkg/wyrd"
)

var (
	ErrResourceNotFound  = fmt.Errorf("requested resource not found")
	ErrResourceSpecIsNil = fmt.Errorf("resource has no spec")
	ErrVersionConflict   = fmt.Errorf("resource version conflict")
	ErrBatchFinished     = fmt.Errorf("batch run has already finished")

	ErrEmptyQuery       = fmt.Errorf("search query is empty")
	ErrInvalidLimit     = fmt.Errorf("number of images must be between %d and %d", MinSearchLimit, MaxSearchLimit)
	ErrUnknownProvider  = fmt.Errorf("unknown search provider")
	ErrProviderFailed   = fmt.Errorf("error fetching images")
	ErrNoImages         = fmt.Errorf("select at least one image to process")
	ErrInvalidSelection = fmt.Errorf("invalid candidate selection")
	ErrInvalidImageURL  = fmt.Errorf("invalid image url")
	ErrUnknownAspect    = fmt.Errorf("unknown aspect ratio")
	ErrInvalidToken     = fmt.Errorf("invalid run token")
	ErrNoScheduler      = fmt.Errorf("no scheduler configured")
	ErrInvalidRunState  = fmt.Errorf("invalid batch state")
	ErrInvalidSelector  = fmt.Errorf("invalid label selector")
)

// Type to represent an API token
type ApiToken string

type (
	Pagination struct {
		Offset uint `uri:"offset" form:"offset" json:"offset" yaml:"offset" xml:"offset"`
		Limit  uint `uri:"limit" form:"limit" json:"limit" yaml:"limit" xml:"limit"`
	}

	SearchQuery struct {
		Pagination `uri:",inline" form:",inline" json:",inline" yaml:",inline"`

		// Label selector, such as `env=prod,tier!=cache`
		Selector string `uri:"labels" form:"labels" json:"labels,omitempty" yaml:"labels,omitempty" xml:"labels,omitempty"`
	}

	VersionQuery struct {
		Version wyrd.Version `uri:"version" form:"version" binding:"required"`
	}

	ResourceRequest struct {
		ID wyrd.ResourceID `uri:"id" form:"id" binding:"required"`
	}

	PaginatedResponse[T any] struct {
		Pagination `form:",inline" json:",inline" yaml:",inline"`

		Count int `form:"count" json:"count" yaml:"count" xml:"count"`
		Data  []T `form:"data" json:"data" yaml:"data" xml:"data"`
	}

	ErrorResponse struct {
		Code    int    `json:"code" yaml:"code" xml:"code"`
		Message string `json:"message" yaml:"message" xml:"message"`
	}

	CreatedResponse struct {
		// Gives us kind info
		wyrd.TypeMeta `json:",inline" yaml:",inline"`

		wyrd.VersionedResourceId `json:",inline" yaml:",inline"`
	}

	ProviderInfo struct {
		Name    string `form:"name" json:"name" yaml:"name" xml:"name"`
		Version string `form:"version" json:"version" yaml:"version" xml:"version"`
	}
)

func NewErrorResponse(statusCode int, err error) *ErrorResponse {
	return &ErrorResponse{
		Code:    statusCode,
		Message: err.Error(),
	}
}

func NewPaginatedResponse[T any](data []T, paginationInfo Pagination) PaginatedResponse[T] {
	return PaginatedResponse[T]{
		Pagination: paginationInfo,
		Count:      len(data),
		Data:       data,
	}
}

func (p *Pagination) ClampLimit(maxLimit uint) {
	if p.Limit > maxLimit || p.Limit == 0 {
		p.Limit = maxLimit
	}
}

// ErrorResponse implements error interface
func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%v %s", e.Code, e.Message)
}

// StatusCodeFor picks HTTP status code to report a service error with
func StatusCodeFor(err error) int {
	var apiError *ErrorResponse
	switch {
	case errors.As(err, &apiError):
		return apiError.Code
	case errors.Is(err, ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrVersionConflict), errors.Is(err, ErrBatchFinished):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrProviderFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrNoScheduler):
		return http.StatusServiceUnavailable
	case isRequestError(err):
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

var requestErrors = []error{
	ErrResourceSpecIsNil,
	ErrEmptyQuery,
	ErrInvalidLimit,
	ErrUnknownProvider,
	ErrNoImages,
	ErrInvalidSelection,
	ErrInvalidImageURL,
	ErrUnknownAspect,
	ErrInvalidRunState,
	ErrInvalidSelector,
	wyrd.ErrUnknownKind,
	wyrd.ErrUnexpectedSpecType,
}

func isRequestError(err error) bool {
	for _, target := range requestErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
