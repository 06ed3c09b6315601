// Package bark is a set of gin middlewares shared by imago API handlers
package bark

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sre-norns/imago/pkg/imago"
)

var (
	ErrUnsupportedMediaType = fmt.Errorf("unsupported content type request")
	ErrInvalidAuthHeader    = fmt.Errorf("invalid Authorization header")
	ErrWrongApiKind         = fmt.Errorf("invalid resource kind for the API")
)

const (
	responseMarshalKey = "responseMarshal"
	searchQueryKey     = "searchQuery"
	resourceIdKey      = "resourceId"
	versionedIdKey     = "versionedId"
	versionInfoKey     = "versionInfoKey"

	resourceManifestKey = "resourceManifestKey"

	authBearerKey = "Bearer"
)

const (
	MIMEYAML2 = "text/yaml"
	MIMEYAML3 = "application/yaml"
	MIMEYAML4 = "text/x-yaml"
)

func filterFlags(content string) string {
	for i, char := range content {
		if char == ' ' || char == ';' {
			return content[:i]
		}
	}
	return content
}

func selectAcceptedType(header http.Header) []string {
	accepts := header.Values("Accept")
	result := make([]string, 0, len(accepts))
	for _, a := range accepts {
		result = append(result, filterFlags(a))
	}

	return result
}

type responseHandler func(code int, obj any)

func replyWithAcceptedType(c *gin.Context) (responseHandler, error) {
	accepted := selectAcceptedType(c.Request.Header)
	if len(accepted) == 0 {
		return c.JSON, nil
	}

	for _, contentType := range accepted {
		switch contentType {
		case "", "*/*", "application/*", gin.MIMEJSON:
			return c.JSON, nil
		case gin.MIMEYAML, MIMEYAML2, MIMEYAML3, MIMEYAML4:
			return c.YAML, nil
		case gin.MIMEXML, gin.MIMEXML2:
			return c.XML, nil
		}
	}

	return nil, ErrUnsupportedMediaType
}

// ContentTypeApi selects response encoder based on the Accept header
func ContentTypeApi() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		marshalResponse, err := replyWithAcceptedType(ctx)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusNotAcceptable, imago.NewErrorResponse(http.StatusNotAcceptable, err))
			return
		}

		ctx.Set(responseMarshalKey, marshalResponse)
		ctx.Next()
	}
}

// MarshalResponse writes the value in the format negotiated by `ContentTypeApi`, JSON if there was no negotiation
func MarshalResponse(ctx *gin.Context, code int, responseValue any) {
	marshal, ok := ctx.Get(responseMarshalKey)
	if !ok {
		ctx.JSON(code, responseValue)
		return
	}

	marshal.(responseHandler)(code, responseValue)
}

func AbortWithError(ctx *gin.Context, code int, errValue error) {
	var apiError *imago.ErrorResponse
	if errors.As(errValue, &apiError) {
		ctx.AbortWithStatusJSON(apiError.Code, apiError)
		return
	}

	ctx.AbortWithStatusJSON(code, imago.NewErrorResponse(code, errValue))
}

// AbortWithServiceError picks response code by the kind of error returned by the service
func AbortWithServiceError(ctx *gin.Context, errValue error) {
	AbortWithError(ctx, imago.StatusCodeFor(errValue), errValue)
}
