package bark

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sre-norns/imago/pkg/imago"
)

const DefaultPaginationLimit = 512

// SearchableApi binds pagination and label selector query params. Limit is clamped to maxLimit.
func SearchableApi(maxLimit uint) gin.HandlerFunc {
	if maxLimit == 0 {
		maxLimit = DefaultPaginationLimit
	}

	return func(ctx *gin.Context) {
		var searchQuery imago.SearchQuery
		if err := ctx.ShouldBindQuery(&searchQuery); err != nil {
			AbortWithError(ctx, http.StatusBadRequest, err)
			return
		}

		searchQuery.ClampLimit(maxLimit)
		ctx.Set(searchQueryKey, searchQuery)
		ctx.Next()
	}
}

func RequireSearchQuery(ctx *gin.Context) imago.SearchQuery {
	return ctx.MustGet(searchQueryKey).(imago.SearchQuery)
}

func ExtractAuthBearer(header http.Header) (imago.ApiToken, error) {
	authorization := header.Get("Authorization")
	if authorization == "" {
		return "", ErrInvalidAuthHeader
	}

	// Split it into two parts - "Bearer" and token
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidAuthHeader
	}

	return imago.ApiToken(strings.TrimSpace(parts[1])), nil
}

func AuthBearerApi() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		token, err := ExtractAuthBearer(ctx.Request.Header)
		if err != nil {
			AbortWithError(ctx, http.StatusUnauthorized, err)
			return
		}

		ctx.Set(authBearerKey, token)
		ctx.Next()
	}
}

func RequireAuthBearer(ctx *gin.Context) imago.ApiToken {
	return ctx.MustGet(authBearerKey).(imago.ApiToken)
}
