package bark

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/wyrd"
)

// Monkey-patch GIN to respect other spelling of yaml mime-type
func bindingFor(method, contentType string) binding.Binding {
	switch contentType {
	case gin.MIMEYAML, MIMEYAML2, MIMEYAML3, MIMEYAML4:
		return binding.YAML
	case "", "*/*", gin.MIMEJSON:
		return binding.JSON
	default:
		return binding.Default(method, contentType)
	}
}

// ManifestApi binds request body as a resource manifest of the given kind.
// Used in conjunction with `RequireManifest`
func ManifestApi(kind wyrd.Kind) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		manifest := wyrd.ResourceManifest{
			TypeMeta: wyrd.TypeMeta{
				Kind: kind, // Assume correct kind for requests with min info
			},
		}
		if err := ctx.ShouldBindWith(&manifest, bindingFor(ctx.Request.Method, ctx.ContentType())); err != nil {
			AbortWithError(ctx, http.StatusBadRequest, err)
			return
		}

		if manifest.Kind == "" {
			manifest.Kind = kind
		} else if manifest.Kind != kind { // validate that API request is for correct manifest type:
			AbortWithError(ctx, http.StatusBadRequest, ErrWrongApiKind)
			return
		}

		ctx.Set(resourceManifestKey, manifest)
		ctx.Next()
	}
}

func RequireManifest(ctx *gin.Context) wyrd.ResourceManifest {
	return ctx.MustGet(resourceManifestKey).(wyrd.ResourceManifest)
}

// A filter/middleware to add support for resource ID requests
// Used in conjunction with `RequireResourceId`
func ResourceIdApi() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var resourceRequest imago.ResourceRequest
		if err := ctx.ShouldBindUri(&resourceRequest); err != nil {
			AbortWithError(ctx, http.StatusNotFound, err)
			return
		}

		ctx.Set(resourceIdKey, resourceRequest)
		ctx.Next()
	}
}

// Shortcut to get ID of the requested resource from the path
// Used in conjunction with `ResourceIdApi`
func RequireResourceId(ctx *gin.Context) imago.ResourceRequest {
	return ctx.MustGet(resourceIdKey).(imago.ResourceRequest)
}

// VersionedResourceApi requires `version` query param, combined with the resource ID if one was bound
func VersionedResourceApi() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		var versionInfo imago.VersionQuery
		if err := ctx.ShouldBindQuery(&versionInfo); err != nil {
			AbortWithError(ctx, http.StatusBadRequest, err)
			return
		}

		if resourceId, ok := ctx.Get(resourceIdKey); ok {
			ctx.Set(versionedIdKey, wyrd.NewVersionedId(resourceId.(imago.ResourceRequest).ID, versionInfo.Version))
		}

		ctx.Set(versionInfoKey, versionInfo)
		ctx.Next()
	}
}

func RequireVersionedResource(ctx *gin.Context) wyrd.VersionedResourceId {
	return ctx.MustGet(versionedIdKey).(wyrd.VersionedResourceId)
}

func RequireVersionedResourceQuery(ctx *gin.Context) imago.VersionQuery {
	return ctx.MustGet(versionInfoKey).(imago.VersionQuery)
}
