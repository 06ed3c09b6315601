package main

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sre-norns/imago/pkg/bark"
	"github.com/sre-norns/imago/pkg/bundle"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/runner"
	"github.com/sre-norns/imago/pkg/wyrd"
)

const paginationLimit = 512

func listHandler[T any](api imago.ReadableResourceApi[T]) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		searchQuery := bark.RequireSearchQuery(ctx)

		results, err := api.List(ctx.Request.Context(), searchQuery)
		if err != nil {
			bark.AbortWithServiceError(ctx, err)
			return
		}

		bark.MarshalResponse(ctx, http.StatusOK, imago.NewPaginatedResponse(results, searchQuery.Pagination))
	}
}

func getHandler[T any](api imago.ReadableResourceApi[T], view func(T) T) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		resourceId := bark.RequireResourceId(ctx)
		resource, exists, err := api.Get(ctx.Request.Context(), resourceId.ID)
		if err != nil {
			bark.AbortWithServiceError(ctx, err)
			return
		}

		if !exists {
			bark.AbortWithError(ctx, http.StatusNotFound, imago.ErrResourceNotFound)
			return
		}

		if view != nil {
			resource = view(resource)
		}
		bark.MarshalResponse(ctx, http.StatusOK, resource)
	}
}

type deleter interface {
	Delete(ctx context.Context, id wyrd.VersionedResourceId) (bool, error)
}

func deleteHandler(api deleter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		versionedId := bark.RequireVersionedResource(ctx)

		existed, err := api.Delete(ctx.Request.Context(), versionedId)
		if err != nil {
			bark.AbortWithServiceError(ctx, err)
			return
		}
		if !existed {
			bark.AbortWithError(ctx, http.StatusNotFound, imago.ErrResourceNotFound)
			return
		}

		ctx.Status(http.StatusNoContent)
	}
}

func specOf[T any](ctx *gin.Context, manifest wyrd.ResourceManifest) (T, bool) {
	spec, ok := manifest.Spec.(*T)
	if !ok || spec == nil {
		var empty T
		bark.AbortWithError(ctx, http.StatusBadRequest, fmt.Errorf("%w: %T", wyrd.ErrUnexpectedSpecType, manifest.Spec))
		return empty, false
	}

	return *spec, true
}

func acceptsEncoding(header http.Header, encoding string) bool {
	for _, value := range header.Values("Accept-Encoding") {
		for _, part := range strings.Split(value, ",") {
			if name, _, _ := strings.Cut(strings.TrimSpace(part), ";"); name == encoding || name == "*" {
				return true
			}
		}
	}
	return false
}

// writeContent sends artifact content as is, when the client understands its encoding, or decoded otherwise
func writeContent(ctx *gin.Context, spec imago.ArtifactSpec) {
	content := spec.Content
	if spec.Encoding != "" && spec.Encoding != imago.EncodingIdentity {
		if acceptsEncoding(ctx.Request.Header, spec.Encoding) {
			ctx.Header("Content-Encoding", spec.Encoding)
		} else {
			decoded, err := runner.DecodeContent(spec)
			if err != nil {
				bark.AbortWithError(ctx, http.StatusInternalServerError, err)
				return
			}
			content = decoded
		}
	}

	mimeType := spec.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	ctx.Data(http.StatusOK, mimeType, content)
}

func apiRoutes(srv imago.Service, logger log.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), bark.RequestLogger(logger))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("api/v1")
	{
		v1.GET("/version", func(ctx *gin.Context) {
			bi, ok := debug.ReadBuildInfo()
			if !ok {
				ctx.JSON(http.StatusOK, gin.H{
					"version": "unknown",
				})
				return
			}

			ctx.JSON(http.StatusOK, gin.H{
				"version":   bi.Main.Version,
				"goVersion": bi.GoVersion,
			})
		})

		v1.GET("/providers", bark.ContentTypeApi(), func(ctx *gin.Context) {
			results, err := srv.GetProvidersAPI().List(ctx.Request.Context())
			if err != nil {
				bark.AbortWithServiceError(ctx, err)
				return
			}

			bark.MarshalResponse(ctx, http.StatusOK, imago.NewPaginatedResponse(results, imago.Pagination{}))
		})

		//------------
		// Searches API
		//------------
		v1.GET("/searches", bark.SearchableApi(paginationLimit), bark.ContentTypeApi(), listHandler(srv.GetSearchAPI()))
		v1.POST("/searches", bark.ContentTypeApi(), bark.ManifestApi(imago.KindSearch), func(ctx *gin.Context) {
			manifest := bark.RequireManifest(ctx)
			spec, ok := specOf[imago.SearchSpec](ctx, manifest)
			if !ok {
				return
			}

			result, err := srv.GetSearchAPI().Create(ctx.Request.Context(), manifest.Metadata, spec)
			if err != nil {
				bark.AbortWithServiceError(ctx, err)
				return
			}

			ctx.Header("Location", fmt.Sprintf("%v/%v", ctx.Request.URL.Path, result.ID))
			bark.MarshalResponse(ctx, http.StatusCreated, result)
		})
		v1.GET("/searches/:id", bark.ContentTypeApi(), bark.ResourceIdApi(), getHandler(srv.GetSearchAPI(), nil))
		v1.DELETE("/searches/:id", bark.ResourceIdApi(), bark.VersionedResourceApi(), deleteHandler(srv.GetSearchAPI()))

		//------------
		// Batches API
		//------------
		v1.GET("/batches", bark.SearchableApi(paginationLimit), bark.ContentTypeApi(), listHandler(srv.GetBatchAPI()))
		v1.POST("/batches", bark.ContentTypeApi(), bark.ManifestApi(imago.KindBatch), func(ctx *gin.Context) {
			manifest := bark.RequireManifest(ctx)
			spec, ok := specOf[imago.BatchSpec](ctx, manifest)
			if !ok {
				return
			}

			result, err := srv.GetBatchAPI().Create(ctx.Request.Context(), manifest.Metadata, spec)
			if err != nil {
				bark.AbortWithServiceError(ctx, err)
				return
			}

			ctx.Header("Location", fmt.Sprintf("%v/%v", ctx.Request.URL.Path, result.ID))
			bark.MarshalResponse(ctx, http.StatusCreated, result)
		})
		v1.GET("/batches/:id", bark.ContentTypeApi(), bark.ResourceIdApi(), getHandler(srv.GetBatchAPI(), nil))
		v1.DELETE("/batches/:id", bark.ResourceIdApi(), bark.VersionedResourceApi(), deleteHandler(srv.GetBatchAPI()))

		v1.PUT("/batches/:id/status", bark.ContentTypeApi(), bark.AuthBearerApi(), bark.ResourceIdApi(), bark.VersionedResourceApi(), func(ctx *gin.Context) {
			versionedId := bark.RequireVersionedResource(ctx)
			token := bark.RequireAuthBearer(ctx)

			var status imago.BatchStatus
			if err := ctx.ShouldBind(&status); err != nil {
				bark.AbortWithError(ctx, http.StatusBadRequest, err)
				return
			}

			result, err := srv.GetBatchAPI().UpdateStatus(ctx.Request.Context(), versionedId, token, status)
			if err != nil {
				bark.AbortWithServiceError(ctx, err)
				return
			}

			bark.MarshalResponse(ctx, http.StatusOK, result)
		})

		v1.GET("/batches/:id/archive", bark.ResourceIdApi(), func(ctx *gin.Context) {
			resourceId := bark.RequireResourceId(ctx)
			archive, exists, err := srv.GetBatchAPI().GetArchive(ctx.Request.Context(), resourceId.ID)
			if err != nil {
				bark.AbortWithServiceError(ctx, err)
				return
			}
			if !exists {
				bark.AbortWithError(ctx, http.StatusNotFound, fmt.Errorf("%w: batch %v has no archive", imago.ErrResourceNotFound, resourceId.ID))
				return
			}

			ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", bundle.ArchiveName))
			writeContent(ctx, archive.Spec)
		})

		//------------
		// Artifacts API
		//------------
		v1.GET("/artifacts", bark.SearchableApi(paginationLimit), bark.ContentTypeApi(), listHandler(srv.GetArtifactsAPI()))
		v1.POST("/artifacts", bark.ContentTypeApi(), bark.AuthBearerApi(), bark.ManifestApi(imago.KindArtifact), func(ctx *gin.Context) {
			manifest := bark.RequireManifest(ctx)
			spec, ok := specOf[imago.ArtifactSpec](ctx, manifest)
			if !ok {
				return
			}

			result, err := srv.GetArtifactsAPI().Create(ctx.Request.Context(), bark.RequireAuthBearer(ctx), manifest.Metadata, spec)
			if err != nil {
				bark.AbortWithServiceError(ctx, err)
				return
			}

			ctx.Header("Location", fmt.Sprintf("%v/%v", ctx.Request.URL.Path, result.ID))
			bark.MarshalResponse(ctx, http.StatusCreated, result)
		})

		v1.GET("/artifacts/:id", bark.ContentTypeApi(), bark.ResourceIdApi(), getHandler(srv.GetArtifactsAPI(), func(a imago.Artifact) imago.Artifact {
			a.Spec.Content = nil
			return a
		}))
		v1.GET("/artifacts/:id/content", bark.ResourceIdApi(), func(ctx *gin.Context) {
			resourceId := bark.RequireResourceId(ctx)
			content, exists, err := srv.GetArtifactsAPI().GetContent(ctx.Request.Context(), resourceId.ID)
			if err != nil {
				bark.AbortWithServiceError(ctx, err)
				return
			}
			if !exists {
				bark.AbortWithError(ctx, http.StatusNotFound, imago.ErrResourceNotFound)
				return
			}

			writeContent(ctx, content)
		})
		v1.DELETE("/artifacts/:id", bark.ResourceIdApi(), bark.VersionedResourceApi(), deleteHandler(srv.GetArtifactsAPI()))
	}

	return router
}
