package bark

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// RequestLogger logs every request once it is served. Server errors are logged at error level.
func RequestLogger(logger log.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		path := ctx.Request.URL.Path

		ctx.Next()

		status := ctx.Writer.Status()
		keyvals := []any{
			"msg", "request",
			"method", ctx.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start),
			"bytes", ctx.Writer.Size(),
			"client", ctx.ClientIP(),
		}
		if len(ctx.Errors) > 0 {
			keyvals = append(keyvals, "err", ctx.Errors.String())
		}

		switch {
		case status >= 500:
			level.Error(logger).Log(keyvals...)
		case status >= 400:
			level.Warn(logger).Log(keyvals...)
		default:
			level.Debug(logger).Log(keyvals...)
		}
	}
}
