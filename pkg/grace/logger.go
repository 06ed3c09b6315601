package grace

import (
	"fmt"
	"io"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var LogLevels = []string{"debug", "info", "warn", "error"}

// NewLogger returns a logfmt logger with timestamp and caller, filtered by the given level name
func NewLogger(w io.Writer, levelName string) (log.Logger, error) {
	var option level.Option
	switch levelName {
	case "debug":
		option = level.AllowDebug()
	case "info", "":
		option = level.AllowInfo()
	case "warn":
		option = level.AllowWarn()
	case "error":
		option = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q, expected one of %v", levelName, LogLevels)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(w))
	logger = level.NewFilter(logger, option)
	return log.With(logger, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}
