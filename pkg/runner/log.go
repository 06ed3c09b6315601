package runner

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sre-norns/imago/pkg/imago"
)

// RunLog is a transcript of a batch run, turned into an artifact at the end.
// Every line is mirrored to the process logger.
type RunLog struct {
	mu      sync.Mutex
	content strings.Builder
	logger  log.Logger
	now     func() time.Time
}

func NewRunLog(logger log.Logger) *RunLog {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &RunLog{
		logger: logger,
		now:    time.Now,
	}
}

func (l *RunLog) Log(v ...any) {
	line := fmt.Sprint(v...)

	l.mu.Lock()
	fmt.Fprintf(&l.content, "%s %s\n", l.now().UTC().Format(time.RFC3339), line)
	l.mu.Unlock()

	level.Debug(l.logger).Log("msg", line)
}

func (l *RunLog) Logf(format string, v ...any) {
	l.Log(fmt.Sprintf(format, v...))
}

func (l *RunLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.content.String()
}

func (l *RunLog) ToArtifact() imago.ArtifactSpec {
	return imago.ArtifactSpec{
		Rel:      imago.RelLog,
		MimeType: "text/plain",
		Encoding: imago.EncodingIdentity,
		Content:  []byte(l.String()),
	}
}

func (l *RunLog) Package() []imago.ArtifactSpec {
	return []imago.ArtifactSpec{l.ToArtifact()}
}
