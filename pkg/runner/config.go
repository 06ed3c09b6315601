package runner

import (
	"os"
	"os/exec"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/picture"
	"github.com/sre-norns/imago/pkg/wyrd"
	"golang.org/x/mod/semver"
	"golang.org/x/time/rate"
)

const (
	LabelOS   = "runner.os"
	LabelArch = "runner.arch"

	// Runtimes available:
	LabelChromiumVersion      = "runner.chromium.version"
	LabelChromiumVersionMajor = LabelChromiumVersion + ".major"

	// Well-known labels used by runners:
	LabelBuildVersion = "runner.version"
	LabelRunnerName   = "runner.name"
)

var chromiumBinaries = []string{"chromium", "chromium-browser", "google-chrome"}

type RunnerConfig struct {
	systemLabels wyrd.Labels `kong:"-"`
	CustomLabels wyrd.Labels `help:"Extra labels to identify this instance of the runner"`

	Name        string        `help:"Name of this runner instance, host name if empty" env:"IMAGO_WORKER_NAME"`
	Timeout     time.Duration `help:"Maximum duration allotted for each batch run, unless the job says otherwise" default:"5m"`
	Parallelism int           `help:"Number of images processed at the same time" default:"4"`

	DownloadTimeout   time.Duration `help:"Timeout of a single image download" default:"10s"`
	DownloadRateLimit float64       `help:"Maximum image downloads per second, 0 for no limit" default:"0"`
	MaxImageBytes     int64         `help:"Largest image accepted for processing" default:"33554432"`

	CaptureHar      bool `help:"Record image downloads into a HAR artifact" default:"true" negatable:""`
	CompressMetrics bool `help:"Store run metrics compressed with zstd" default:"true" negatable:""`

	ChromeBin string `help:"Path to the Chromium binary, used to report the browser version" env:"CHROME_BIN"`
}

// ParseChromiumVersion extracts version from output of `chromium --version`, such as "Chromium 124.0.6367.91 built on Debian"
func ParseChromiumVersion(output string) (version, major string, ok bool) {
	for _, field := range strings.Fields(output) {
		parts := strings.Split(field, ".")
		if len(parts) < 3 {
			continue
		}

		v := "v" + strings.Join(parts[:3], ".")
		if !semver.IsValid(v) {
			continue
		}

		return field, semver.Major(v)[1:], true
	}

	return "", "", false
}

func GetChromiumRuntimeLabels(bin string) wyrd.Labels {
	candidates := chromiumBinaries
	if bin != "" {
		candidates = []string{bin}
	}

	for _, candidate := range candidates {
		out, err := exec.Command(candidate, "--version").CombinedOutput()
		if err != nil {
			continue
		}

		version, major, ok := ParseChromiumVersion(string(out))
		if !ok {
			continue
		}

		return wyrd.Labels{
			LabelChromiumVersion:      version,
			LabelChromiumVersionMajor: major,
		}
	}

	return wyrd.Labels{}
}

func GetRuntimeLabels(logger log.Logger) wyrd.Labels {
	version := "devel"
	if bi, ok := debug.ReadBuildInfo(); ok {
		version = bi.Main.Version
	} else {
		level.Warn(logger).Log("msg", "failed to get build info")
	}

	return wyrd.Labels{
		LabelArch:         runtime.GOARCH,
		LabelOS:           runtime.GOOS,
		LabelBuildVersion: wyrd.SanitizeLabelValue(version),
	}
}

func (c *RunnerConfig) GetEffectiveLabels() wyrd.Labels {
	return wyrd.MergeLabels(
		c.systemLabels,
		wyrd.Labels{LabelRunnerName: c.GetName()},
		c.CustomLabels,
	)
}

func (c *RunnerConfig) GetName() string {
	if c.Name != "" {
		return c.Name
	}
	if host, err := os.Hostname(); err == nil {
		return wyrd.SanitizeLabelValue(host)
	}
	return "imago-runner"
}

// DetectRuntime fills in labels describing the host this runner runs on
func (c *RunnerConfig) DetectRuntime(logger log.Logger) {
	c.systemLabels = wyrd.MergeLabels(
		GetRuntimeLabels(logger),
		GetChromiumRuntimeLabels(c.ChromeBin),
	)
}

// RunOptions for batches executed by this runner
func (c *RunnerConfig) RunOptions(logger log.Logger) RunOptions {
	fetch := picture.DefaultFetchOptions()
	if c.DownloadTimeout > 0 {
		fetch.Timeout = c.DownloadTimeout
	}
	if c.DownloadRateLimit > 0 {
		fetch.RateLimit = rate.Limit(c.DownloadRateLimit)
	}
	if c.MaxImageBytes > 0 {
		fetch.MaxBytes = c.MaxImageBytes
	}

	compression := Identity
	if c.CompressMetrics {
		compression = Zstd
	}

	return RunOptions{
		Parallelism:  c.Parallelism,
		Timeout:      c.Timeout,
		Fetch:        fetch,
		CaptureHar:   c.CaptureHar,
		Metrics:      RegistryOptions{Compression: compression},
		WorkerLabels: wyrd.MergeLabels(c.GetEffectiveLabels(), wyrd.Labels{imago.LabelWorkerName: c.GetName()}),
		Logger:       logger,
	}
}

func NewDefaultConfig() RunnerConfig {
	return RunnerConfig{
		Timeout:         imago.DefaultJobTimeout,
		Parallelism:     DefaultParallelism,
		DownloadTimeout: picture.DefaultTimeout,
		MaxImageBytes:   picture.DefaultMaxBytes,
		CaptureHar:      true,
		CompressMetrics: true,
	}
}
