package runner

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/sre-norns/imago/pkg/imago"
)

type Compression string

const (
	Identity Compression = imago.EncodingIdentity
	Zstd     Compression = imago.EncodingZstd
)

type RegistryOptions struct {
	EnableOpenMetrics bool
	Compression       Compression
}

func encodingWriter(w io.Writer, compression Compression) (_ io.Writer, closeWriter func() error, _ error) {
	switch compression {
	case Zstd:
		z, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, nil, err
		}
		return z, z.Close, nil
	case Identity, "":
		// This means the content is not compressed.
		return w, func() error { return nil }, nil
	}

	return nil, nil, fmt.Errorf("content compression format not recognized: %s. Valid formats are: %s, %s", compression, Identity, Zstd)
}

// ToArtifact exports everything gathered by the registry in prometheus exposition format
func ToArtifact(registry *prometheus.Registry, opts RegistryOptions) (imago.ArtifactSpec, error) {
	mfs, err := registry.Gather()
	if err != nil {
		return imago.ArtifactSpec{}, err
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	if opts.EnableOpenMetrics {
		format = expfmt.NewFormat(expfmt.TypeOpenMetrics)
	}

	var buf bytes.Buffer
	w, closeWriter, err := encodingWriter(&buf, opts.Compression)
	if err != nil {
		return imago.ArtifactSpec{}, err
	}

	enc := expfmt.NewEncoder(w, format)
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return imago.ArtifactSpec{}, fmt.Errorf("failed to encode metrics family %q: %w", mf.GetName(), err)
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			return imago.ArtifactSpec{}, err
		}
	}
	if err := closeWriter(); err != nil {
		return imago.ArtifactSpec{}, err
	}

	encoding := string(opts.Compression)
	if encoding == "" {
		encoding = imago.EncodingIdentity
	}

	return imago.ArtifactSpec{
		Rel:      imago.RelMetrics,
		MimeType: string(format),
		Encoding: encoding,
		Content:  buf.Bytes(),
	}, nil
}

// DecodeContent reverses compression applied to an artifact content
func DecodeContent(spec imago.ArtifactSpec) ([]byte, error) {
	switch spec.Encoding {
	case imago.EncodingZstd:
		d, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return d.DecodeAll(spec.Content, nil)
	case imago.EncodingIdentity, "":
		return spec.Content, nil
	}

	return nil, fmt.Errorf("content compression format not recognized: %s", spec.Encoding)
}

type runMetrics struct {
	images   *prometheus.CounterVec
	duration prometheus.Histogram
	bytes    prometheus.Counter
}

func newRunMetrics(registry prometheus.Registerer) runMetrics {
	m := runMetrics{
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imago",
			Subsystem: "run",
			Name:      "images_total",
			Help:      "Images handled in this run by outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "imago",
			Subsystem: "run",
			Name:      "image_duration_seconds",
			Help:      "Time to download and process a single image",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "imago",
			Subsystem: "run",
			Name:      "output_bytes_total",
			Help:      "Size of produced JPEG images",
		}),
	}
	registry.MustRegister(m.images, m.duration, m.bytes)

	// Both series are present even when nothing failed
	m.images.WithLabelValues("success")
	m.images.WithLabelValues("failed")

	return m
}
