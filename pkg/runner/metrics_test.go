package runner_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sre-norns/imago/pkg/imago"
	"github.com/sre-norns/imago/pkg/runner"
	"github.com/stretchr/testify/require"
)

func TestToArtifact(t *testing.T) {
	testCases := map[string]struct {
		options        runner.RegistryOptions
		expectEncoding string
		expectErr      bool
	}{
		"identity": {
			expectEncoding: imago.EncodingIdentity,
		},
		"zstd": {
			options:        runner.RegistryOptions{Compression: runner.Zstd},
			expectEncoding: imago.EncodingZstd,
		},
		"open-metrics": {
			options:        runner.RegistryOptions{EnableOpenMetrics: true},
			expectEncoding: imago.EncodingIdentity,
		},
		"unknown-compression": {
			options:   runner.RegistryOptions{Compression: "brotli"},
			expectErr: true,
		},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_images_total", Help: "test"})
			registry.MustRegister(counter)
			counter.Add(3)

			got, err := runner.ToArtifact(registry, test.options)
			if test.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, imago.RelMetrics, got.Rel)
			require.Equal(t, test.expectEncoding, got.Encoding)

			content, err := runner.DecodeContent(got)
			require.NoError(t, err)
			require.Contains(t, string(content), "test_images_total 3")
			if test.options.EnableOpenMetrics {
				require.True(t, strings.HasSuffix(strings.TrimSpace(string(content)), "# EOF"))
			}
		})
	}
}
