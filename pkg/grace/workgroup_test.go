package grace_test

import (
	"bytes"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/sre-norns/imago/pkg/grace"
	"github.com/stretchr/testify/require"
)

func TestWorkgroup_Limit(t *testing.T) {
	const limit = 3
	wg := grace.NewWorkgroup(limit)

	var running, peak int64
	for i := 0; i < 20; i++ {
		wg.Go(func() error {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			atomic.AddInt64(&running, -1)
			return nil
		})
	}

	require.NoError(t, wg.Wait())
	require.LessOrEqual(t, peak, int64(limit))
}

func TestWorkgroup_Errors(t *testing.T) {
	wg := grace.NewWorkgroup(0)
	errA := fmt.Errorf("a")

	wg.Go(func() error { return errA })
	wg.Go(func() error { return nil })

	err := wg.Wait()
	require.ErrorIs(t, err, errA)
}

func TestActionableError(t *testing.T) {
	err := grace.RaiseError("a token", "nothing", "pass --token")
	require.Equal(t, "expected: a token, got: nothing; What to do: pass --token", err.Error())
	require.Equal(t, "pass --token", err.WhatToDo())
}

func TestNewLogger(t *testing.T) {
	testCases := map[string]struct {
		level        string
		expectErr    bool
		expectDebug  bool
		expectInfo   bool
		expectErrors bool
	}{
		"default": {
			expectInfo:   true,
			expectErrors: true,
		},
		"debug": {
			level:        "debug",
			expectDebug:  true,
			expectInfo:   true,
			expectErrors: true,
		},
		"error": {
			level:        "error",
			expectErrors: true,
		},
		"unknown": {
			level:     "verbose",
			expectErr: true,
		},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := grace.NewLogger(&buf, test.level)
			if test.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			level.Debug(logger).Log("msg", "debug-line")
			level.Info(logger).Log("msg", "info-line")
			level.Error(logger).Log("msg", "error-line")

			out := buf.String()
			require.Equal(t, test.expectDebug, strings.Contains(out, "debug-line"))
			require.Equal(t, test.expectInfo, strings.Contains(out, "info-line"))
			require.Equal(t, test.expectErrors, strings.Contains(out, "error-line"))
			require.Contains(t, out, "caller=")
		})
	}
}
