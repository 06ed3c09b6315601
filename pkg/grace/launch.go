package grace

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

var exit = os.Exit

// ExitOrLog terminates the process if err is anything but a normal shutdown
func ExitOrLog(logger log.Logger, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		level.Error(logger).Log("msg", "terminated", "err", err)
		exit(1)
	}
}

// SuccessRequired terminates the process with a message if err is not nil
func SuccessRequired(logger log.Logger, err error, msg string) {
	if err == nil {
		return
	}

	keyvals := []any{"msg", msg, "err", err}
	var actionable Error
	if errors.As(err, &actionable) {
		keyvals = append(keyvals, "expected", actionable.WhatExpected(), "todo", actionable.WhatToDo())
	}

	level.Error(logger).Log(keyvals...)
	exit(1)
}

// SetupSignalHandler returns a context that is canceled on SIGINT or SIGTERM.
// A second signal terminates the process immediately.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		exit(1)
	}()

	return ctx
}
