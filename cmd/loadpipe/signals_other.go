//go:build !unix

package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"

	lp "github.com/datafuselabs/loadpipe"
)

func notifySignals(ctx context.Context, cancel context.CancelFunc, b *lp.Batcher) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	done := make(chan struct{})
	go func() {
		interrupted := false
		for {
			select {
			case sig := <-sigs:
				if interrupted {
					lp.GetLogger().Error("caught ", sig, " again while draining, exiting now")
					os.Exit(exitFailure)
				}
				interrupted = true
				lp.GetLogger().Notef("Caught %s, shutting down", sig)
				cancel()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func syslogWriter(facility string) (io.Writer, error) {
	return nil, errors.Wrap(lp.ErrUsage, "syslog is not supported on this platform")
}
