//go:build unix

package main

import (
	"context"
	"io"
	"log/syslog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	lp "github.com/datafuselabs/loadpipe"
)

// notifySignals maps SIGUSR1 to an immediate load, SIGUSR2 to a statistics
// summary, and SIGINT/SIGTERM to a drain-and-exit. A second SIGINT/SIGTERM
// during the drain exits at once.
func notifySignals(ctx context.Context, cancel context.CancelFunc, b *lp.Batcher) func() {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go handleSignals(sigs, done, cancel, b, os.Exit)
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func handleSignals(sigs <-chan os.Signal, done <-chan struct{}, cancel context.CancelFunc, b *lp.Batcher, exit func(int)) {
	interrupted := false
	for {
		select {
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				lp.GetLogger().Debugf("saw sigusr1")
				b.FlushNow()
			case syscall.SIGUSR2:
				b.LogStatistics()
			default:
				if interrupted {
					lp.GetLogger().Error("caught ", sig, " again while draining, exiting now")
					exit(exitFailure)
					return
				}
				interrupted = true
				lp.GetLogger().Notef("Caught %s, shutting down", sig)
				cancel()
			}
		case <-done:
			return
		}
	}
}

var facilities = map[string]syslog.Priority{
	"kern":   syslog.LOG_KERN,
	"user":   syslog.LOG_USER,
	"mail":   syslog.LOG_MAIL,
	"daemon": syslog.LOG_DAEMON,
	"auth":   syslog.LOG_AUTH,
	"lpr":    syslog.LOG_LPR,
	"news":   syslog.LOG_NEWS,
	"uucp":   syslog.LOG_UUCP,
	"cron":   syslog.LOG_CRON,
	"local0": syslog.LOG_LOCAL0,
	"local1": syslog.LOG_LOCAL1,
	"local2": syslog.LOG_LOCAL2,
	"local3": syslog.LOG_LOCAL3,
	"local4": syslog.LOG_LOCAL4,
	"local5": syslog.LOG_LOCAL5,
	"local6": syslog.LOG_LOCAL6,
	"local7": syslog.LOG_LOCAL7,
}

func syslogWriter(facility string) (io.Writer, error) {
	prio, ok := facilities[strings.ToLower(facility)]
	if !ok {
		return nil, errors.Wrapf(lp.ErrUsage, "unknown syslog facility %q", facility)
	}
	w, err := syslog.New(prio|syslog.LOG_NOTICE, "loadpipe")
	if err != nil {
		return nil, errors.Wrap(err, "connect to syslog")
	}
	return w, nil
}
