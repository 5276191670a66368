// Command loadpipe incrementally loads an array from stdin.
//
// It is meant to sit behind nc(1) so that lines of comma- or tab-separated
// values read from a socket are batched up and periodically inserted:
//
//	nc -d -k -l 8080 | loadpipe [flags] -- [loader options]
//
// A batch is loaded when it holds --batch-size lines, when it grows past
// --batch-bytes, or when it is --flush-interval old, whichever comes first.
// SIGUSR1 loads the current batch now, SIGUSR2 logs statistics, and
// SIGINT/SIGTERM load the current batch and exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	lp "github.com/datafuselabs/loadpipe"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	log.SetOutput(os.Stderr)
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 {
		switch args[0] {
		case "faves":
			return runFaves(args[1:], stdout, stderr)
		case "version", "--version", "-version":
			fmt.Fprintf(stdout, "loadpipe %s\n", lp.Version())
			return exitOK
		}
	}

	cfg, syslogFacility, err := parseLoadFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "loadpipe: %v\n", err)
		return exitUsage
	}
	if err := setupLogging(cfg.Verbosity, syslogFacility); err != nil {
		fmt.Fprintf(stderr, "loadpipe: %v\n", err)
		return exitUsage
	}

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), lp.RunIDKey, uuid.NewString()))
	defer cancel()

	runner := lp.NewExecRunner(cfg)
	if cfg.MinLoaderVersion != "" && !cfg.NoLoad {
		version, err := lp.CheckLoaderVersion(ctx, runner, cfg.LoaderVersionArgv(), cfg.MinLoaderVersion)
		if err != nil {
			log.Errorf("loader version check failed: %v", err)
			return exitFailure
		}
		lp.GetLogger().Info("loader version ", version)
	}

	batcher, err := lp.NewBatcher(cfg, lp.NewSink(cfg, runner))
	if err != nil {
		fmt.Fprintf(stderr, "loadpipe: %v\n", err)
		return exitUsage
	}
	stopSignals := notifySignals(ctx, cancel, batcher)
	defer stopSignals()

	lp.GetLogger().Info("info logging is enabled (verbosity=", cfg.Verbosity, ")")
	lp.GetLogger().Debugf("debug logging is enabled")

	err = batcher.Ingest(ctx, stdin)
	if closer, ok := stdin.(io.Closer); ok {
		_ = closer.Close()
	}
	if sinkErr, ok := lp.AsSinkError(err); ok {
		sinkErr.Report(stderr)
		return exitFailure
	}
	if err != nil {
		log.Errorf("loadpipe: %v", err)
		return exitFailure
	}
	return exitOK
}

// countFlag implements -v, -v -v, ... as well as --verbosity=N.
type countFlag int

func (c *countFlag) String() string {
	if c == nil {
		return "0"
	}
	return strconv.Itoa(int(*c))
}

func (c *countFlag) Set(s string) error {
	if s == "true" {
		*c++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*c = countFlag(n)
	return nil
}

func (c *countFlag) IsBoolFlag() bool { return true }

type loadOptions struct {
	configPath       string
	batchSize        int
	batchBytes       string
	flushInterval    time.Duration
	delimiter        string
	onMalformed      string
	expectedFields   int
	reencode         bool
	maxQueue         int
	sinkCommand      string
	inputFlag        string
	sinkTimeout      time.Duration
	startAttempts    uint
	tempDir          string
	noLoad           bool
	minLoaderVersion string
	versionCommand   string
	otel             bool
	syslog           string
	verbosity        countFlag
}

func parseLoadFlags(args []string, stderr io.Writer) (*lp.Config, string, error) {
	def := lp.NewConfig()
	var o loadOptions

	fs := flag.NewFlagSet("loadpipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: loadpipe [flags] [-- loader options...]\n")
		fmt.Fprintf(fs.Output(), "       loadpipe faves [flags] [name...]\n\n")
		fmt.Fprintf(fs.Output(), "Incrementally load an array from stdin.\n\nFlags:\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&o.configPath, "config", "", "TOML config file; flags given on the command line override it")
	fs.IntVar(&o.batchSize, "batch-size", def.BatchSize, "load whenever this many input lines have been batched (0 = no limit)")
	fs.StringVar(&o.batchBytes, "batch-bytes", def.BatchBytes.String(), "load when buffered data exceeds this size; suffixes like 64K, 10MiB, 2G are understood (0 = no limit)")
	fs.DurationVar(&o.flushInterval, "flush-interval", def.FlushInterval, "maximum time a non-empty batch waits before it is loaded")
	fs.StringVar(&o.delimiter, "delimiter", def.Delimiter, "input field delimiter: comma or tab")
	fs.StringVar(&o.onMalformed, "on-malformed-line", string(def.OnMalformedLine), "what to do with lines that cannot be parsed: skip or abort")
	fs.IntVar(&o.expectedFields, "expected-fields", def.ExpectedFields, "lines with a different field count are malformed (0 = no check)")
	fs.BoolVar(&o.reencode, "reencode", def.Reencode, "split lines on the delimiter and rewrite them as CSV")
	fs.IntVar(&o.maxQueue, "max-queue", def.MaxQueue, "batches allowed to wait for the loader; reading stops while the queue is full (0 = load inline)")
	fs.StringVar(&o.sinkCommand, "sink-command", strings.Join(def.SinkCommand, " "), "loader command line run once per batch")
	fs.StringVar(&o.inputFlag, "input-flag", def.InputFlag, "loader option that takes the batch file; empty sends the batch on stdin")
	fs.DurationVar(&o.sinkTimeout, "sink-timeout", def.SinkTimeout, "kill a loader that runs longer than this (0 = never)")
	fs.UintVar(&o.startAttempts, "start-attempts", def.StartAttempts, "times to try starting the loader before giving up")
	fs.StringVar(&o.tempDir, "temp-dir", def.TempDir, "directory for batch files (default is the system temp dir)")
	fs.BoolVar(&o.noLoad, "no-load", def.NoLoad, "do not actually call the loader; used for debugging")
	fs.StringVar(&o.minLoaderVersion, "min-loader-version", def.MinLoaderVersion, "refuse to start if the loader reports an older version")
	fs.StringVar(&o.versionCommand, "loader-version-command", "", "command that prints the loader version (default: first word of --sink-command plus --version)")
	fs.BoolVar(&o.otel, "otel", def.EnableOpenTelemetry, "emit an OpenTelemetry span per load")
	fs.StringVar(&o.syslog, "syslog", "", "log to syslog(3) with this facility (e.g. local0) instead of stderr")
	fs.Var(&o.verbosity, "v", "increase logging: 1=info, 2=debug")
	fs.Var(&o.verbosity, "verbosity", "set logging verbosity")

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	cfg := lp.NewConfig()
	if o.configPath != "" {
		if err := lp.LoadConfigFile(o.configPath, cfg); err != nil {
			return nil, "", err
		}
	}

	var applyErr error
	fs.Visit(func(f *flag.Flag) {
		if applyErr != nil {
			return
		}
		switch f.Name {
		case "batch-size":
			cfg.BatchSize = o.batchSize
		case "batch-bytes":
			applyErr = cfg.BatchBytes.UnmarshalText([]byte(o.batchBytes))
		case "flush-interval":
			cfg.FlushInterval = o.flushInterval
		case "delimiter":
			cfg.Delimiter = o.delimiter
		case "on-malformed-line":
			applyErr = cfg.OnMalformedLine.UnmarshalText([]byte(o.onMalformed))
		case "expected-fields":
			cfg.ExpectedFields = o.expectedFields
		case "reencode":
			cfg.Reencode = o.reencode
		case "max-queue":
			cfg.MaxQueue = o.maxQueue
		case "sink-command":
			cfg.SinkCommand = strings.Fields(o.sinkCommand)
		case "input-flag":
			cfg.InputFlag = o.inputFlag
		case "sink-timeout":
			cfg.SinkTimeout = o.sinkTimeout
		case "start-attempts":
			cfg.StartAttempts = o.startAttempts
		case "temp-dir":
			cfg.TempDir = o.tempDir
		case "no-load":
			cfg.NoLoad = o.noLoad
		case "min-loader-version":
			cfg.MinLoaderVersion = o.minLoaderVersion
		case "loader-version-command":
			cfg.LoaderVersionCommand = strings.Fields(o.versionCommand)
		case "otel":
			cfg.EnableOpenTelemetry = o.otel
		case "v", "verbosity":
			cfg.Verbosity = int(o.verbosity)
		}
	})
	if applyErr != nil {
		return nil, "", applyErr
	}

	if rest := fs.Args(); len(rest) > 0 {
		kept, dropped := lp.PreenLoaderArgs(rest, lp.DisallowedLoaderOptions)
		for _, arg := range dropped {
			log.Warnf("loader argument %q ignored", arg)
		}
		cfg.LoaderArgs = append(cfg.LoaderArgs, kept...)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, o.syslog, nil
}

func applyEnv(cfg *lp.Config) {
	if cfg.LoaderHost == "" {
		cfg.LoaderHost = os.Getenv(lp.EnvLoaderHost)
	}
	if cfg.LoaderPort == "" {
		cfg.LoaderPort = os.Getenv(lp.EnvLoaderPort)
	}
}

func setupLogging(verbosity int, syslogFacility string) error {
	l := lp.GetLogger()
	if err := l.SetLogLevel(lp.VerbosityLevel(verbosity)); err != nil {
		return err
	}
	if syslogFacility == "" {
		return nil
	}
	w, err := syslogWriter(syslogFacility)
	if err != nil {
		return err
	}
	l.SetOutput(w)
	return nil
}
