package loadpipe

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/datafuselabs/loadpipe/lib/loader"
)

// ExecSink loads each batch by running the external loader once.
type ExecSink struct {
	cfg    *Config
	runner Runner
}

func NewExecSink(cfg *Config, runner Runner) *ExecSink {
	return &ExecSink{cfg: cfg, runner: runner}
}

// Arguments builds the loader arguments for a batch stored at file. With an
// empty InputFlag the batch goes to the loader's stdin and file is unused.
func (s *ExecSink) Arguments(file string) []string {
	cfg := s.cfg
	args := make([]string, 0, len(cfg.SinkCommand)+len(cfg.LoaderArgs)+7)
	args = append(args, cfg.SinkCommand[1:]...)
	if cfg.InputFlag != "" {
		args = append(args, cfg.InputFlag, file)
	}
	args = append(args, cfg.LoaderArgs...)
	if cfg.LoaderHost != "" {
		args = append(args, "-d", cfg.LoaderHost)
	}
	if cfg.LoaderPort != "" {
		args = append(args, "-p", cfg.LoaderPort)
	}
	if cfg.Verbosity == 0 && !contains(args, "-q") {
		args = append(args, "-q")
	}
	return args
}

func (s *ExecSink) Load(ctx context.Context, batch loader.Batch) error {
	cmd := &Command{
		Path:    s.cfg.SinkCommand[0],
		Timeout: s.cfg.SinkTimeout,
	}
	if s.cfg.InputFlag == "" {
		cmd.Stdin = batch.Reader()
		cmd.Args = s.Arguments("")
	} else {
		batchFile, err := s.writeBatchFile(batch)
		if err != nil {
			return &SinkError{ExitCode: -1, Cause: errors.Wrap(err, "write batch file failed")}
		}
		defer func() {
			if err := os.RemoveAll(batchFile); err != nil {
				logger.Error("delete batch file failed: ", err)
			}
		}()
		cmd.Args = s.Arguments(batchFile)
	}

	ctxLogger := logger.WithContext(ctx)
	ctxLogger.Infoln("load:", strings.Join(cmd.Argv(), " "))
	result, err := s.runner.Run(ctx, cmd)
	if err != nil {
		sinkErr := &SinkError{Command: cmd.Argv(), ExitCode: -1, Cause: err}
		if result != nil {
			sinkErr.Stdout, sinkErr.Stderr = result.Stdout, result.Stderr
		}
		return sinkErr
	}
	if len(result.Stdout) > 0 {
		logger.Debugf("loader stdout: %s", strings.TrimSpace(string(result.Stdout)))
	}
	if result.ExitCode != 0 {
		return &SinkError{
			Command:  cmd.Argv(),
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			Cause:    errors.Wrapf(ErrSinkFailed, "exit status %d", result.ExitCode),
		}
	}
	ctxLogger.Infoln(fmt.Sprintf("loaded %d lines in %s", batch.Lines(), result.Duration))
	return nil
}

func (s *ExecSink) writeBatchFile(batch loader.Batch) (string, error) {
	dir := s.cfg.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	batchFile := filepath.Join(dir, fmt.Sprintf("loadpipe-%d-%s.csv", batch.Seq(), uuid.NewString()))
	f, err := os.OpenFile(batchFile, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(f, batch.Reader()); err != nil {
		_ = f.Close()
		_ = os.Remove(batchFile)
		return "", err
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(batchFile)
		return "", err
	}
	return batchFile, nil
}

// DryRunSink logs the loader command it would have run and reports success.
type DryRunSink struct {
	exec *ExecSink
}

func NewDryRunSink(cfg *Config) *DryRunSink {
	return &DryRunSink{exec: NewExecSink(cfg, nil)}
}

func (s *DryRunSink) Load(ctx context.Context, batch loader.Batch) error {
	argv := []string{"<loader>"}
	if len(s.exec.cfg.SinkCommand) > 0 {
		argv = append([]string{s.exec.cfg.SinkCommand[0]}, s.exec.Arguments("<batch-file>")...)
	}
	logger.WithContext(ctx).Infoln("load:", strings.Join(argv, " "))
	logger.Info("option --no-load in effect, all done")
	return nil
}

// NewSink picks the sink the config asks for.
func NewSink(cfg *Config, runner Runner) loader.Sink {
	if cfg.NoLoad {
		return NewDryRunSink(cfg)
	}
	return NewExecSink(cfg, runner)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var (
	_ loader.Sink = (*ExecSink)(nil)
	_ loader.Sink = (*DryRunSink)(nil)
)
