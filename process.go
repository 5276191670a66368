package loadpipe

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
)

// Command describes one invocation of an external program.
type Command struct {
	Path    string
	Args    []string
	Stdin   io.Reader
	Env     []string // appended to the current environment
	Timeout time.Duration
}

// Argv returns the command line for logging.
func (c *Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

// Result is what a finished process left behind. A non-zero ExitCode is not
// an error from the runner's point of view.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
}

// waitDelay bounds how long Run waits for the output pipes to close after
// the process has been killed.
const waitDelay = 3 * time.Second

// Runner runs external programs to completion.
type Runner interface {
	Run(ctx context.Context, cmd *Command) (*Result, error)
}

// ExecRunner runs programs with os/exec. Failures to start are retried
// Attempts times; a process that started is never run twice.
type ExecRunner struct {
	Attempts uint
	Delay    time.Duration
}

func NewExecRunner(cfg *Config) *ExecRunner {
	return &ExecRunner{
		Attempts: cfg.StartAttempts,
		Delay:    cfg.StartRetryDelay,
	}
}

func (r *ExecRunner) Run(ctx context.Context, cmd *Command) (*Result, error) {
	attempts := r.Attempts
	if attempts == 0 {
		attempts = 1
	}
	var result *Result
	err := retry.Do(
		func() error {
			var err error
			result, err = r.runOnce(ctx, cmd)
			return err
		},
		retry.RetryIf(func(err error) bool {
			if err == nil || ctx.Err() != nil {
				return false
			}
			return IsStartFailure(err)
		}),
		retry.OnRetry(func(n uint, err error) {
			// also called after the last attempt
			if n+1 < attempts {
				logger.Warn("retrying ", cmd.Path, " after start failure: ", err)
			}
		}),
		retry.Delay(r.Delay),
		retry.Attempts(attempts),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	return result, err
}

func (r *ExecRunner) runOnce(ctx context.Context, cmd *Command) (*Result, error) {
	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
	c.Stdin = cmd.Stdin
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = waitDelay
	killGroup(c)
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if err == nil {
		return result, nil
	}
	result.ExitCode = -1
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, errors.Wrapf(ErrProcessTimeout, "%s killed after %s", cmd.Path, cmd.Timeout)
		}
		return result, errors.Wrapf(ctxErr, "%s interrupted", cmd.Path)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return result, &StartError{Path: cmd.Path, Err: err}
}
