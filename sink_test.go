package loadpipe

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBatch() *Batch {
	b := newBatch(3)
	b.add([]byte("1,a\n"), 40, 4)
	b.add([]byte("2,b\n"), 44, 4)
	return b
}

func TestExecSinkArguments(t *testing.T) {
	cfg := NewConfig()
	cfg.SinkCommand = []string{"loadcsv", "-x"}
	cfg.LoaderArgs = []string{"-a", "trades", "-s", "<sym:string>[i=0:*]"}
	cfg.LoaderHost = "db1"
	cfg.LoaderPort = "1239"

	s := NewExecSink(cfg, &fakeRunner{})
	assert.Equal(t,
		[]string{"-x", "-i", "/tmp/b.csv", "-a", "trades", "-s", "<sym:string>[i=0:*]", "-d", "db1", "-p", "1239", "-q"},
		s.Arguments("/tmp/b.csv"))

	cfg.Verbosity = 1
	cfg.InputFlag = ""
	cfg.LoaderHost, cfg.LoaderPort = "", ""
	assert.Equal(t, []string{"-x", "-a", "trades", "-s", "<sym:string>[i=0:*]"}, s.Arguments(""))

	cfg.Verbosity = 0
	cfg.LoaderArgs = []string{"-q"}
	assert.Equal(t, []string{"-x", "-q"}, s.Arguments(""))
}

// fileRunner reads the batch file named after the input flag while the
// loader would be running.
type fileRunner struct {
	path    string
	content string
	result  *Result
}

func (r *fileRunner) Run(ctx context.Context, cmd *Command) (*Result, error) {
	for i, arg := range cmd.Args {
		if arg == "-i" && i+1 < len(cmd.Args) {
			r.path = cmd.Args[i+1]
			data, err := os.ReadFile(r.path)
			if err != nil {
				return nil, err
			}
			r.content = string(data)
		}
	}
	if r.result != nil {
		return r.result, nil
	}
	return &Result{}, nil
}

func TestExecSinkWritesAndRemovesBatchFile(t *testing.T) {
	cfg := NewConfig()
	cfg.TempDir = t.TempDir()
	runner := &fileRunner{}
	s := NewExecSink(cfg, runner)

	require.NoError(t, s.Load(context.Background(), sampleBatch()))
	assert.Equal(t, "1,a\n2,b\n", runner.content)
	assert.Equal(t, cfg.TempDir, filepath.Dir(runner.path))
	assert.True(t, strings.HasPrefix(filepath.Base(runner.path), "loadpipe-3-"))
	_, err := os.Stat(runner.path)
	assert.True(t, os.IsNotExist(err), "batch file should be removed")
}

func TestExecSinkRemovesBatchFileOnFailure(t *testing.T) {
	cfg := NewConfig()
	cfg.TempDir = t.TempDir()
	runner := &fileRunner{result: &Result{ExitCode: 3, Stderr: []byte("bad schema\nmore\n")}}
	s := NewExecSink(cfg, runner)

	err := s.Load(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSinkFailed))
	sinkErr, ok := AsSinkError(err)
	require.True(t, ok)
	assert.Equal(t, 3, sinkErr.ExitCode)
	assert.Equal(t, "loadcsv", sinkErr.Command[0])
	assert.Contains(t, err.Error(), "bad schema")

	_, statErr := os.Stat(runner.path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecSinkStdinMode(t *testing.T) {
	cfg := NewConfig()
	cfg.InputFlag = ""
	runner := &fakeRunner{}
	s := NewExecSink(cfg, runner)

	require.NoError(t, s.Load(context.Background(), sampleBatch()))
	require.Len(t, runner.commands, 1)
	assert.Equal(t, []string{"1,a\n2,b\n"}, runner.stdin)
	assert.NotContains(t, runner.commands[0].Args, "-i")
}

func TestExecSinkRunnerError(t *testing.T) {
	cfg := NewConfig()
	cfg.TempDir = t.TempDir()
	runner := &fakeRunner{err: &StartError{Path: "loadcsv", Err: exec.ErrNotFound}}
	s := NewExecSink(cfg, runner)

	err := s.Load(context.Background(), sampleBatch())
	sinkErr, ok := AsSinkError(err)
	require.True(t, ok)
	assert.Equal(t, -1, sinkErr.ExitCode)
	assert.True(t, IsStartFailure(err))
	assert.Contains(t, err.Error(), "start loadcsv")
}

func TestExecSinkRealProcess(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("no sh on this system")
	}
	cfg := NewConfig()
	cfg.TempDir = t.TempDir()
	cfg.InputFlag = ""
	cfg.Verbosity = 1
	cfg.SinkCommand = []string{sh, "-c", "cat >/dev/null; echo nope >&2; exit 4"}
	s := NewExecSink(cfg, NewExecRunner(cfg))

	err = s.Load(context.Background(), sampleBatch())
	sinkErr, ok := AsSinkError(err)
	require.True(t, ok)
	assert.Equal(t, 4, sinkErr.ExitCode)
	assert.Equal(t, "nope\n", string(sinkErr.Stderr))

	cfg.SinkCommand = []string{sh, "-c", "cat >/dev/null"}
	require.NoError(t, s.Load(context.Background(), sampleBatch()))
}

func TestNewSinkHonoursNoLoad(t *testing.T) {
	cfg := NewConfig()
	cfg.NoLoad = true
	runner := &fakeRunner{}
	sink := NewSink(cfg, runner)
	assert.IsType(t, &DryRunSink{}, sink)
	require.NoError(t, sink.Load(context.Background(), sampleBatch()))
	assert.Empty(t, runner.commands)

	cfg.NoLoad = false
	assert.IsType(t, &ExecSink{}, NewSink(cfg, runner))
}
