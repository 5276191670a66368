package loadpipe

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/datafuselabs/loadpipe/lib/loader"
)

// recordingSink keeps a copy of every batch it is given. The failAt-th call
// (1-based) fails instead.
type recordingSink struct {
	mu      sync.Mutex
	failAt  int
	calls   int
	batches [][]string
}

func (s *recordingSink) Load(ctx context.Context, batch loader.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failAt == s.calls {
		return errors.New("boom")
	}
	records := make([]string, 0, batch.Lines())
	for _, rec := range batch.Records() {
		records = append(records, string(rec))
	}
	s.batches = append(s.batches, records)
	return nil
}

func (s *recordingSink) loaded() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *recordingSink) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeRunner answers every Run with the same result and remembers commands.
type fakeRunner struct {
	mu       sync.Mutex
	result   *Result
	err      error
	commands []*Command
	stdin    []string
}

func (r *fakeRunner) Run(ctx context.Context, cmd *Command) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	if cmd.Stdin != nil {
		data, _ := io.ReadAll(cmd.Stdin)
		r.stdin = append(r.stdin, string(data))
	}
	if r.result == nil && r.err == nil {
		return &Result{}, nil
	}
	return r.result, r.err
}

// numbered returns n newline-terminated lines built from format.
func numbered(n int, format string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf(format, i) + "\n"
	}
	return out
}

func testConfig() *Config {
	cfg := NewConfig()
	cfg.BatchBytes = 0
	cfg.NoLoad = true
	return cfg
}
