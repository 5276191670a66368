// Copyright 2022 Datafuse Labs.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package loadpipe

import (
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// BatchInfo identifies a batch in log and error output.
type BatchInfo struct {
	Seq   int64
	Lines int
	Bytes int64
	Start int64
	End   int64
}

func (bi BatchInfo) String() string {
	return fmt.Sprintf("Batch(id=%d, bytes=%d, lines=%d, range=[%d,%d))", bi.Seq, bi.Bytes, bi.Lines, bi.Start, bi.End)
}

// SinkError is returned when a batch could not be loaded. It carries the
// batch verbatim so that the operator can recover it by hand.
type SinkError struct {
	Batch    BatchInfo
	Records  [][]byte
	Command  []string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Cause    error

	// Pending holds records that were accepted after the failing batch
	// and will never reach the sink.
	Pending [][]byte
}

func (e *SinkError) Error() string {
	message := fmt.Sprintf("load of %s failed", e.Batch)
	if e.Cause != nil && !errors.Is(e.Cause, ErrSinkFailed) {
		message += ": " + e.Cause.Error()
	} else if e.ExitCode != 0 {
		message += fmt.Sprintf(": loader exited with status %d", e.ExitCode)
	}
	if stderr := strings.TrimSpace(string(e.Stderr)); stderr != "" {
		if i := strings.IndexByte(stderr, '\n'); i >= 0 {
			stderr = stderr[:i]
		}
		message = strings.Trim(message, ".") + ". " + stderr
	}
	return message
}

func (e *SinkError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrSinkFailed) match every SinkError.
func (e *SinkError) Is(target error) bool {
	return target == ErrSinkFailed
}

// Report writes everything an operator needs to replay the failed batch.
func (e *SinkError) Report(w io.Writer) {
	fmt.Fprintf(w, "%s\n", e.Error())
	fmt.Fprintf(w, "failed batch %d: %d lines, bytes [%d,%d) of input\n", e.Batch.Seq, e.Batch.Lines, e.Batch.Start, e.Batch.End)
	if len(e.Command) > 0 {
		fmt.Fprintf(w, "loader command: %s\n", strings.Join(e.Command, " "))
	}
	if len(e.Stderr) > 0 {
		fmt.Fprintln(w, "--- begin loader stderr ---")
		writeTerminated(w, e.Stderr)
		fmt.Fprintln(w, "--- end loader stderr ---")
	}
	fmt.Fprintf(w, "--- begin bad batch %d ---\n", e.Batch.Seq)
	for _, rec := range e.Records {
		writeTerminated(w, rec)
	}
	fmt.Fprintln(w, "--- end bad batch ---")
	if len(e.Pending) > 0 {
		fmt.Fprintf(w, "--- begin %d pending lines (not loaded) ---\n", len(e.Pending))
		for _, rec := range e.Pending {
			writeTerminated(w, rec)
		}
		fmt.Fprintln(w, "--- end pending lines ---")
	}
}

func writeTerminated(w io.Writer, b []byte) {
	_, _ = w.Write(b)
	if len(b) == 0 || b[len(b)-1] != '\n' {
		_, _ = io.WriteString(w, "\n")
	}
}

// StartError means a process could not be started at all, so nothing it
// would have done has happened.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

func IsSinkFailure(err error) bool {
	var sinkErr *SinkError
	return errors.As(err, &sinkErr)
}

func IsStartFailure(err error) bool {
	var startErr *StartError
	return errors.As(err, &startErr)
}

func AsSinkError(err error) (*SinkError, bool) {
	var sinkErr *SinkError
	if errors.As(err, &sinkErr) {
		return sinkErr, true
	}
	return nil, false
}
