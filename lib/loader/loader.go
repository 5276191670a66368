package loader

import (
	"context"
	"io"
)

// Batch is the read-only view of a batch handed to a Sink.
type Batch interface {
	Seq() int64
	Lines() int
	Bytes() int64
	// Range is the [start, end) byte offset of the batch in the input stream.
	Range() (int64, int64)
	Records() [][]byte
	Reader() io.Reader
}

// Sink bulk-loads one batch. It either fully succeeds or fails as a unit.
type Sink interface {
	Load(ctx context.Context, batch Batch) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, batch Batch) error

func (f SinkFunc) Load(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}
