package loadpipe

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/datafuselabs/loadpipe/lib/loader"
)

// Batch hoards records until they are ready to be loaded.
type Batch struct {
	seq    int64
	data   bytes.Buffer
	ends   []int // end offset in data of each record
	nbytes int64 // input bytes, not payload bytes
	start  int64
	end    int64
}

func newBatch(seq int64) *Batch {
	return &Batch{seq: seq}
}

// add appends a payload that was read from input bytes [offset, offset+size).
func (b *Batch) add(payload []byte, offset int64, size int) {
	if len(b.ends) == 0 {
		b.start = offset
	}
	b.data.Write(payload)
	b.ends = append(b.ends, b.data.Len())
	b.nbytes += int64(size)
	b.end = offset + int64(size)
}

// full reports whether the batch reached the line count or exceeded the
// byte threshold. Zero disables a threshold.
func (b *Batch) full(maxLines int, maxBytes int64) bool {
	if maxLines > 0 && len(b.ends) >= maxLines {
		return true
	}
	if maxBytes > 0 && b.nbytes > maxBytes {
		return true
	}
	return false
}

func (b *Batch) Empty() bool {
	return len(b.ends) == 0
}

func (b *Batch) Seq() int64 {
	return b.seq
}

func (b *Batch) Lines() int {
	return len(b.ends)
}

func (b *Batch) Bytes() int64 {
	return b.nbytes
}

func (b *Batch) Range() (int64, int64) {
	return b.start, b.end
}

// Records returns the payloads in arrival order. The slices alias the batch
// buffer.
func (b *Batch) Records() [][]byte {
	records := make([][]byte, len(b.ends))
	buf := b.data.Bytes()
	prev := 0
	for i, end := range b.ends {
		records[i] = buf[prev:end:end]
		prev = end
	}
	return records
}

// Reader returns a fresh reader over the batch payload.
func (b *Batch) Reader() io.Reader {
	return bytes.NewReader(b.data.Bytes())
}

func (b *Batch) Info() BatchInfo {
	return BatchInfo{
		Seq:   b.seq,
		Lines: len(b.ends),
		Bytes: b.nbytes,
		Start: b.start,
		End:   b.end,
	}
}

func (b *Batch) String() string {
	return b.Info().String()
}

var _ loader.Batch = (*Batch)(nil)

// Counts is a (batches, bytes, lines) triple.
type Counts struct {
	Batches int64
	Bytes   int64
	Lines   int64
}

func (c *Counts) add(info BatchInfo) {
	c.Batches++
	c.Bytes += info.Bytes
	c.Lines += int64(info.Lines)
}

// Statistics summarizes what a Batcher has done since it was created.
type Statistics struct {
	Since   time.Time
	Created Counts
	Loaded  Counts
	Failed  Counts
	Skipped int64 // malformed lines dropped under the skip policy
}

type statsTracker struct {
	mu    sync.Mutex
	stats Statistics
}

func newStatsTracker() *statsTracker {
	return &statsTracker{stats: Statistics{Since: time.Now().UTC()}}
}

func (t *statsTracker) update(fn func(s *Statistics)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.stats)
}

func (t *statsTracker) snapshot() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

func logStatistics(s Statistics) {
	logger.Notef("=== Statistics since %s", s.Since.Format(time.RFC3339))
	logger.Notef("Created %d batches, %d bytes, %d total lines", s.Created.Batches, s.Created.Bytes, s.Created.Lines)
	logger.Notef("Loaded %d batches, %d bytes, %d total lines", s.Loaded.Batches, s.Loaded.Bytes, s.Loaded.Lines)
	logger.Notef("Failed %d batches, %d bytes, %d total lines", s.Failed.Batches, s.Failed.Bytes, s.Failed.Lines)
	logger.Notef("Skipped %d malformed lines", s.Skipped)
	logger.Notef("=== End statistics summary")
}
