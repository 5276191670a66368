package loadpipe

import (
	"bufio"
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/datafuselabs/loadpipe/lib/loader"
)

const tracerName = "github.com/datafuselabs/loadpipe"

// State is where a Batcher is in its life.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateFlushing
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAccumulating:
		return "ACCUMULATING"
	case StateFlushing:
		return "FLUSHING"
	case StateDraining:
		return "DRAINING"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Batcher reads records from a stream, groups them into batches and hands
// each batch to a Sink. Only one batch is ever being loaded at a time.
type Batcher struct {
	cfg      *Config
	sink     loader.Sink
	parser   *recordParser
	tracer   trace.Tracer
	stats    *statsTracker
	flushNow chan struct{}

	mu    sync.Mutex
	state State
}

func NewBatcher(cfg *Config, sink loader.Sink) (*Batcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		return nil, errors.Wrap(ErrUsage, "no sink")
	}
	parser, err := newRecordParser(cfg)
	if err != nil {
		return nil, err
	}
	var tracer trace.Tracer
	if cfg.EnableOpenTelemetry {
		tracer = otel.Tracer(tracerName, trace.WithInstrumentationVersion(version))
	} else {
		tracer = noop.NewTracerProvider().Tracer(tracerName)
	}
	return &Batcher{
		cfg:      cfg,
		sink:     sink,
		parser:   parser,
		tracer:   tracer,
		stats:    newStatsTracker(),
		flushNow: make(chan struct{}, 1),
	}, nil
}

func (b *Batcher) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Batcher) setState(s State) {
	b.mu.Lock()
	if b.state != s {
		logger.Debugf("state %s -> %s", b.state, s)
	}
	b.state = s
	b.mu.Unlock()
}

// FlushNow asks the ingest loop to post the current batch if it is not empty.
func (b *Batcher) FlushNow() {
	select {
	case b.flushNow <- struct{}{}:
	default:
	}
}

func (b *Batcher) Statistics() Statistics {
	return b.stats.snapshot()
}

// LogStatistics writes a statistics summary to the log.
func (b *Batcher) LogStatistics() {
	logStatistics(b.stats.snapshot())
}

type lineEvent struct {
	data []byte
	err  error
}

func readLines(ctx context.Context, r io.Reader, out chan<- lineEvent) {
	defer close(out)
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case out <- lineEvent{data: line}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				select {
				case out <- lineEvent{err: err}:
				case <-ctx.Done():
				}
			} else {
				logger.Debugf("eof on input")
			}
			return
		}
	}
}

// Ingest reads r until EOF, a cancelled ctx, or a failed load.
//
// EOF and cancellation post whatever is buffered and return nil. A failed
// load stops ingestion and returns a *SinkError holding the batch. Under the
// abort policy a malformed line returns an error wrapping ErrMalformedRecord
// after the records before it have been loaded.
func (b *Batcher) Ingest(ctx context.Context, r io.Reader) error {
	logger.Notef("Starting loadpipe, %s", b.cfg)
	readCtx, stopReading := context.WithCancel(context.Background())
	defer stopReading()
	lines := make(chan lineEvent)
	go readLines(readCtx, r, lines)

	// Loads keep running after ctx is cancelled so the final drain can finish.
	loadCtx := context.WithoutCancel(ctx)
	w := b.newWorker(loadCtx)
	defer w.stop()

	var (
		seq    int64 = 1
		offset int64
		lineNo int64
		batch  = newBatch(seq)
		timer  *time.Timer
		timerC <-chan time.Time
	)
	b.setState(StateIdle)

	disarm := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	defer disarm()

	post := func(reason string) error {
		disarm()
		logger.Debugf("post %s: %s", reason, batch)
		b.setState(StateFlushing)
		current := batch
		seq++
		batch = newBatch(seq)
		if err := w.post(current); err != nil {
			b.setState(StateTerminated)
			return err
		}
		b.setState(StateIdle)
		return nil
	}

	drain := func(reason string, cause error) error {
		b.setState(StateDraining)
		if !batch.Empty() {
			if err := post("final " + reason); err != nil {
				return err
			}
		}
		if err := w.finish(); err != nil {
			b.setState(StateTerminated)
			return err
		}
		b.setState(StateTerminated)
		logger.Notef("Farewell (%s)", reason)
		b.LogStatistics()
		return cause
	}

	for {
		select {
		case ev, ok := <-lines:
			if !ok {
				return drain("eof", nil)
			}
			if ev.err != nil {
				return drain("read error", errors.Wrap(ev.err, "read input"))
			}
			lineNo++
			size := len(ev.data)
			start := offset
			offset += int64(size)
			line := ev.data
			if line[len(line)-1] != '\n' {
				logger.Debugf("partial line at eof: %q", line)
				line = append(line, '\n')
			}
			payload, err := b.parser.parse(line)
			if err != nil {
				if b.cfg.OnMalformedLine == MalformedAbort {
					logger.Error("aborting on line ", lineNo, ": ", err)
					return drain("malformed line", errors.Wrapf(err, "line %d", lineNo))
				}
				logger.Warn("skipping line ", lineNo, ": ", err)
				b.stats.update(func(s *Statistics) { s.Skipped++ })
				continue
			}
			if batch.Empty() {
				b.setState(StateAccumulating)
				timer = time.NewTimer(b.cfg.FlushInterval)
				timerC = timer.C
			}
			batch.add(payload, start, size)
			b.stats.update(func(s *Statistics) {
				if batch.Lines() == 1 {
					s.Created.Batches++
				}
				s.Created.Bytes += int64(size)
				s.Created.Lines++
			})
			if batch.full(b.cfg.BatchSize, int64(b.cfg.BatchBytes)) {
				if err := post("full"); err != nil {
					return err
				}
			}
		case <-timerC:
			timer, timerC = nil, nil
			if !batch.Empty() {
				if err := post("on timeout"); err != nil {
					return err
				}
			}
		case <-b.flushNow:
			logger.Debugf("flush requested")
			if !batch.Empty() {
				if err := post("on request"); err != nil {
					return err
				}
			}
		case <-w.failed:
			b.setState(StateTerminated)
			return w.failure(batch)
		case <-ctx.Done():
			logger.Notef("Interrupted, shutting down: %v", ctx.Err())
			return drain("interrupted", nil)
		}
	}
}

// flush hands one batch to the sink and keeps the books.
func (b *Batcher) flush(ctx context.Context, batch *Batch) error {
	info := batch.Info()
	ctx = context.WithValue(ctx, BatchSeqKey, info.Seq)
	ctx, span := b.tracer.Start(ctx, "loadpipe.flush", trace.WithAttributes(
		attribute.Int64("loadpipe.batch.seq", info.Seq),
		attribute.Int("loadpipe.batch.lines", info.Lines),
		attribute.Int64("loadpipe.batch.bytes", info.Bytes),
	))
	defer span.End()

	err := b.sink.Load(ctx, batch)
	if err == nil {
		b.stats.update(func(s *Statistics) { s.Loaded.add(info) })
		return nil
	}

	b.stats.update(func(s *Statistics) { s.Failed.add(info) })
	span.RecordError(err)
	span.SetStatus(codes.Error, "load failed")

	sinkErr, ok := AsSinkError(err)
	if !ok {
		sinkErr = &SinkError{ExitCode: -1, Cause: err}
	}
	sinkErr.Batch = info
	sinkErr.Records = batch.Records()
	logger.WithContext(ctx).Errorln("problems with", batch, ":", sinkErr)
	return sinkErr
}

// worker runs flushes. With MaxQueue == 0 it runs them inline so ingestion
// pauses during a load; otherwise a single goroutine drains a queue of up to
// MaxQueue batches.
type worker struct {
	b      *Batcher
	ctx    context.Context
	queue  chan *Batch
	failed chan struct{}
	done   chan struct{}

	// set by the goroutine before failed is closed
	err     *SinkError
	pending []*Batch
	once    sync.Once
}

func (b *Batcher) newWorker(ctx context.Context) *worker {
	w := &worker{
		b:      b,
		ctx:    ctx,
		failed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	if b.cfg.MaxQueue == 0 {
		close(w.done)
		return w
	}
	w.queue = make(chan *Batch, b.cfg.MaxQueue)
	go w.run()
	return w
}

func (w *worker) run() {
	defer close(w.done)
	logger.Notef("loader worker running")
	for batch := range w.queue {
		if w.err != nil {
			w.pending = append(w.pending, batch)
			continue
		}
		if err := w.b.flush(w.ctx, batch); err != nil {
			w.err = err.(*SinkError)
			close(w.failed)
		}
	}
	logger.Notef("loader worker exiting")
}

func (w *worker) post(batch *Batch) error {
	if w.queue == nil {
		return w.b.flush(w.ctx, batch)
	}
	select {
	case w.queue <- batch:
		return nil
	case <-w.failed:
		return w.failure(batch)
	default:
	}
	logger.Debugf("blocked on full worker queue (len=%d)", cap(w.queue))
	select {
	case w.queue <- batch:
		logger.Debugf("unblocked, worker queue size %d", len(w.queue))
		return nil
	case <-w.failed:
		return w.failure(batch)
	}
}

// finish waits for queued batches and reports the first failure.
func (w *worker) finish() error {
	w.stop()
	<-w.done
	if w.err != nil {
		return w.failure(nil)
	}
	return nil
}

func (w *worker) stop() {
	w.once.Do(func() {
		if w.queue != nil {
			close(w.queue)
		}
	})
}

// failure waits for the worker to settle and returns its error with every
// record that will not be loaded attached as pending.
func (w *worker) failure(unposted *Batch) error {
	w.stop()
	<-w.done
	err := w.err
	for _, batch := range w.pending {
		err.Pending = append(err.Pending, batch.Records()...)
	}
	w.pending = nil
	if unposted != nil && !unposted.Empty() {
		err.Pending = append(err.Pending, unposted.Records()...)
	}
	return err
}
