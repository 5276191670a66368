package loadpipe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strings"
	"sync"
	"time"
)

type contextKey string

// RunIDKey is context key of the id of one loadpipe process
const RunIDKey contextKey = "LOG_RUN_ID"

// BatchSeqKey is context key of the sequence number of the batch being flushed
const BatchSeqKey contextKey = "LOG_BATCH"

// LogKeys these keys in context should be included in logging messages when using logger.WithContext
var LogKeys = [...]contextKey{RunIDKey, BatchSeqKey}

// LevelNotice sits between info and warn. Startup banners and statistics
// summaries are logged at this level so they show up at the default verbosity.
const LevelNotice = slog.Level(2)

// ContextLogger represents a logger that already captured desired context.
type ContextLogger interface {
	Infoln(args ...interface{})
	Errorln(args ...interface{})
}

// Logger loadpipe logger interface backed by slog.
type Logger interface {
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Notef(format string, args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	SetLogLevel(level string) error
	SetOutput(output io.Writer)
	WithContext(ctx context.Context) ContextLogger
}

// CallerPrettyfier to provide base file name and function name from calling frame
func CallerPrettyfier(frame *runtime.Frame) (string, string) {
	return path.Base(frame.Function), fmt.Sprintf("%s:%d", path.Base(frame.File), frame.Line)
}

type defaultLogger struct {
	mu        sync.RWMutex
	levelVar  *slog.LevelVar
	handlerFn func(io.Writer) slog.Handler
	inner     *slog.Logger
	output    io.Writer
}

// CreateDefaultLogger return a new instance of logger with default config
func CreateDefaultLogger() Logger {
	levelVar := &slog.LevelVar{}
	levelVar.Set(LevelNotice)

	replaceAttr := func(groups []string, attr slog.Attr) slog.Attr {
		switch attr.Key {
		case slog.SourceKey:
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				frame := &runtime.Frame{
					Function: src.Function,
					File:     src.File,
					Line:     src.Line,
				}
				function, location := CallerPrettyfier(frame)
				attr.Value = slog.StringValue(strings.TrimSpace(function + " " + location))
			}
		case slog.LevelKey:
			if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl == LevelNotice {
				attr.Value = slog.StringValue("NOTICE")
			}
		}
		return attr
	}

	handlerFn := func(w io.Writer) slog.Handler {
		if w == nil {
			w = os.Stderr
		}
		return slog.NewTextHandler(w, &slog.HandlerOptions{
			AddSource:   true,
			Level:       levelVar,
			ReplaceAttr: replaceAttr,
		})
	}

	dLogger := &defaultLogger{
		levelVar:  levelVar,
		handlerFn: handlerFn,
		output:    os.Stderr,
	}
	dLogger.inner = slog.New(handlerFn(dLogger.output))
	return dLogger
}

func (log *defaultLogger) getLogger() *slog.Logger {
	log.mu.RLock()
	defer log.mu.RUnlock()
	return log.inner
}

// SetLogLevel set logging level for calling defaultLogger
func (log *defaultLogger) SetLogLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	log.levelVar.Set(lvl)
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		fallthrough
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "notice":
		return LevelNotice, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	case "crit", "fatal":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

// VerbosityLevel maps the -v count of the command line onto a level name.
func VerbosityLevel(verbosity int) string {
	switch {
	case verbosity <= 0:
		return "notice"
	case verbosity == 1:
		return "info"
	default:
		return "debug"
	}
}

// WithContext return a ContextLogger to include fields in context
func (log *defaultLogger) WithContext(ctx context.Context) ContextLogger {
	base := log.getLogger()
	attrs := context2Attrs(ctx)
	if len(attrs) > 0 {
		args := make([]interface{}, len(attrs))
		for i := range attrs {
			args[i] = attrs[i]
		}
		base = base.With(args...)
	}
	return &contextLogger{inner: base}
}

func (log *defaultLogger) Info(args ...interface{}) {
	logAt(log.getLogger(), slog.LevelInfo, fmt.Sprint(args...))
}

func (log *defaultLogger) Notef(format string, args ...interface{}) {
	logAt(log.getLogger(), LevelNotice, fmt.Sprintf(format, args...))
}

func (log *defaultLogger) Warn(args ...interface{}) {
	logAt(log.getLogger(), slog.LevelWarn, fmt.Sprint(args...))
}

func (log *defaultLogger) Error(args ...interface{}) {
	logAt(log.getLogger(), slog.LevelError, fmt.Sprint(args...))
}

func (log *defaultLogger) Debugf(format string, args ...interface{}) {
	logAt(log.getLogger(), slog.LevelDebug, fmt.Sprintf(format, args...))
}

// logAt logs msg with the source of whoever called the Logger method.
// It must be called directly from that method.
func logAt(l *slog.Logger, level slog.Level, msg string) {
	ctx := context.Background()
	if !l.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip Callers, logAt and the Logger method
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	_ = l.Handler().Handle(ctx, r)
}

func (log *defaultLogger) SetOutput(output io.Writer) {
	if output == nil {
		return
	}
	log.mu.Lock()
	log.output = output
	log.inner = slog.New(log.handlerFn(output))
	log.mu.Unlock()
}

// SetLogger set a new logger of Logger interface for loadpipe
func SetLogger(inLogger Logger) {
	if inLogger == nil {
		return
	}
	logger = inLogger
}

// GetLogger return logger that is not public
func GetLogger() Logger {
	return logger
}

func context2Attrs(ctx context.Context) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(LogKeys))
	if ctx == nil {
		return attrs
	}

	for i := 0; i < len(LogKeys); i++ {
		if ctx.Value(LogKeys[i]) != nil {
			attrs = append(attrs, slog.Any(string(LogKeys[i]), ctx.Value(LogKeys[i])))
		}
	}
	return attrs
}

type contextLogger struct {
	inner *slog.Logger
}

func (c *contextLogger) Infoln(args ...interface{}) {
	if c == nil || c.inner == nil {
		return
	}
	logAt(c.inner, slog.LevelInfo, formatLine(args...))
}

func (c *contextLogger) Errorln(args ...interface{}) {
	if c == nil || c.inner == nil {
		return
	}
	logAt(c.inner, slog.LevelError, formatLine(args...))
}

func formatLine(args ...interface{}) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}

var logger = CreateDefaultLogger()
