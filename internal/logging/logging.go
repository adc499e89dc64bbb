// Package logging provides the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the application-wide logger configured with JSON output.
var Log = logrus.New()

type contextHook struct{}

func (contextHook) Levels() []logrus.Level { return logrus.AllLevels }

func packageFromFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if i := strings.Index(fn, "."); i >= 0 {
		return fn[:i]
	}
	return fn
}

// Fire reads the caller frame logrus itself collected via SetReportCaller,
// rather than hand-counting stack depth with runtime.Caller — the latter
// breaks the moment a call site gains or loses a wrapper.
func (contextHook) Fire(e *logrus.Entry) error {
	if e.Caller == nil {
		return nil
	}
	e.Data["pkg"] = packageFromFunc(e.Caller.Function)
	e.Data["line"] = e.Caller.Line
	return nil
}

// Init configures the logger's level and output destinations. logPath may be
// empty, in which case logs go only to stdout. Level strings follow logrus
// (debug, info, warn, error); unrecognized values fall back to info.
func Init(levelStr, logPath string) error {
	Log.SetReportCaller(true)
	Log.SetFormatter(&logrus.JSONFormatter{
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return f.Function, fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		},
	})
	Log.AddHook(contextHook{})

	level, err := logrus.ParseLevel(strings.ToLower(levelStr))
	if err != nil {
		level = logrus.InfoLevel
	}
	Log.SetLevel(level)

	if logPath == "" {
		Log.SetOutput(os.Stdout)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	Log.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// WithFields is a convenience re-export so callers don't need to import logrus directly.
func WithFields(fields map[string]any) *logrus.Entry {
	return Log.WithFields(logrus.Fields(fields))
}
