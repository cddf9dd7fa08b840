package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"csync/internal/csync"
)

// LevelFile sits between INFO and WARN. It carries one event per synced file.
const LevelFile = slog.Level(2)

func levelName(l slog.Level) string {
	if l == LevelFile {
		return "FILE"
	}
	return l.String()
}

// runHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<runID>\t<message>\t<key=value ...>
type runHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	runID string
	attrs []slog.Attr
}

func newRunHandler(w io.Writer, runID string) *runHandler {
	return &runHandler{mu: &sync.Mutex{}, w: w, runID: runID}
}

func (h *runHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *runHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	fmt.Fprintf(&buf, "%s\t%s\t%s\t%s", ts, levelName(r.Level), h.runID, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&buf, "\t%s=%v", a.Key, a.Value)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *runHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runHandler{
		mu:    h.mu,
		w:     h.w,
		runID: h.runID,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *runHandler) WithGroup(string) slog.Handler { return h }

// taskHandler writes a task's own log:
//
//	[<timestamp>] [<LEVEL>] <message> key=value ... (Duration: <d>)
//
// A "duration" attribute holding a time.Duration becomes the trailing suffix.
type taskHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	attrs []slog.Attr
}

func newTaskHandler(w io.Writer) *taskHandler {
	return &taskHandler{mu: &sync.Mutex{}, w: w}
}

func (h *taskHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *taskHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "[%s] [%s] %s", r.Time.Format("2006-01-02 15:04:05"), levelName(r.Level), r.Message)

	var duration string
	write := func(a slog.Attr) bool {
		if a.Key == "duration" && a.Value.Kind() == slog.KindDuration {
			duration = a.Value.Duration().Round(time.Millisecond).String()
			return true
		}
		fmt.Fprintf(&buf, " %s=%v", a.Key, a.Value)
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)
	if duration != "" {
		fmt.Fprintf(&buf, " (Duration: %s)", duration)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *taskHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &taskHandler{
		mu:    h.mu,
		w:     h.w,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *taskHandler) WithGroup(string) slog.Handler { return h }

// multiHandler forwards each record to every handler that accepts its level.
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) *multiHandler {
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if e := handler.Handle(ctx, r.Clone()); e != nil {
				err = e
			}
		}
	}
	return err
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return newMultiHandler(handlers...)
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return newMultiHandler(handlers...)
}

// newConsoleHandler returns a tint handler. Color is used only when w is a terminal.
func newConsoleHandler(w io.Writer, verbose bool) slog.Handler {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && len(groups) == 0 {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelFile {
					return slog.String(slog.LevelKey, "FIL")
				}
			}
			return a
		},
	})
}

// logSet owns the log files of one run: <log_dir>/csync.log for the run and
// <log_dir>/<task>.log per task, each mirrored to the console.
type logSet struct {
	dir     string
	console slog.Handler
	run     *slog.Logger

	mu    sync.Mutex
	files []*os.File
	tasks map[string]csync.Logger
}

// newLogSet opens the run log. Task logs are opened on first use.
func newLogSet(logDir, runID string, console io.Writer, verbose bool) (*logSet, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := openLogFile(filepath.Join(logDir, "csync.log"))
	if err != nil {
		return nil, err
	}

	ch := newConsoleHandler(console, verbose)
	return &logSet{
		dir:     logDir,
		console: ch,
		run:     slog.New(newMultiHandler(newRunHandler(f, runID), ch)),
		files:   []*os.File{f},
		tasks:   make(map[string]csync.Logger),
	}, nil
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// runLogger returns the logger for run-level events.
func (s *logSet) runLogger() csync.Logger {
	return &slogAdapter{l: s.run}
}

// taskLogger returns the logger for task name. When the task log cannot be
// opened the run logger is used instead.
func (s *logSet) taskLogger(name string) csync.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.tasks[name]; ok {
		return l
	}

	f, err := openLogFile(filepath.Join(s.dir, taskLogFileName(name)))
	if err != nil {
		s.run.Warn("task log unavailable", "task", name, "error", err)
		l := &slogAdapter{l: s.run.With("task", name)}
		s.tasks[name] = l
		return l
	}
	s.files = append(s.files, f)

	console := s.console.WithAttrs([]slog.Attr{slog.String("task", name)})
	l := &slogAdapter{l: slog.New(newMultiHandler(newTaskHandler(f), console))}
	s.tasks[name] = l
	return l
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

func taskLogFileName(name string) string {
	return fileNameReplacer.Replace(name) + ".log"
}

// Close closes every open log file.
func (s *logSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = nil
	return firstErr
}

// slogAdapter wraps *slog.Logger to satisfy the csync.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
func (a *slogAdapter) File(msg string, args ...any) {
	a.l.Log(context.Background(), LevelFile, msg, args...)
}

var _ csync.Logger = (*slogAdapter)(nil)
