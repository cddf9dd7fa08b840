package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.UTC)

	tests := []struct {
		name    string
		runID   string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "basic info message",
			runID:   "run-123",
			level:   slog.LevelInfo,
			message: "task completed",
			want:    "2024-06-15T14:30:45Z\tINFO\trun-123\ttask completed\n",
		},
		{
			name:    "file level",
			runID:   "run-456",
			level:   LevelFile,
			message: "synced",
			want:    "2024-06-15T14:30:45Z\tFILE\trun-456\tsynced\n",
		},
		{
			name:    "with record attrs",
			runID:   "run-789",
			level:   slog.LevelError,
			message: "transfer failed",
			attrs:   []slog.Attr{slog.String("path", "docs/file.txt"), slog.Int("size", 42)},
			want:    "2024-06-15T14:30:45Z\tERROR\trun-789\ttransfer failed\tpath=docs/file.txt\tsize=42\n",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newRunHandler(&buf, tt.runID)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestRunHandler_WithAttrs_doesNotMutateOriginal(t *testing.T) {
	var buf bytes.Buffer
	h := newRunHandler(&buf, "run-1")
	h.attrs = []slog.Attr{slog.String("a", "1")}

	h2 := h.WithAttrs([]slog.Attr{slog.String("task", "photos")}).(*runHandler)

	if len(h.attrs) != 1 {
		t.Errorf("original handler attrs modified: got %d, want 1", len(h.attrs))
	}
	if len(h2.attrs) != 2 {
		t.Errorf("new handler attrs: got %d, want 2", len(h2.attrs))
	}

	r := slog.NewRecord(time.Now(), slog.LevelInfo, "x", 0)
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\ttask=photos") {
		t.Errorf("expected pre-set attr, got %q", buf.String())
	}
}

func TestTaskHandler_Handle(t *testing.T) {
	ts := time.Date(2024, 6, 15, 14, 30, 45, 0, time.Local)

	tests := []struct {
		name    string
		level   slog.Level
		message string
		attrs   []slog.Attr
		want    string
	}{
		{
			name:    "plain",
			level:   slog.LevelInfo,
			message: "task started",
			want:    "[2024-06-15 14:30:45] [INFO] task started\n",
		},
		{
			name:    "file event",
			level:   LevelFile,
			message: "synced",
			attrs:   []slog.Attr{slog.String("path", "a.jpg"), slog.String("size", "1.2 kB")},
			want:    "[2024-06-15 14:30:45] [FILE] synced path=a.jpg size=1.2 kB\n",
		},
		{
			name:    "duration suffix",
			level:   slog.LevelInfo,
			message: "task completed",
			attrs:   []slog.Attr{slog.Int("transferred", 3), slog.Duration("duration", 1500*time.Millisecond)},
			want:    "[2024-06-15 14:30:45] [INFO] task completed transferred=3 (Duration: 1.5s)\n",
		},
		{
			name:    "non-duration value under duration key stays inline",
			level:   slog.LevelError,
			message: "odd",
			attrs:   []slog.Attr{slog.String("duration", "n/a")},
			want:    "[2024-06-15 14:30:45] [ERROR] odd duration=n/a\n",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newTaskHandler(&buf)

			r := slog.NewRecord(ts, tt.level, tt.message, 0)
			r.AddAttrs(tt.attrs...)

			if err := h.Handle(context.Background(), r); err != nil {
				t.Fatalf("Handle() error = %v", err)
			}
			if got := buf.String(); got != tt.want {
				t.Errorf("Handle() output =\n%q\nwant:\n%q", got, tt.want)
			}
		})
	}
}

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	quiet := slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(newMultiHandler(newRunHandler(&a, "r"), quiet))

	logger.Info("hello")
	logger.Warn("careful")

	if strings.Count(a.String(), "\n") != 2 {
		t.Errorf("run handler got %q, want 2 lines", a.String())
	}
	if strings.Contains(b.String(), "hello") || !strings.Contains(b.String(), "careful") {
		t.Errorf("level filtering broken: %q", b.String())
	}
}

func TestSlogAdapter_File(t *testing.T) {
	var buf bytes.Buffer
	a := &slogAdapter{l: slog.New(newTaskHandler(&buf))}

	a.File("synced", "path", "x")
	a.Debug("d")

	out := buf.String()
	if !strings.Contains(out, "[FILE] synced path=x") {
		t.Errorf("File() output = %q", out)
	}
	if !strings.Contains(out, "[DEBUG] d") {
		t.Errorf("Debug() output = %q", out)
	}
}

func TestNewConsoleHandler_LevelAndColor(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, false))

	logger.Debug("hidden")
	logger.Log(context.Background(), LevelFile, "synced")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug shown without verbose: %q", out)
	}
	if !strings.Contains(out, "synced") {
		t.Errorf("file event missing: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("color used for a non-terminal writer: %q", out)
	}

	buf.Reset()
	slog.New(newConsoleHandler(&buf, true)).Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("debug hidden with verbose: %q", buf.String())
	}
}

func TestLogSet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "log")
	var console bytes.Buffer

	logs, err := newLogSet(dir, "run-42", &console, false)
	if err != nil {
		t.Fatalf("newLogSet() error = %v", err)
	}

	logs.runLogger().Info("run started")
	photos := logs.taskLogger("photos")
	if logs.taskLogger("photos") != photos {
		t.Error("taskLogger() should return the same logger for a task")
	}
	photos.Info("task completed", "duration", 2*time.Second)
	logs.taskLogger("team/docs").File("synced", "path", "a.txt")

	if err := logs.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	runLog, _ := os.ReadFile(filepath.Join(dir, "csync.log"))
	if !strings.Contains(string(runLog), "\tINFO\trun-42\trun started") {
		t.Errorf("csync.log = %q", runLog)
	}
	taskLog, _ := os.ReadFile(filepath.Join(dir, "photos.log"))
	if !strings.Contains(string(taskLog), "[INFO] task completed (Duration: 2s)") {
		t.Errorf("photos.log = %q", taskLog)
	}
	docsLog, _ := os.ReadFile(filepath.Join(dir, "team_docs.log"))
	if !strings.Contains(string(docsLog), "[FILE] synced path=a.txt") {
		t.Errorf("team_docs.log = %q", docsLog)
	}
	if !strings.Contains(console.String(), "task=photos") {
		t.Errorf("console missing task attribute: %q", console.String())
	}
}
