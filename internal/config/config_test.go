package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("test-host-abc", "/home/user/.local/share/csync")
	original.Metrics = MetricsConfig{Type: "pushgateway", URL: "http://localhost:9091", Timeout: "2s"}
	original.Filesystem.Exclude = []string{"20[0-9][0-9]", "**/*.tmp"}
	original.S3 = S3Config{Region: "eu-west-1", UsePathStyle: true}
	original.Tasks = []TaskConfig{
		{Name: "photos", Source: "/src/photos", Dest: "/mnt/backup/photos", Table: "photos", Exclude: []string{"cache"}},
		{Name: "docs", Source: "/src/docs", Dest: "s3://bucket/docs", Table: "docs", Overwrite: true},
	}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Workers != 4 {
		t.Errorf("Workers = %d, want 4", got.Workers)
	}
	if got.Metrics.URL != "http://localhost:9091" {
		t.Errorf("Metrics.URL = %q", got.Metrics.URL)
	}
	if len(got.Filesystem.Exclude) != 2 {
		t.Fatalf("len(Filesystem.Exclude) = %d, want 2", len(got.Filesystem.Exclude))
	}
	if !got.S3.UsePathStyle {
		t.Error("S3.UsePathStyle = false, want true")
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("len(Tasks) = %d, want 2", len(got.Tasks))
	}
	if got.Tasks[0].Exclude[0] != "cache" {
		t.Errorf("Tasks[0].Exclude = %v", got.Tasks[0].Exclude)
	}
	if !got.Tasks[1].Overwrite {
		t.Error("Tasks[1].Overwrite = false, want true")
	}
}

func TestManager_Read_TaskArray(t *testing.T) {
	input := `
host_id = "h"
workers = 2
fingerprint = "sha256"

[database]
type = "memory"

[[tasks]]
name = "music"
source = "/music"
dest = "/backup/music"
table = "music"
exclude = ["20[0-9][0-9]"]
`
	cfg, err := (&Manager{}).Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Workers != 2 || cfg.Fingerprint != "sha256" {
		t.Errorf("Workers=%d Fingerprint=%q", cfg.Workers, cfg.Fingerprint)
	}
	if len(cfg.Tasks) != 1 || cfg.Tasks[0].Table != "music" {
		t.Fatalf("Tasks = %+v", cfg.Tasks)
	}
	if cfg.Tasks[0].Overwrite {
		t.Error("Overwrite should default to false")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/csync")

	if cfg.LogDir != "/data/csync/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/csync/log")
	}
	if cfg.Database.DataDir != "/data/csync/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/csync/db")
	}
	if cfg.Fingerprint != "md5" {
		t.Errorf("Fingerprint = %q, want md5", cfg.Fingerprint)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	task := func(name, table string) TaskConfig {
		return TaskConfig{Name: name, Source: "/src/" + name, Dest: "/dst/" + name, Table: table}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid tasks", func(c *Config) { c.Tasks = []TaskConfig{task("a", "a"), task("b", "b")} }, ""},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"zero parallel", func(c *Config) { c.ParallelTasks = 0 }, "parallel_tasks"},
		{"unknown fingerprint", func(c *Config) { c.Fingerprint = "crc32" }, "fingerprint"},
		{"unknown database", func(c *Config) { c.Database.Type = "postgres" }, "database type"},
		{"pushgateway without url", func(c *Config) { c.Metrics.Type = "pushgateway" }, "url"},
		{"bad timeout", func(c *Config) { c.Metrics.Timeout = "soon" }, "timeout"},
		{"missing name", func(c *Config) { c.Tasks = []TaskConfig{task("", "a")} }, "name is required"},
		{"missing dest", func(c *Config) { c.Tasks = []TaskConfig{{Name: "a", Source: "/s", Table: "a"}} }, "source and dest"},
		{"bad table", func(c *Config) { c.Tasks = []TaskConfig{task("a", "bad table")} }, "invalid table"},
		{"duplicate name", func(c *Config) { c.Tasks = []TaskConfig{task("a", "a"), task("a", "b")} }, "duplicate task"},
		{"shared table", func(c *Config) { c.Tasks = []TaskConfig{task("a", "t"), task("b", "t")} }, "share table"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("h", "/base")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMetricsConfig_TimeoutDuration(t *testing.T) {
	d, err := MetricsConfig{}.TimeoutDuration()
	if err != nil || d != 5*time.Second {
		t.Errorf("default TimeoutDuration() = %v, %v", d, err)
	}
	d, err = MetricsConfig{Timeout: "250ms"}.TimeoutDuration()
	if err != nil || d != 250*time.Millisecond {
		t.Errorf("TimeoutDuration() = %v, %v", d, err)
	}
}

func TestConfig_FindTask(t *testing.T) {
	cfg := NewConfig("h", "/base")
	cfg.Tasks = []TaskConfig{{Name: "a"}, {Name: "b"}}

	if got := cfg.FindTask("b"); got == nil || got.Name != "b" {
		t.Errorf("FindTask(b) = %v", got)
	}
	if got := cfg.FindTask("zzz"); got != nil {
		t.Errorf("FindTask(zzz) = %v, want nil", got)
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "csync.toml")

		if err := Init(path, NewConfig("h1", dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "csync.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "csync.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want memory", got.Database.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/csync.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
