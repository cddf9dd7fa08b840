package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for csync.
type Config struct {
	HostID        string           `toml:"host_id"`
	BaseDir       string           `toml:"base_dir"`
	LogDir        string           `toml:"log_dir"`
	Workers       int              `toml:"workers"`        // per-task worker pool size
	ParallelTasks int              `toml:"parallel_tasks"` // tasks run at once; 1 is sequential
	Fingerprint   string           `toml:"fingerprint"`    // "md5" (default) or "sha256"
	Database      DatabaseConfig   `toml:"database"`
	Metrics       MetricsConfig    `toml:"metrics"`
	Filesystem    FilesystemConfig `toml:"filesystem"`
	S3            S3Config         `toml:"s3"`
	Tasks         []TaskConfig     `toml:"tasks"`
}

// DatabaseConfig represents configuration for the fingerprint store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// MetricsConfig selects where per-task metrics are pushed.
type MetricsConfig struct {
	Type    string `toml:"type"`              // "pushgateway" or "nop"
	URL     string `toml:"url,omitempty"`     // only used for type=pushgateway
	Timeout string `toml:"timeout,omitempty"` // Go duration, defaults to 5s
}

// TimeoutDuration parses Timeout, falling back to five seconds when unset.
func (m MetricsConfig) TimeoutDuration() (time.Duration, error) {
	if m.Timeout == "" {
		return 5 * time.Second, nil
	}
	d, err := time.ParseDuration(m.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid metrics timeout %q: %w", m.Timeout, err)
	}
	return d, nil
}

// FilesystemConfig holds walk settings shared by every task.
type FilesystemConfig struct {
	Exclude []string `toml:"exclude"`
}

// S3Config configures destinations of the form s3://bucket/prefix.
// Credentials come from the default AWS chain unless a static key pair is set.
type S3Config struct {
	Region          string `toml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty"` // for S3-compatible stores
	UsePathStyle    bool   `toml:"use_path_style,omitempty"`
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
}

// TaskConfig is one configured source -> destination sync.
type TaskConfig struct {
	Name      string   `toml:"name"`
	Source    string   `toml:"source"`
	Dest      string   `toml:"dest"`
	Table     string   `toml:"table"`
	Exclude   []string `toml:"exclude,omitempty"`
	Overwrite bool     `toml:"overwrite,omitempty"`
}

// NewConfig creates a new Config with the provided values and default settings.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:        hostID,
		BaseDir:       baseDir,
		LogDir:        filepath.Join(baseDir, "log"),
		Workers:       4,
		ParallelTasks: 1,
		Fingerprint:   "md5",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Metrics: MetricsConfig{Type: "nop"},
	}
}

var tableName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.ParallelTasks < 1 {
		return fmt.Errorf("parallel_tasks must be at least 1, got %d", c.ParallelTasks)
	}
	switch c.Fingerprint {
	case "md5", "sha256":
	default:
		return fmt.Errorf("unknown fingerprint algorithm: %q", c.Fingerprint)
	}
	switch c.Database.Type {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database type: %q", c.Database.Type)
	}
	switch c.Metrics.Type {
	case "nop", "":
	case "pushgateway":
		if c.Metrics.URL == "" {
			return fmt.Errorf("metrics url required for pushgateway")
		}
	default:
		return fmt.Errorf("unknown metrics type: %q", c.Metrics.Type)
	}
	if _, err := c.Metrics.TimeoutDuration(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Tasks))
	tables := make(map[string]string, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		if t.Source == "" || t.Dest == "" {
			return fmt.Errorf("task %q: source and dest are required", t.Name)
		}
		if !tableName.MatchString(t.Table) {
			return fmt.Errorf("task %q: invalid table name %q", t.Name, t.Table)
		}
		if names[t.Name] {
			return fmt.Errorf("duplicate task name: %q", t.Name)
		}
		names[t.Name] = true
		if other, ok := tables[t.Table]; ok {
			return fmt.Errorf("tasks %q and %q share table %q", other, t.Name, t.Table)
		}
		tables[t.Table] = t.Name
	}
	return nil
}

// FindTask returns the task with the given name, or nil.
func (c *Config) FindTask(name string) *TaskConfig {
	for i := range c.Tasks {
		if c.Tasks[i].Name == name {
			return &c.Tasks[i]
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to replace an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
