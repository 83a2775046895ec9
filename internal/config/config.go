package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete phpembed configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	PHP       PHPConfig       `yaml:"php"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LogConfig       `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Watch     WatchConfig     `yaml:"watch"`
}

type ServerConfig struct {
	Address         string   `yaml:"address"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// PHPConfig configures the engine. Version is auto or 8.1 through 8.4.
type PHPConfig struct {
	Version      string            `yaml:"version"`
	SAPIName     string            `yaml:"sapi_name"` // php_sapi_name() for eval/call/run
	INI          map[string]string `yaml:"ini"`
	Extensions   ExtensionsConfig  `yaml:"extensions"`
	ExtensionDir string            `yaml:"extension_dir"` // empty means the versioned default
	Argv         []string          `yaml:"argv"`
}

// ExtensionsConfig lists extensions by how hard a load failure is:
// Required ones abort startup, Optional ones are skipped with a warning.
type ExtensionsConfig struct {
	Required []string `yaml:"required"`
	Optional []string `yaml:"optional"`
}

type AppConfig struct {
	Root      string            `yaml:"root"`
	Entry     string            `yaml:"entry"` // "auto" or a path such as public/index.php
	Env       map[string]string `yaml:"env"`   // laid over the process environment for getenv()
	Bootstrap string            `yaml:"bootstrap"`
}

type WorkerConfig struct {
	MaxJobs        int      `yaml:"max_jobs"` // Recycle the engine after this many jobs, 0 = never
	RequestTimeout Duration `yaml:"request_timeout"`
}

type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Path           string   `yaml:"path"`
	MaxConnections int      `yaml:"max_connections"`
	PingInterval   Duration `yaml:"ping_interval"`
	// AllowedOrigins lists browser origins besides the server's own that
	// may connect, e.g. "http://localhost:3000". "*" allows any.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type WatchConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Dirs     []string `yaml:"dirs"`
	Interval Duration `yaml:"interval"`
}

// Duration is a time.Duration that supports YAML string unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads config from a YAML file, applying defaults for missing values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

var (
	phpVersions = []string{"auto", "8.1", "8.2", "8.3", "8.4"}
	logLevels   = []string{"debug", "info", "warn", "error"}
	logFormats  = []string{"text", "json"}
)

// Validate reports every invalid setting, joined into one error.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Address != "", "server.address is required")

	check(slices.Contains(phpVersions, c.PHP.Version),
		"php.version must be one of %s, got %q", strings.Join(phpVersions, ", "), c.PHP.Version)
	check(!strings.ContainsAny(c.PHP.SAPIName, " \t\n"), "php.sapi_name must not contain whitespace, got %q", c.PHP.SAPIName)
	for key := range c.PHP.INI {
		check(key != "" && !strings.ContainsAny(key, "=\n"), "php.ini has an invalid key %q", key)
	}

	check(c.App.Root != "", "app.root is required")
	check(c.Worker.MaxJobs >= 0, "worker.max_jobs must be >= 0, got %d", c.Worker.MaxJobs)

	check(!c.WebSocket.Enabled || strings.HasPrefix(c.WebSocket.Path, "/"),
		"websocket.path must start with '/', got %q", c.WebSocket.Path)
	check(!c.Metrics.Enabled || strings.HasPrefix(c.Metrics.Path, "/"),
		"metrics.path must start with '/', got %q", c.Metrics.Path)

	check(slices.Contains(logLevels, c.Logging.Level),
		"logging.level must be one of %s, got %q", strings.Join(logLevels, ", "), c.Logging.Level)
	check(slices.Contains(logFormats, c.Logging.Format),
		"logging.format must be text or json, got %q", c.Logging.Format)

	check(!c.Watch.Enabled || c.Watch.Interval > 0, "watch.interval must be positive when watch is enabled")
	return errors.Join(errs...)
}
