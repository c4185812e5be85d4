package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DotEnvFile is read from the working directory before environment
// overrides are applied; variables already set in the environment win
const DotEnvFile = ".env"

// Transport names accepted by server.transport
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
	TransportMCP   = "mcp"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Toolchain ToolchainConfig `mapstructure:"toolchain"`
	Isolation IsolationConfig `mapstructure:"isolation"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport       string `mapstructure:"transport"`
	HTTPPort        int    `mapstructure:"http_port"`
	SharedSecret    string `mapstructure:"shared_secret"`
	ReadTimeoutSec  int    `mapstructure:"read_timeout_sec"`
	WriteTimeoutSec int    `mapstructure:"write_timeout_sec"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// RunnerConfig holds per-request limits and deadlines
type RunnerConfig struct {
	WorkRoot         string `mapstructure:"work_root"`
	MaxSourceChars   int    `mapstructure:"max_source_chars"`
	MaxStdinBytes    int    `mapstructure:"max_stdin_bytes"`
	DefaultTimeoutMs int    `mapstructure:"default_timeout_ms"`
	MaxTimeoutMs     int    `mapstructure:"max_timeout_ms"`
	CompileTimeoutMs int    `mapstructure:"compile_timeout_ms"`
	MaxOutputBytes   int    `mapstructure:"max_output_bytes"`
	KillGraceMs      int    `mapstructure:"kill_grace_ms"`
}

// ToolchainConfig describes how the submitted source is compiled and run
type ToolchainConfig struct {
	SourceFile   string   `mapstructure:"source_file"`
	ArtifactFile string   `mapstructure:"artifact_file"`
	ArtifactGlob string   `mapstructure:"artifact_glob"`
	CompileCmd   []string `mapstructure:"compile_cmd"`
	RunCmd       []string `mapstructure:"run_cmd"`
}

// IsolationConfig holds the nsjail invocation settings
type IsolationConfig struct {
	NsjailPath     string   `mapstructure:"nsjail_path"`
	User           string   `mapstructure:"user"`
	Group          string   `mapstructure:"group"`
	SandboxDir     string   `mapstructure:"sandbox_dir"`
	ReadOnlyMounts []string `mapstructure:"read_only_mounts"`
	MemoryMB       int      `mapstructure:"memory_mb"`
	FileSizeMB     int      `mapstructure:"file_size_mb"`
	MaxProcs       int      `mapstructure:"max_procs"`
	NetworkEnabled bool     `mapstructure:"network_enabled"`
	Quiet          bool     `mapstructure:"quiet"`
}

// New loads and validates the application configuration from the default
// search paths
func New() (*Config, error) {
	return Load("")
}

// Load reads the configuration from file (or the default search paths when
// file is empty), applies environment overrides and validates the result
func Load(file string) (*Config, error) {
	if err := godotenv.Load(DotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading %s: %w", DotEnvFile, err)
	}

	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("JPRUNNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// commands may also be given as one shell-quoted string, e.g. from the environment
	commands := []struct {
		key string
		dst *[]string
	}{
		{"toolchain.compile_cmd", &config.Toolchain.CompileCmd},
		{"toolchain.run_cmd", &config.Toolchain.RunCmd},
	}
	for _, c := range commands {
		if err := splitCommand(v, c.key, c.dst); err != nil {
			return nil, err
		}
	}

	if config.Runner.WorkRoot == "" {
		config.Runner.WorkRoot = os.TempDir()
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func splitCommand(v *viper.Viper, key string, dst *[]string) error {
	raw, ok := v.Get(key).(string)
	if !ok {
		return nil
	}
	fields, err := shlex.Split(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	*dst = fields
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", TransportHTTP)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shared_secret", "")
	v.SetDefault("server.read_timeout_sec", 15)
	v.SetDefault("server.write_timeout_sec", 30)

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("runner.work_root", "")
	v.SetDefault("runner.max_source_chars", 10000)
	v.SetDefault("runner.max_stdin_bytes", 64*1024)
	v.SetDefault("runner.default_timeout_ms", 3000)
	v.SetDefault("runner.max_timeout_ms", 10000)
	v.SetDefault("runner.compile_timeout_ms", 10000)
	v.SetDefault("runner.max_output_bytes", 1024*1024)
	v.SetDefault("runner.kill_grace_ms", 2000)

	v.SetDefault("toolchain.source_file", "Main.java")
	v.SetDefault("toolchain.artifact_file", "Main.class")
	v.SetDefault("toolchain.artifact_glob", "*.class")
	v.SetDefault("toolchain.compile_cmd", []string{"javac", "-encoding", "UTF-8", "{source}"})
	v.SetDefault("toolchain.run_cmd", []string{"/usr/bin/java", "-Xmx128m", "-XX:-UsePerfData", "Main"})

	v.SetDefault("isolation.nsjail_path", "nsjail")
	v.SetDefault("isolation.user", "javaplayground")
	v.SetDefault("isolation.group", "javaplayground")
	v.SetDefault("isolation.sandbox_dir", "/app")
	v.SetDefault("isolation.read_only_mounts", []string{"/usr", "/bin", "/lib", "/lib64", "/etc"})
	v.SetDefault("isolation.memory_mb", 4096)
	v.SetDefault("isolation.file_size_mb", 1)
	v.SetDefault("isolation.max_procs", 50)
	v.SetDefault("isolation.network_enabled", false)
	v.SetDefault("isolation.quiet", true)
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // flat list of independent checks
func (c *Config) validate() error {
	switch c.Server.Transport {
	case TransportHTTP, TransportStdio, TransportMCP:
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'http', 'stdio' or 'mcp'", c.Server.Transport)
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"runner.max_source_chars", c.Runner.MaxSourceChars},
		{"runner.max_stdin_bytes", c.Runner.MaxStdinBytes},
		{"runner.default_timeout_ms", c.Runner.DefaultTimeoutMs},
		{"runner.max_timeout_ms", c.Runner.MaxTimeoutMs},
		{"runner.compile_timeout_ms", c.Runner.CompileTimeoutMs},
		{"runner.max_output_bytes", c.Runner.MaxOutputBytes},
		{"isolation.memory_mb", c.Isolation.MemoryMB},
		{"isolation.file_size_mb", c.Isolation.FileSizeMB},
		{"isolation.max_procs", c.Isolation.MaxProcs},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s must be positive, got: %d", p.name, p.value)
		}
	}

	if c.Runner.KillGraceMs <= 0 {
		return fmt.Errorf("runner.kill_grace_ms must be positive, got: %d", c.Runner.KillGraceMs)
	}

	if c.Runner.DefaultTimeoutMs > c.Runner.MaxTimeoutMs {
		return fmt.Errorf("runner.default_timeout_ms (%d) exceeds runner.max_timeout_ms (%d)",
			c.Runner.DefaultTimeoutMs, c.Runner.MaxTimeoutMs)
	}

	if err := c.Toolchain.validate(); err != nil {
		return err
	}

	return c.Isolation.validate()
}

func (t *ToolchainConfig) validate() error {
	if t.SourceFile == "" || filepath.Base(t.SourceFile) != t.SourceFile {
		return fmt.Errorf("toolchain.source_file must be a plain file name, got: %q", t.SourceFile)
	}
	if t.ArtifactFile == "" || filepath.Base(t.ArtifactFile) != t.ArtifactFile {
		return fmt.Errorf("toolchain.artifact_file must be a plain file name, got: %q", t.ArtifactFile)
	}
	if len(t.CompileCmd) == 0 {
		return fmt.Errorf("toolchain.compile_cmd must not be empty")
	}
	if len(t.RunCmd) == 0 {
		return fmt.Errorf("toolchain.run_cmd must not be empty")
	}

	glob := t.ArtifactGlob
	if glob == "" {
		glob = t.ArtifactFile
	}
	matched, err := path.Match(glob, t.ArtifactFile)
	if err != nil {
		return fmt.Errorf("invalid toolchain.artifact_glob %q: %w", glob, err)
	}
	if !matched {
		return fmt.Errorf("toolchain.artifact_glob %q does not match toolchain.artifact_file %q", glob, t.ArtifactFile)
	}

	return nil
}

func (i *IsolationConfig) validate() error {
	if i.NsjailPath == "" {
		return fmt.Errorf("isolation.nsjail_path must not be empty")
	}
	if i.User == "" || i.Group == "" {
		return fmt.Errorf("isolation.user and isolation.group must be set")
	}
	if !filepath.IsAbs(i.SandboxDir) {
		return fmt.Errorf("isolation.sandbox_dir must be absolute, got: %q", i.SandboxDir)
	}

	seen := make(map[string]bool, len(i.ReadOnlyMounts))
	for _, m := range i.ReadOnlyMounts {
		if !filepath.IsAbs(m) {
			return fmt.Errorf("isolation.read_only_mounts entry must be absolute, got: %q", m)
		}
		clean := filepath.Clean(m)
		if clean == filepath.Clean(i.SandboxDir) {
			return fmt.Errorf("isolation.read_only_mounts must not contain the sandbox dir %q", i.SandboxDir)
		}
		if seen[clean] {
			return fmt.Errorf("duplicate isolation.read_only_mounts entry: %q", m)
		}
		seen[clean] = true
	}

	return nil
}

// DefaultTimeout returns the execution timeout applied when a request has none
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Runner.DefaultTimeoutMs) * time.Millisecond
}

// MaxTimeout returns the ceiling for per-request execution timeouts
func (c *Config) MaxTimeout() time.Duration {
	return time.Duration(c.Runner.MaxTimeoutMs) * time.Millisecond
}

// CompileTimeout returns the compile-phase deadline
func (c *Config) CompileTimeout() time.Duration {
	return time.Duration(c.Runner.CompileTimeoutMs) * time.Millisecond
}
