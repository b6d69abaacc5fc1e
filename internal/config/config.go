// Package config loads the onnx-channel configuration from YAML and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/amikos-tech/onnx-channel/channel"
	"github.com/amikos-tech/onnx-channel/ortlib"
)

// Environment variables that override file values.
const (
	EnvLibraryPath = "ONNXRUNTIME_LIB_PATH"
	EnvCacheDir    = "ONNXRUNTIME_CACHE_DIR"
	EnvVersion     = "ONNXRUNTIME_VERSION"
	EnvModelPath   = "ONNX_CHANNEL_MODEL_PATH"
	EnvHTTPAddr    = "ONNX_CHANNEL_HTTP_ADDR"
	EnvLogLevel    = "ONNX_CHANNEL_LOG_LEVEL"
)

// Config is the complete onnx-channel configuration.
type Config struct {
	Channel  ChannelConfig `yaml:"channel"`
	Runtime  RuntimeConfig `yaml:"runtime"`
	Model    ModelConfig   `yaml:"model"`
	HTTP     HTTPConfig    `yaml:"http"`
	Log      LogConfig     `yaml:"log"`
	LockFile string        `yaml:"lock_file"`
}

// ChannelConfig names the method channel.
type ChannelConfig struct {
	Name string `yaml:"name"`
}

// RuntimeConfig locates the ONNX Runtime library and tunes its sessions.
type RuntimeConfig struct {
	LibraryPath    string `yaml:"library_path"`
	CacheDir       string `yaml:"cache_dir"`
	Version        string `yaml:"version"`
	IntraOpThreads int    `yaml:"intra_op_threads"`
	InterOpThreads int    `yaml:"inter_op_threads"`
	// SkipPlatformDefaults stops discovery from falling back to system install paths.
	SkipPlatformDefaults bool `yaml:"skip_platform_defaults"`
}

// ModelConfig names a model loaded at startup. Empty means wait for an initialize call.
type ModelConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig configures the serve listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// MaxBodyBytes bounds a single channel call body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// LogConfig configures the zap logger and its optional rotated file.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File enables rotated file output in addition to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Channel: ChannelConfig{Name: channel.DefaultName},
		Runtime: RuntimeConfig{
			Version: ortlib.DefaultOnnxRuntimeVersion,
		},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8089",
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    4 << 20,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		LockFile: filepath.Join(os.TempDir(), "onnx-channel", "serve.lock"),
	}
}

// Load reads path (when non-empty) over the defaults, then applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from non-empty environment variables.
func (c *Config) ApplyEnv() {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&c.Runtime.LibraryPath, EnvLibraryPath)
	override(&c.Runtime.CacheDir, EnvCacheDir)
	override(&c.Runtime.Version, EnvVersion)
	override(&c.Model.Path, EnvModelPath)
	override(&c.HTTP.Addr, EnvHTTPAddr)
	override(&c.Log.Level, EnvLogLevel)
}

// Validate rejects values the rest of the program cannot use.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Channel.Name) == "" {
		return fmt.Errorf("channel.name must not be empty")
	}
	if c.Runtime.Version != "" {
		if _, err := ortlib.NormalizeVersion(c.Runtime.Version); err != nil {
			return fmt.Errorf("runtime.version: %w", err)
		}
	}
	if c.Runtime.IntraOpThreads < 0 {
		return fmt.Errorf("runtime.intra_op_threads must be >= 0, got %d", c.Runtime.IntraOpThreads)
	}
	if c.Runtime.InterOpThreads < 0 {
		return fmt.Errorf("runtime.inter_op_threads must be >= 0, got %d", c.Runtime.InterOpThreads)
	}
	if c.HTTP.ShutdownTimeout < 0 {
		return fmt.Errorf("http.shutdown_timeout must be >= 0, got %s", c.HTTP.ShutdownTimeout)
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0, got %d", c.HTTP.MaxBodyBytes)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json; got %q", c.Log.Format)
	}
	return nil
}
