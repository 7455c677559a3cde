package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPort            = "8000"
	DefaultModelPath       = "models/ICH_DENSENET121.onnx"
	DefaultMetadataPath    = "models/model_metadata.json"
	DefaultSessionPoolSize = 1
	DefaultMaxUploadBytes  = 10 << 20
	DefaultShutdownTimeout = 15 * time.Second
	DefaultLogLevel        = "info"
)

// Config holds runtime settings for the server and the CLI.
type Config struct {
	Port              string        `yaml:"port"`
	ModelPath         string        `yaml:"model_path"`
	MetadataPath      string        `yaml:"metadata_path"`
	SharedLibraryPath string        `yaml:"onnxruntime_lib"`
	SessionPoolSize   int           `yaml:"session_pool_size"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	LogLevel          string        `yaml:"log_level"`
	CORSOrigins       []string      `yaml:"cors_origins"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Port:            DefaultPort,
		ModelPath:       DefaultModelPath,
		MetadataPath:    DefaultMetadataPath,
		SessionPoolSize: DefaultSessionPoolSize,
		MaxUploadBytes:  DefaultMaxUploadBytes,
		ShutdownTimeout: DefaultShutdownTimeout,
		LogLevel:        DefaultLogLevel,
		CORSOrigins:     []string{"*"},
	}
}

// Load builds a Config from defaults, the optional YAML file at path and
// finally the environment. A .env file in the working directory is loaded
// first when present.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.mergeEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := getenv("MODEL_PATH"); v != "" {
		c.ModelPath = v
	}
	if v := getenv("METADATA_PATH"); v != "" {
		c.MetadataPath = v
	}
	if v := getenv("ONNXRUNTIME_LIB"); v != "" {
		c.SharedLibraryPath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("CORS_ORIGINS"); v != "" {
		c.CORSOrigins = splitList(v)
	}
	if v := getenv("SESSION_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_POOL_SIZE %q: %w", v, err)
		}
		c.SessionPoolSize = n
	}
	if v := getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: %w", v, err)
		}
		c.MaxUploadBytes = n
	}
	if v := getenv("SHUTDOWN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_TIMEOUT %q: %w", v, err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Port) == "":
		return errors.New("port must not be empty")
	case strings.TrimSpace(c.ModelPath) == "":
		return errors.New("model path must not be empty")
	case c.SessionPoolSize <= 0:
		return fmt.Errorf("session pool size must be positive, got %d", c.SessionPoolSize)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max upload bytes must be positive, got %d", c.MaxUploadBytes)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + c.Port
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
