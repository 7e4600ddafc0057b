// Package config resolves the settings for a classification run from
// defaults, an optional TOML or YAML file, the environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v2"

	"github.com/bdougie/vidclassify/internal/labels"
)

// ErrConfiguration marks fatal setup problems. They are reported before any
// video is processed and are never retried.
var ErrConfiguration = errors.New("configuration error")

// Environment variables consulted at startup.
const (
	TokenEnv       = "HUGGINGFACE_TOKEN"
	EndpointURLEnv = "VIDCLASSIFY_ENDPOINT_URL"
)

// Strategy names.
const (
	StrategyZeroShot    = "zero-shot"
	StrategyCustom      = "custom"
	StrategyLocalVision = "local-vision"
)

// Checkpoint backends.
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Checkpoint selects where results are persisted.
type Checkpoint struct {
	Backend string `toml:"backend" yaml:"backend"`
	Path    string `toml:"path" yaml:"path"`
	DSN     string `toml:"dsn" yaml:"dsn"`
}

// Vision configures the local ollama vision strategy.
type Vision struct {
	OllamaURL  string `toml:"ollama_url" yaml:"ollama_url"`
	OllamaPort int    `toml:"ollama_port" yaml:"ollama_port"`
	Model      string `toml:"model" yaml:"model"`
	Frames     int    `toml:"frames" yaml:"frames"`
	FrameDir   string `toml:"frame_dir" yaml:"frame_dir"`
}

// Config holds everything a batch run needs.
type Config struct {
	CorpusDir  string   `toml:"corpus_dir" yaml:"corpus_dir"`
	Extensions []string `toml:"extensions" yaml:"extensions"`

	Strategy     string `toml:"strategy" yaml:"strategy"`
	EndpointURL  string `toml:"endpoint_url" yaml:"endpoint_url"`
	DefaultModel string `toml:"default_model" yaml:"default_model"`
	APIBaseURL   string `toml:"api_base_url" yaml:"api_base_url"`

	StartFrom int `toml:"start_from" yaml:"start_from"`
	EndAt     int `toml:"end_at" yaml:"end_at"`

	MaxRetries              int `toml:"max_retries" yaml:"max_retries"`
	RateLimitBackoffSeconds int `toml:"rate_limit_backoff_seconds" yaml:"rate_limit_backoff_seconds"`
	RetryDelaySeconds       int `toml:"retry_delay_seconds" yaml:"retry_delay_seconds"`
	RequestDelaySeconds     int `toml:"request_delay_seconds" yaml:"request_delay_seconds"`
	RequestTimeoutSeconds   int `toml:"request_timeout_seconds" yaml:"request_timeout_seconds"`

	Labels []string `toml:"labels" yaml:"labels"`

	LogLevel    string `toml:"log_level" yaml:"log_level"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`

	Checkpoint Checkpoint `toml:"checkpoint" yaml:"checkpoint"`
	Vision     Vision     `toml:"vision" yaml:"vision"`

	// Token is only ever read from the environment.
	Token string `toml:"-" yaml:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CorpusDir:               "sampled_videos",
		Extensions:              []string{".mp4"},
		Strategy:                StrategyZeroShot,
		DefaultModel:            "microsoft/xclip-base-patch32",
		APIBaseURL:              "https://api-inference.huggingface.co/models",
		StartFrom:               1,
		MaxRetries:              3,
		RateLimitBackoffSeconds: 60,
		RetryDelaySeconds:       10,
		RequestDelaySeconds:     1,
		RequestTimeoutSeconds:   120,
		Labels:                  labels.Default().Names(),
		LogLevel:                "info",
		Checkpoint: Checkpoint{
			Backend: BackendCSV,
			Path:    "huggingface_predictions.csv",
		},
		Vision: Vision{
			OllamaURL:  "http://localhost",
			OllamaPort: 11434,
			Model:      "llama3.2-vision:11b",
			Frames:     8,
			FrameDir:   "output_frames",
		},
	}
}

// Load builds a Config from defaults, the optional file at path and the
// environment. A missing .env file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	_ = godotenv.Load()
	cfg.applyEnv()
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read config %s: %w", ErrConfiguration, path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg)
	default:
		return fmt.Errorf("%w: unsupported config format %q (want .toml, .yaml or .yml)", ErrConfiguration, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("%w: parse config %s: %w", ErrConfiguration, path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Token = strings.TrimSpace(os.Getenv(TokenEnv))
	if url := strings.TrimSpace(os.Getenv(EndpointURLEnv)); url != "" {
		c.EndpointURL = url
	}
}

// LabelSet returns the configured labels as a validated set.
func (c Config) LabelSet() (labels.Set, error) {
	set, err := labels.New(c.Labels)
	if err != nil {
		return labels.Set{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return set, nil
}

// RemoteStrategy reports whether the strategy calls the remote inference service.
func (c Config) RemoteStrategy() bool {
	return c.Strategy == StrategyZeroShot || c.Strategy == StrategyCustom
}

// RateLimitBackoff is the unit of the linear rate-limit backoff.
func (c Config) RateLimitBackoff() time.Duration {
	return time.Duration(c.RateLimitBackoffSeconds) * time.Second
}

// RetryDelay is the fixed wait before retrying a transient failure.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// RequestDelay is the pause between items for rate-limited strategies.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.RequestDelaySeconds) * time.Second
}

// RequestTimeout bounds a single remote call.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}
