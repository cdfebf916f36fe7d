package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/apperr"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxConcurrentChunks = 5
	DefaultChunkSize           = 1000
	DefaultMaxAttempts         = 3
	DefaultRetryDelay          = 2 * time.Second
	DefaultMaxRetryDelay       = 5 * time.Minute
	DefaultErrorLogLimit       = 10_000
)

type Config struct {
	MaxConcurrentChunks int `yaml:"maxConcurrentChunks"`
	ChunkSize           int `yaml:"chunkSize"`
	// MaxAttempts is the number of times a chunk is tried before all its
	// records are counted as failed.
	MaxAttempts   int           `yaml:"maxAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
	MaxRetryDelay time.Duration `yaml:"maxRetryDelay"`
	// ErrorLogLimit caps the run error log; 0 keeps every entry.
	ErrorLogLimit int `yaml:"errorLogLimit"`
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentChunks: DefaultMaxConcurrentChunks,
		ChunkSize:           DefaultChunkSize,
		MaxAttempts:         DefaultMaxAttempts,
		RetryDelay:          DefaultRetryDelay,
		MaxRetryDelay:       DefaultMaxRetryDelay,
		ErrorLogLimit:       DefaultErrorLogLimit,
	}
}

func (c Config) Validate() error {
	if c.MaxConcurrentChunks < 1 {
		return apperr.NewValidation("maxConcurrentChunks must be at least 1")
	}
	if c.ChunkSize < 1 {
		return apperr.NewValidation("chunkSize must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return apperr.NewValidation("maxAttempts must be at least 1")
	}
	if c.RetryDelay < 0 || c.MaxRetryDelay < 0 {
		return apperr.NewValidation("retry delays must not be negative")
	}
	if c.ErrorLogLimit < 0 {
		return apperr.NewValidation("errorLogLimit must not be negative")
	}
	return nil
}

// LoadConfigFile overlays the YAML document at path onto the defaults.
// Durations use Go syntax ("2s", "5m").
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open pipeline config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode pipeline config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
