package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest"
	"github.com/DjordjeVuckovic/retail-ingest/internal/ingest/mapping"
	"github.com/DjordjeVuckovic/retail-ingest/internal/server"
	"github.com/DjordjeVuckovic/retail-ingest/internal/storage/factory"
	"github.com/DjordjeVuckovic/retail-ingest/pkg/config/env"
	"github.com/DjordjeVuckovic/retail-ingest/pkg/logging"
	"github.com/spf13/cobra"
)

const defaultEnvPath = "cmd/retail_import/.env"

// rootFlags are the options shared by every import subcommand. A flag set
// on the command line wins over the matching environment variable.
type rootFlags struct {
	retailer       string
	importName     string
	encoding       string
	chunkSize      int
	maxConcurrent  int
	maxAttempts    int
	retryDelay     time.Duration
	memoryLimitMB  int
	monitor        bool
	pipelineConfig string
	mappingConfig  string
}

type ImportConfig struct {
	Retailer      string
	ImportName    string
	Encoding      string
	Pipeline      ingest.Config
	Mapping       *mapping.DataMapping
	MemoryLimitMB int
	Logging       logging.Config
	Storage       *factory.StorageConfig
	// Monitor is nil when the monitor API is disabled.
	Monitor *server.Config
}

func loadConfig(cmd *cobra.Command, f *rootFlags) (*ImportConfig, error) {
	if err := env.LoadDotEnv(os.Getenv("ENV"), defaultEnvPath); err != nil {
		return nil, err
	}

	logCfg, err := logging.LoadEnv()
	if err != nil {
		return nil, err
	}

	pipeline, err := loadPipelineConfig(cmd, f)
	if err != nil {
		return nil, err
	}

	var dm *mapping.DataMapping
	if path := flagOrEnv(cmd, "mapping-config", f.mappingConfig, "MAPPING_CONFIG_PATH"); path != "" {
		dm, err = mapping.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load mapping config: %w", err)
		}
		slog.Info("Using field mapping", "path", path)
	}

	memoryLimit, err := env.Int("MEMORY_LIMIT_MB", 0)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("memory-limit-mb") {
		memoryLimit = f.memoryLimitMB
	}

	storageCfg, err := factory.LoadEnv()
	if err != nil {
		return nil, err
	}

	var monitorCfg *server.Config
	monitorEnabled := os.Getenv("MONITOR_ENABLED") == "true"
	if cmd.Flags().Changed("monitor") {
		monitorEnabled = f.monitor
	}
	if monitorEnabled {
		monitorCfg, err = server.LoadConfig()
		if err != nil {
			return nil, err
		}
	}

	retailer := flagOrEnv(cmd, "retailer", f.retailer, "RETAILER")
	if retailer == "" {
		return nil, fmt.Errorf("retailer is required (--retailer or RETAILER)")
	}

	return &ImportConfig{
		Retailer:      retailer,
		ImportName:    f.importName,
		Encoding:      flagOrEnv(cmd, "encoding", f.encoding, "SOURCE_ENCODING"),
		Pipeline:      pipeline,
		Mapping:       dm,
		MemoryLimitMB: memoryLimit,
		Logging:       logCfg,
		Storage:       storageCfg,
		Monitor:       monitorCfg,
	}, nil
}

// loadPipelineConfig layers defaults, the optional YAML file, environment
// variables and flags, in that order.
func loadPipelineConfig(cmd *cobra.Command, f *rootFlags) (ingest.Config, error) {
	cfg := ingest.DefaultConfig()
	if path := flagOrEnv(cmd, "pipeline-config", f.pipelineConfig, "PIPELINE_CONFIG_PATH"); path != "" {
		loaded, err := ingest.LoadConfigFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	var err error
	if cfg.MaxConcurrentChunks, err = env.Int("MAX_CONCURRENT_CHUNKS", cfg.MaxConcurrentChunks); err != nil {
		return cfg, err
	}
	if cfg.ChunkSize, err = env.Int("CHUNK_SIZE", cfg.ChunkSize); err != nil {
		return cfg, err
	}
	if cfg.MaxAttempts, err = env.Int("MAX_ATTEMPTS", cfg.MaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.RetryDelay, err = env.Duration("RETRY_DELAY", cfg.RetryDelay); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("max-concurrent") {
		cfg.MaxConcurrentChunks = f.maxConcurrent
	}
	if flags.Changed("chunk-size") {
		cfg.ChunkSize = f.chunkSize
	}
	if flags.Changed("max-attempts") {
		cfg.MaxAttempts = f.maxAttempts
	}
	if flags.Changed("retry-delay") {
		cfg.RetryDelay = f.retryDelay
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func flagOrEnv(cmd *cobra.Command, flag, value, key string) string {
	if cmd.Flags().Changed(flag) {
		return value
	}
	return env.String(key, value)
}
