package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/tabletdb"
)

const (
	configName      = ".tabletctl"
	configType      = "yaml"
	envPrefix       = "TABLETDB"
	envKeySeparator = "_"
)

const (
	backendLocal = "local"
	backendMinIO = "minio"
	backendS3    = "s3"
)

var (
	ErrInvalidBackend     = errors.New("invalid backend")
	ErrMissingDir         = errors.New("local backend requires a directory")
	ErrMissingBucket      = errors.New("object storage backend requires a bucket")
	ErrMissingEndpoint    = errors.New("minio backend requires an endpoint")
	ErrInvalidSizeFormat  = errors.New("invalid size format")
	ErrInvalidCompression = errors.New("invalid compression")
)

// Config is the tabletctl configuration.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Dir      string        `mapstructure:"dir"`
	Backend  string        `mapstructure:"backend"`
	LogLevel string        `mapstructure:"log_level"`
	Storage  StorageConfig `mapstructure:"storage"`
	Tablet   TabletConfig  `mapstructure:"tablet"`
	Serve    ServeConfig   `mapstructure:"serve"`
}

// StorageConfig locates the tablet in object storage.
type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Secure    bool   `mapstructure:"secure"`
	DDBTable  string `mapstructure:"ddb_table"`
}

// TabletConfig holds tablet tuning knobs. Sizes are human-readable ("64MiB").
type TabletConfig struct {
	FlushThreshold        string        `mapstructure:"flush_threshold"`
	FlushInterval         time.Duration `mapstructure:"flush_interval"`
	BlockSize             string        `mapstructure:"block_size"`
	BlockCacheSize        string        `mapstructure:"block_cache_size"`
	FlushCompression      string        `mapstructure:"flush_compression"`
	CompactionCompression string        `mapstructure:"compaction_compression"`
	MaxBackgroundJobs     int64         `mapstructure:"max_background_jobs"`
	MemoryLimit           string        `mapstructure:"memory_limit"`
	IOLimit               string        `mapstructure:"io_limit"`
}

// ServeConfig configures the HTTP server.
type ServeConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

const (
	DefaultBackend               = backendLocal
	DefaultDir                   = "./data"
	DefaultLogLevel              = "warn"
	DefaultFlushThreshold        = "64MiB"
	DefaultBlockSize             = "32KiB"
	DefaultBlockCacheSize        = "32MiB"
	DefaultFlushCompression      = "lz4"
	DefaultCompactionCompression = "zstd"
	DefaultMaxBackgroundJobs     = 1
	DefaultServeAddr             = ":8080"
	DefaultShutdownTimeout       = 10 * time.Second
)

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"dir":        "dir",
	"backend":    "backend",
	"log-level":  "log_level",
	"bucket":     "storage.bucket",
	"prefix":     "storage.prefix",
	"endpoint":   "storage.endpoint",
	"region":     "storage.region",
	"access-key": "storage.access_key",
	"secret-key": "storage.secret_key",
	"secure":     "storage.secure",
	"ddb-table":  "storage.ddb_table",
}

// LoadConfig loads configuration from defaults, the config file, env vars and
// flags set on cmd, in increasing precedence. If configPath is empty the file
// is searched in CWD and $HOME; a missing file is not an error.
func LoadConfig(configPath string, cmd *cobra.Command) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if cmd != nil {
		for name, key := range flagKeys {
			if f := cmd.Flag(name); f != nil {
				if err := viperCfg.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	validateErr := cfg.Validate()
	if validateErr != nil {
		return nil, fmt.Errorf("validate config: %w", validateErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("dir", DefaultDir)
	viperCfg.SetDefault("backend", DefaultBackend)
	viperCfg.SetDefault("log_level", DefaultLogLevel)

	viperCfg.SetDefault("storage.bucket", "")
	viperCfg.SetDefault("storage.prefix", "")
	viperCfg.SetDefault("storage.endpoint", "")
	viperCfg.SetDefault("storage.region", "")
	viperCfg.SetDefault("storage.access_key", "")
	viperCfg.SetDefault("storage.secret_key", "")
	viperCfg.SetDefault("storage.secure", true)
	viperCfg.SetDefault("storage.ddb_table", "")

	viperCfg.SetDefault("tablet.flush_threshold", DefaultFlushThreshold)
	viperCfg.SetDefault("tablet.flush_interval", time.Duration(0))
	viperCfg.SetDefault("tablet.block_size", DefaultBlockSize)
	viperCfg.SetDefault("tablet.block_cache_size", DefaultBlockCacheSize)
	viperCfg.SetDefault("tablet.flush_compression", DefaultFlushCompression)
	viperCfg.SetDefault("tablet.compaction_compression", DefaultCompactionCompression)
	viperCfg.SetDefault("tablet.max_background_jobs", DefaultMaxBackgroundJobs)
	viperCfg.SetDefault("tablet.memory_limit", "")
	viperCfg.SetDefault("tablet.io_limit", "")

	viperCfg.SetDefault("serve.addr", DefaultServeAddr)
	viperCfg.SetDefault("serve.shutdown_timeout", DefaultShutdownTimeout)
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Backend {
	case backendLocal:
		if c.Dir == "" {
			return ErrMissingDir
		}
	case backendMinIO:
		if c.Storage.Endpoint == "" {
			return ErrMissingEndpoint
		}
		if c.Storage.Bucket == "" {
			return ErrMissingBucket
		}
	case backendS3:
		if c.Storage.Bucket == "" {
			return ErrMissingBucket
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Backend)
	}

	_, err := c.Options()
	return err
}

// Options translates the tablet section into database options.
func (c *Config) Options() ([]tabletdb.Option, error) {
	flushThreshold, err := parseOptionalSize("flush_threshold", c.Tablet.FlushThreshold)
	if err != nil {
		return nil, err
	}
	blockSize, err := parseOptionalSize("block_size", c.Tablet.BlockSize)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parseOptionalSize("block_cache_size", c.Tablet.BlockCacheSize)
	if err != nil {
		return nil, err
	}
	memLimit, err := parseOptionalSize("memory_limit", c.Tablet.MemoryLimit)
	if err != nil {
		return nil, err
	}
	ioLimit, err := parseOptionalSize("io_limit", c.Tablet.IOLimit)
	if err != nil {
		return nil, err
	}

	flushComp, err := tabletdb.ParseCompression(c.Tablet.FlushCompression)
	if err != nil {
		return nil, fmt.Errorf("%w for flush_compression: %s", ErrInvalidCompression, c.Tablet.FlushCompression)
	}
	compactComp, err := tabletdb.ParseCompression(c.Tablet.CompactionCompression)
	if err != nil {
		return nil, fmt.Errorf("%w for compaction_compression: %s", ErrInvalidCompression, c.Tablet.CompactionCompression)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log_level: %w", err)
	}

	return []tabletdb.Option{
		tabletdb.WithLogLevel(level),
		tabletdb.WithFlushThreshold(flushThreshold, c.Tablet.FlushInterval),
		tabletdb.WithBlockSize(int(blockSize)),
		tabletdb.WithBlockCacheSize(cacheSize),
		tabletdb.WithCompression(flushComp, compactComp),
		tabletdb.WithResourceLimits(tabletdb.ResourceLimits{
			MemoryLimitBytes:   memLimit,
			MaxBackgroundJobs:  c.Tablet.MaxBackgroundJobs,
			IOLimitBytesPerSec: ioLimit,
		}),
	}, nil
}

// parseOptionalSize parses a human-readable size string, returning 0 for empty or "0".
func parseOptionalSize(name, sizeValue string) (int64, error) {
	trimmed := strings.TrimSpace(sizeValue)
	if trimmed == "" || trimmed == "0" {
		return 0, nil
	}

	parsed, err := humanize.ParseBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w for %s: %s", ErrInvalidSizeFormat, name, sizeValue)
	}

	return int64(parsed), nil
}
