package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	ModeBackend = "backend"
	ModeS3      = "s3"
)

// Config is the process configuration read from the environment.
type Config struct {
	APIURL           string
	APIToken         string
	Mode             string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	AWSAccessKey     string
	AWSSecretKey     string
	StatusAddr       string
	StatusAPIKey     string
	LogLevel         string
	EngineConfigPath string
	HTTPTimeout      time.Duration
}

func Load() *Config {
	timeout, err := strconv.Atoi(getEnv("HTTP_TIMEOUT_SECONDS", "60"))
	if err != nil || timeout < 0 {
		timeout = 60
	}

	return &Config{
		APIURL:           getEnv("VIDEOFLOW_API_URL", "http://localhost:8000/api/v1"),
		APIToken:         getEnv("VIDEOFLOW_API_TOKEN", ""),
		Mode:             strings.ToLower(getEnv("VIDEOFLOW_MODE", ModeBackend)),
		S3Bucket:         getEnv("S3_BUCKET", ""),
		S3Region:         getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:       getEnv("S3_ENDPOINT", ""),
		AWSAccessKey:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:     getEnv("AWS_SECRET_ACCESS_KEY", ""),
		StatusAddr:       getEnv("STATUS_ADDR", ":8080"),
		StatusAPIKey:     getEnv("STATUS_API_KEY", ""),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		EngineConfigPath: getEnv("ENGINE_CONFIG_PATH", "videoflow.yaml"),
		HTTPTimeout:      time.Duration(timeout) * time.Second,
	}
}

// Validate checks the settings the selected mode depends on.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeBackend:
		if c.APIURL == "" {
			return errors.New("VIDEOFLOW_API_URL is required in backend mode")
		}
	case ModeS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET is required in s3 mode")
		}
	default:
		return fmt.Errorf("unknown VIDEOFLOW_MODE %q (expected %s or %s)", c.Mode, ModeBackend, ModeS3)
	}
	return nil
}

func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}

type TransferConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
}

type JobsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type LeaseConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	RenewMargin       time.Duration `yaml:"renew_margin"`
	CountdownInterval time.Duration `yaml:"countdown_interval"`
}

// StorageOptions describes where objects of one stream type live in the
// bucket and how previews of it are rendered.
type StorageOptions struct {
	Folder    string   `yaml:"folder"`
	Extension string   `yaml:"extension"`
	Sizes     []string `yaml:"sizes"`
	Quality   int      `yaml:"quality"`
	ConvertTo string   `yaml:"convert_to"`
}

// EngineConfig holds the upload engine tunables. Sizes are human readable
// strings such as "2GiB" or "8MB" and are always read as binary units.
type EngineConfig struct {
	MaxFileSize     string                    `yaml:"max_file_size"`
	DigestChunkSize string                    `yaml:"digest_chunk_size"`
	URLBatchSize    int                       `yaml:"url_batch_size"`
	PartSizeMB      int                       `yaml:"part_size_mb"`
	Transfer        TransferConfig            `yaml:"transfer"`
	Jobs            JobsConfig                `yaml:"jobs"`
	Lease           LeaseConfig               `yaml:"lease"`
	StorageOptions  map[string]StorageOptions `yaml:"storage_options"`
}

func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxFileSize:     "2GiB",
		DigestChunkSize: "8MiB",
		URLBatchSize:    100,
		PartSizeMB:      10,
		Transfer: TransferConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			Multiplier:  2,
		},
		Jobs: JobsConfig{Interval: 3 * time.Second},
		Lease: LeaseConfig{
			TTL:               60 * time.Minute,
			RenewMargin:       5 * time.Minute,
			CountdownInterval: 10 * time.Second,
		},
	}
}

// LoadEngineConfig reads the YAML file at path over the defaults. A missing
// file is not an error.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cfg := DefaultEngineConfig()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *EngineConfig) Validate() error {
	if _, err := c.MaxFileSizeBytes(); err != nil {
		return err
	}
	if _, err := c.DigestChunkSizeBytes(); err != nil {
		return err
	}
	if c.URLBatchSize < 1 {
		return fmt.Errorf("url_batch_size must be positive, got %d", c.URLBatchSize)
	}
	if c.PartSizeMB < 5 {
		return fmt.Errorf("part_size_mb must be at least 5, got %d", c.PartSizeMB)
	}
	if c.Transfer.MaxAttempts < 1 {
		return fmt.Errorf("transfer.max_attempts must be at least 1, got %d", c.Transfer.MaxAttempts)
	}
	if c.Transfer.BaseDelay < 0 {
		return errors.New("transfer.base_delay must not be negative")
	}
	if c.Transfer.Multiplier < 1 {
		return fmt.Errorf("transfer.multiplier must be at least 1, got %g", c.Transfer.Multiplier)
	}
	if c.Jobs.Interval <= 0 {
		return errors.New("jobs.interval must be positive")
	}
	if c.Lease.TTL < time.Minute {
		return fmt.Errorf("lease.ttl must be at least a minute, got %s", c.Lease.TTL)
	}
	if c.Lease.RenewMargin < 0 || c.Lease.RenewMargin >= c.Lease.TTL {
		return fmt.Errorf("lease.renew_margin must be between 0 and the ttl, got %s", c.Lease.RenewMargin)
	}
	if c.Lease.CountdownInterval <= 0 {
		return errors.New("lease.countdown_interval must be positive")
	}
	return nil
}

func (c *EngineConfig) MaxFileSizeBytes() (int64, error) {
	return parseSize("max_file_size", c.MaxFileSize)
}

func (c *EngineConfig) DigestChunkSizeBytes() (int64, error) {
	return parseSize("digest_chunk_size", c.DigestChunkSize)
}

func (c *EngineConfig) PartSizeBytes() int64 {
	return int64(c.PartSizeMB) * units.MiB
}

// GetStorageOptions returns the options for a stream type, falling back to
// the "default" entry and then to built-in layouts.
func (c *EngineConfig) GetStorageOptions(streamType string) *StorageOptions {
	if options, exists := c.StorageOptions[streamType]; exists {
		return &options
	}
	if defaultOptions, exists := c.StorageOptions["default"]; exists {
		return &defaultOptions
	}
	return DefaultStorageOptions(streamType)
}

func DefaultStorageOptions(streamType string) *StorageOptions {
	switch streamType {
	case "thumbnail":
		return &StorageOptions{
			Folder:    "thumbnails",
			Extension: "jpg",
			Sizes:     []string{"256", "512"},
			Quality:   90,
			ConvertTo: "jpeg",
		}
	case "proxy":
		return &StorageOptions{Folder: "proxies", Extension: "mp4"}
	default:
		return &StorageOptions{Folder: "videos", Extension: "mp4"}
	}
}

func parseSize(field, value string) (int64, error) {
	size, err := units.RAMInBytes(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if size <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", field, value)
	}
	return size, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
