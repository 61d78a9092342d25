package models

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Blob     BlobConfig     `yaml:"blob"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Codec    CodecConfig    `yaml:"codec"`
	Log      LogConfig      `yaml:"log"`
	Backfill BackfillConfig `yaml:"backfill"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
	// PublicBaseURL prefixes blob keys in redirects (the CDN in front of the bucket).
	PublicBaseURL string `yaml:"public_base_url"`
	MetricsPath   string `yaml:"metrics_path"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type BlobConfig struct {
	Driver          string `yaml:"driver"` // s3 or memory
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	TaskTopic    string   `yaml:"task_topic"`
	PrewarmTopic string   `yaml:"prewarm_topic"`
	GroupID      string   `yaml:"group_id"`
	// WriteTimeout bounds one best-effort publish, retries included.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	KeyTTL   time.Duration `yaml:"key_ttl"`
}

type CodecConfig struct {
	JPEGQuality     int  `yaml:"jpeg_quality"`
	AutoOrientation bool `yaml:"auto_orientation"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

type BackfillConfig struct {
	Concurrency int `yaml:"concurrency"`
}

func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (*Config, error) {
	const op = "models.ParseConfig"

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			MaxUploadBytes: 50 << 20,
			MetricsPath:    "/metrics",
		},
		Blob: BlobConfig{
			Driver:      "s3",
			Region:      "us-east-1",
			MaxAttempts: 3,
		},
		Kafka: KafkaConfig{
			TaskTopic:    "variant-tasks",
			PrewarmTopic: "variant-prewarm",
			GroupID:      "kakigoori-prewarm",
			WriteTimeout: 2 * time.Second,
		},
		Redis: RedisConfig{
			KeyTTL: 5 * time.Minute,
		},
		Codec: CodecConfig{
			JPEGQuality:     90,
			AutoOrientation: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Backfill: BackfillConfig{
			Concurrency: 4,
		},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	switch c.Blob.Driver {
	case "s3":
		if c.Blob.Bucket == "" {
			errs = append(errs, errors.New("blob.bucket is required for the s3 driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("blob.driver %q is not supported", c.Blob.Driver))
	}
	if c.Server.PublicBaseURL == "" {
		errs = append(errs, errors.New("server.public_base_url is required"))
	}
	if c.Codec.JPEGQuality < 1 || c.Codec.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("codec.jpeg_quality %d out of range", c.Codec.JPEGQuality))
	}
	if c.Backfill.Concurrency < 1 {
		errs = append(errs, errors.New("backfill.concurrency must be positive"))
	}
	return errors.Join(errs...)
}
