package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Server
	ServerPort  string `yaml:"server_port"`
	MaxUploadMB int64  `yaml:"max_upload_mb"`

	// Transcription service
	OpenAIAPIKey       string        `yaml:"openai_api_key"`
	OpenAIBaseURL      string        `yaml:"openai_base_url"`
	OpenAITimeout      time.Duration `yaml:"openai_timeout"`
	TranscribeModel    string        `yaml:"transcribe_model"`
	TranscribeLanguage string        `yaml:"transcribe_language"`
	BreakerFailures    int           `yaml:"breaker_failures"`
	BreakerCooldown    time.Duration `yaml:"breaker_cooldown"`

	// Media
	ChunkSeconds int    `yaml:"chunk_seconds"`
	FFmpegPath   string `yaml:"ffmpeg_path"`
	FFprobePath  string `yaml:"ffprobe_path"`
	WorkDir      string `yaml:"work_dir"`

	// Scheduler
	SchedulerWorkers   int `yaml:"scheduler_workers"`
	SchedulerQueueSize int `yaml:"scheduler_queue_size"`

	// Transcript storage
	StorageBackend string `yaml:"storage_backend"` // local | s3
	StorageDir     string `yaml:"storage_dir"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Prefix       string `yaml:"s3_prefix"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	AWSRegion      string `yaml:"aws_region"`

	// Database (optional job event journal)
	DatabaseURL string `yaml:"database_url"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Job monitor
	MonitorInterval time.Duration `yaml:"monitor_interval"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		ServerPort:         "8080",
		MaxUploadMB:        100,
		OpenAITimeout:      10 * time.Minute,
		TranscribeModel:    "whisper-1",
		BreakerFailures:    5,
		BreakerCooldown:    30 * time.Second,
		ChunkSeconds:       300,
		FFmpegPath:         "ffmpeg",
		FFprobePath:        "ffprobe",
		WorkDir:            os.TempDir(),
		SchedulerWorkers:   2,
		SchedulerQueueSize: 64,
		StorageBackend:     "local",
		StorageDir:         "./data/transcripts",
		AWSRegion:          "us-east-1",
		LogLevel:           "info",
		LogFormat:          "text",
		MonitorInterval:    30 * time.Second,
	}
}

// Load builds the configuration from defaults, an optional YAML file, an
// optional .env file and the environment, in increasing precedence.
// Variables already present in the environment win over the .env file.
func Load(path, envFile string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	dotenv, err := readDotEnv(envFile)
	if err != nil {
		return nil, err
	}
	lookup := func(key string) string {
		if value := os.Getenv(key); value != "" {
			return value
		}
		return dotenv[strings.ToLower(key)]
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readDotEnv reads KEY=VALUE pairs. A missing default file is ignored.
func readDotEnv(envFile string) (map[string]string, error) {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to parse env file: %w", err)
	}
	out := make(map[string]string, len(v.AllKeys()))
	for _, key := range v.AllKeys() {
		out[key] = v.GetString(key)
	}
	return out, nil
}

func applyEnv(cfg *Config, lookup func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if value := lookup(key); value != "" {
			*dst = value
		}
	}
	num := func(key string, dst *int) {
		if value := lookup(key); value != "" {
			n, err := strconv.Atoi(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if value := lookup(key); value != "" {
			d, err := time.ParseDuration(value)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_PORT", &cfg.ServerPort)
	if value := lookup("MAX_UPLOAD_MB"); value != "" {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB: %w", err))
		} else {
			cfg.MaxUploadMB = n
		}
	}
	str("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	str("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	dur("OPENAI_TIMEOUT", &cfg.OpenAITimeout)
	str("TRANSCRIBE_MODEL", &cfg.TranscribeModel)
	str("TRANSCRIBE_LANGUAGE", &cfg.TranscribeLanguage)
	num("BREAKER_FAILURES", &cfg.BreakerFailures)
	dur("BREAKER_COOLDOWN", &cfg.BreakerCooldown)
	num("CHUNK_SECONDS", &cfg.ChunkSeconds)
	str("FFMPEG_PATH", &cfg.FFmpegPath)
	str("FFPROBE_PATH", &cfg.FFprobePath)
	str("WORK_DIR", &cfg.WorkDir)
	num("SCHEDULER_WORKERS", &cfg.SchedulerWorkers)
	num("SCHEDULER_QUEUE_SIZE", &cfg.SchedulerQueueSize)
	str("STORAGE_BACKEND", &cfg.StorageBackend)
	str("STORAGE_DIR", &cfg.StorageDir)
	str("S3_BUCKET", &cfg.S3Bucket)
	str("S3_PREFIX", &cfg.S3Prefix)
	str("S3_ENDPOINT", &cfg.S3Endpoint)
	str("AWS_REGION", &cfg.AWSRegion)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("LOG_FORMAT", &cfg.LogFormat)
	dur("MONITOR_INTERVAL", &cfg.MonitorInterval)

	return errors.Join(errs...)
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("max upload size must be greater than 0"))
	}
	if c.ChunkSeconds <= 0 {
		errs = append(errs, errors.New("chunk seconds must be greater than 0"))
	}
	if c.SchedulerWorkers < 1 {
		errs = append(errs, errors.New("scheduler workers must be greater than 0"))
	}
	if c.SchedulerQueueSize < 1 {
		errs = append(errs, errors.New("scheduler queue size must be greater than 0"))
	}
	if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required unless OPENAI_BASE_URL points at a compatible server"))
	}
	if c.BreakerFailures < 0 {
		errs = append(errs, errors.New("breaker failures must not be negative"))
	}
	switch c.StorageBackend {
	case "local":
		if c.StorageDir == "" {
			errs = append(errs, errors.New("storage dir is required for the local backend"))
		}
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("s3 bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// ChunkDuration returns the default chunk length
func (c *Config) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkSeconds) * time.Second
}

// MaxUploadBytes returns the request body limit for uploads
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
