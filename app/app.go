package app

import (
	"context"
	"fmt"
	"path/filepath"

	"chunk-transcriber/config"
	"chunk-transcriber/core/media"
	"chunk-transcriber/core/models"
	"chunk-transcriber/core/pipeline"
	"chunk-transcriber/core/repository"
	"chunk-transcriber/core/transcription"
	"chunk-transcriber/storage"

	"github.com/sirupsen/logrus"
)

// Components are the wired core services shared by the server and the CLI
type Components struct {
	Events  repository.EventRepository
	Table   *repository.MemoryJobTable
	Store   storage.TranscriptStore
	Client  *transcription.BreakerClient
	Runner  *pipeline.Runner
	closers []func()
}

// Build wires the job table, event journal, transcript store,
// transcription client and runner from cfg
func Build(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*Components, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	c := &Components{}

	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		c.closers = append(c.closers, func() { db.Close() })
		c.Events = repository.NewPostgresEventRepository(db)
		logger.Info("job event journal: postgres")
	} else {
		c.Events = repository.NewMemoryEventRepository(0)
	}

	store, err := NewStore(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Store = store

	c.Table = repository.NewMemoryJobTable(c.Events, logger)
	openai := transcription.NewOpenAIClient(transcription.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.OpenAITimeout,
	})
	c.Client = transcription.NewBreakerClient(openai, transcription.BreakerConfig{
		Name:                "openai",
		ConsecutiveFailures: uint32(cfg.BreakerFailures),
		Cooldown:            cfg.BreakerCooldown,
	}, logger)

	seg := media.NewSegmenter(media.Config{
		FFmpegPath:  cfg.FFmpegPath,
		FFprobePath: cfg.FFprobePath,
		WorkDir:     cfg.WorkDir,
	})
	c.Runner = pipeline.NewRunner(c.Table, pipeline.MediaSegmenter{Segmenter: seg}, c.Client, c.Store, logger)
	return c, nil
}

// NewStore opens the configured transcript storage backend
func NewStore(ctx context.Context, cfg *config.Config) (storage.TranscriptStore, error) {
	switch cfg.StorageBackend {
	case "s3":
		return storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.AWSRegion,
			Endpoint: cfg.S3Endpoint,
		})
	default:
		return storage.NewLocalStore(cfg.StorageDir)
	}
}

// UploadDir is where submitted sources wait for processing
func UploadDir(cfg *config.Config) string {
	return filepath.Join(cfg.WorkDir, "uploads")
}

// DefaultOptions are the job options applied when a submission omits them
func DefaultOptions(cfg *config.Config) models.JobOptions {
	return models.JobOptions{
		ChunkDuration: cfg.ChunkDuration(),
		Model:         cfg.TranscribeModel,
		Language:      cfg.TranscribeLanguage,
	}
}

// Close releases external connections
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
