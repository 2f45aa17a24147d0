package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"chunk-transcriber/app"
	"chunk-transcriber/config"
	"chunk-transcriber/core/models"
	"chunk-transcriber/logging"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type options struct {
	configFile   string
	envFile      string
	output       string
	language     string
	model        string
	chunkSeconds int
	verbose      bool
}

func main() {
	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "transcribe INPUT",
		Short:         "Transcribe an audio or video file chunk by chunk",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, args[0], opts, stdout)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "config file path")
	f.StringVar(&opts.envFile, "env-file", "", "dotenv file (default .env when present)")
	f.StringVarP(&opts.output, "output", "o", "", "write the transcript to this file instead of stdout")
	f.StringVarP(&opts.language, "language", "l", "", "language hint, \"auto\" to detect")
	f.StringVarP(&opts.model, "model", "m", "", "transcription model")
	f.IntVar(&opts.chunkSeconds, "chunk-seconds", 0, "chunk length in seconds")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")
	return cmd
}

func run(ctx context.Context, input string, opts options, stdout io.Writer) error {
	if opts.chunkSeconds < 0 {
		return errors.New("chunk-seconds must be positive")
	}
	abs, err := filepath.Abs(input)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("input not found: %s", input)
	}

	cfg, err := config.Load(opts.configFile, opts.envFile)
	if err != nil {
		return err
	}
	level := "warn"
	if opts.verbose {
		level = cfg.LogLevel
	}
	logger, err := logging.New(logging.Options{Level: level, Format: cfg.LogFormat, Output: os.Stderr})
	if err != nil {
		return err
	}

	release, err := useScratchStorage(cfg)
	if err != nil {
		return err
	}
	defer release()

	core, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer core.Close()

	jobOpts := app.DefaultOptions(cfg)
	if opts.model != "" {
		jobOpts.Model = opts.model
	}
	if opts.language != "" {
		jobOpts.Language = opts.language
	}
	if opts.chunkSeconds > 0 {
		jobOpts.ChunkDuration = time.Duration(opts.chunkSeconds) * time.Second
	}

	// The input belongs to the caller, so it is not registered as a job artifact.
	job := &models.Job{
		ID:         uuid.NewString(),
		SourceName: filepath.Base(abs),
		SourcePath: abs,
		Options:    jobOpts,
	}
	if err := core.Table.Create(job); err != nil {
		return err
	}
	if err := core.Runner.Run(ctx, job.ID); err != nil {
		return err
	}

	done, err := core.Table.Get(job.ID)
	if err != nil {
		return err
	}
	if opts.output == "" {
		_, err = fmt.Fprintln(stdout, done.Transcript)
		return err
	}
	text := done.Transcript
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if err := os.WriteFile(opts.output, []byte(text), 0o644); err != nil {
		return &models.StorageError{Op: "write", Path: opts.output, Err: err}
	}
	logger.WithField("path", opts.output).Info("transcript written")
	return nil
}

// useScratchStorage points transcript storage at a temporary directory.
// The CLI only writes the transcript where the user asked for it.
func useScratchStorage(cfg *config.Config) (func(), error) {
	dir, err := os.MkdirTemp(cfg.WorkDir, "transcribe-*")
	if err != nil {
		return nil, &models.StorageError{Op: "write", Path: cfg.WorkDir, Err: err}
	}
	cfg.StorageBackend = "local"
	cfg.StorageDir = dir
	return func() { _ = os.RemoveAll(dir) }, nil
}
