package pipeline

import (
	"context"
	"time"

	"chunk-transcriber/core/media"
)

// ChunkSource yields the chunk artifacts of one opened media file in order
type ChunkSource interface {
	Len() int
	Next(ctx context.Context) (media.Chunk, error)
	Close() error
}

// Segmenter opens a source file for chunking
type Segmenter interface {
	Open(ctx context.Context, path string, chunk time.Duration) (ChunkSource, error)
}

// MediaSegmenter adapts media.Segmenter to Segmenter
type MediaSegmenter struct {
	Segmenter *media.Segmenter
}

// Open probes the file and returns its lazy chunk sequence
func (m MediaSegmenter) Open(ctx context.Context, path string, chunk time.Duration) (ChunkSource, error) {
	src, err := m.Segmenter.Open(ctx, path, chunk)
	if err != nil {
		return nil, err
	}
	return &mediaSource{src: src, it: src.Chunks()}, nil
}

type mediaSource struct {
	src *media.Source
	it  *media.ChunkIterator
}

func (s *mediaSource) Len() int { return s.it.Len() }

func (s *mediaSource) Next(ctx context.Context) (media.Chunk, error) { return s.it.Next(ctx) }

func (s *mediaSource) Close() error { return s.src.Close() }
