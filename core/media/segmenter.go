package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"chunk-transcriber/core/models"
)

// Config holds external tool locations and the scratch directory
type Config struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string // Empty means the system temp dir
}

// Segmenter decodes media files and cuts their audio into chunk artifacts
type Segmenter struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	runner      commandRunner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	remove      func(name string) error
	stat        func(name string) (os.FileInfo, error)
}

// NewSegmenter constructs the production segmenter with OS dependencies
func NewSegmenter(cfg Config) *Segmenter {
	s := &Segmenter{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		workDir:     cfg.WorkDir,
		runner:      &execRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		remove:      os.Remove,
		stat:        os.Stat,
	}
	if s.ffmpegPath == "" {
		s.ffmpegPath = "ffmpeg"
	}
	if s.ffprobePath == "" {
		s.ffprobePath = "ffprobe"
	}
	return s
}

// Source is a decoded media file ready for chunking. When the input was a
// video, Path points at the extracted audio track.
type Source struct {
	InputPath string
	Path      string
	Duration  time.Duration
	Video     bool
	Dir       string // Scratch directory owning extracted audio and chunks

	stem    string
	windows []Window
	seg     *Segmenter
}

// Open probes path and prepares it for chunking with the given chunk length.
// Decode and extraction failures return *models.MediaDecodeError.
func (s *Segmenter) Open(ctx context.Context, path string, chunk time.Duration) (*Source, error) {
	if chunk <= 0 {
		chunk = models.DefaultChunkDuration
	}
	if _, err := s.stat(path); err != nil {
		return nil, &models.MediaDecodeError{
			Path:    path,
			Message: fmt.Sprintf("cannot access input media: %s", filepath.Base(path)),
			Err:     err,
		}
	}

	info, err := s.probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if !info.hasAudio {
		return nil, &models.MediaDecodeError{Path: path, Message: "source has no audio track"}
	}

	dir, err := s.mkdirTemp(s.workDir, "chunks-*")
	if err != nil {
		return nil, &models.StorageError{Op: "write", Path: s.workDir, Err: err}
	}

	src := &Source{
		InputPath: path,
		Path:      path,
		Duration:  info.duration,
		Video:     info.hasVideo,
		Dir:       dir,
		stem:      stemOf(path),
		seg:       s,
	}

	if info.hasVideo {
		extracted := filepath.Join(dir, src.stem+"_audio.wav")
		if err := s.extractAudio(ctx, path, extracted); err != nil {
			_ = s.removeAll(dir)
			return nil, err
		}
		audio, err := s.probe(ctx, extracted)
		if err != nil {
			_ = s.removeAll(dir)
			return nil, err
		}
		src.Path = extracted
		src.Duration = audio.duration
	}

	src.windows = Windows(src.Duration, chunk)
	return src, nil
}

// Windows returns the planned chunk windows in order
func (src *Source) Windows() []Window {
	return append([]Window(nil), src.windows...)
}

// Chunks returns a lazy iterator that exports one window per Next call
func (src *Source) Chunks() *ChunkIterator {
	return &ChunkIterator{src: src}
}

// Close removes the scratch directory, including any chunk not yet removed
func (src *Source) Close() error {
	if src == nil || src.Dir == "" {
		return nil
	}
	if err := src.seg.removeAll(src.Dir); err != nil {
		return &models.StorageError{Op: "delete", Path: src.Dir, Err: err}
	}
	src.Dir = ""
	return nil
}

// Chunk is one exported window, materialized as a self-contained audio file
type Chunk struct {
	Window
	Path string

	remove func(name string) error
}

// Remove deletes the chunk artifact. A missing file is not an error.
func (c Chunk) Remove() error {
	if c.Path == "" {
		return nil
	}
	remove := c.remove
	if remove == nil {
		remove = os.Remove
	}
	if err := remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &models.StorageError{Op: "delete", Path: c.Path, Err: err}
	}
	return nil
}

// ChunkIterator yields chunks in window order
type ChunkIterator struct {
	src  *Source
	next int
}

// Len reports the total number of chunks
func (it *ChunkIterator) Len() int {
	return len(it.src.windows)
}

// Next exports the next window. It returns io.EOF after the last window.
func (it *ChunkIterator) Next(ctx context.Context) (Chunk, error) {
	if it.next >= len(it.src.windows) {
		return Chunk{}, io.EOF
	}
	w := it.src.windows[it.next]
	it.next++

	out := filepath.Join(it.src.Dir, fmt.Sprintf("%s_part%d.mp3", it.src.stem, w.Index))
	if err := it.src.seg.exportWindow(ctx, it.src.Path, out, w); err != nil {
		return Chunk{}, err
	}
	return Chunk{Window: w, Path: out, remove: it.src.seg.remove}, nil
}

type probeInfo struct {
	duration time.Duration
	hasAudio bool
	hasVideo bool
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType   string `json:"codec_type"`
		Disposition struct {
			AttachedPic int `json:"attached_pic"`
		} `json:"disposition"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// probe reads stream types and container duration with ffprobe
func (s *Segmenter) probe(ctx context.Context, path string) (probeInfo, error) {
	args := buildProbeArgs(path)
	res, err := s.runner.Run(ctx, s.ffprobePath, args...)
	if err != nil {
		return probeInfo{}, &models.MediaDecodeError{
			Path:       path,
			Message:    "ffprobe could not read source",
			CommandLog: commandLog(s.ffprobePath, args, res),
			Err:        err,
		}
	}
	return parseProbe(path, res.Stdout)
}

func parseProbe(path, stdout string) (probeInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		return probeInfo{}, &models.MediaDecodeError{Path: path, Message: "unexpected ffprobe output", Err: err}
	}

	var info probeInfo
	for _, st := range out.Streams {
		switch st.CodecType {
		case "audio":
			info.hasAudio = true
		case "video":
			// Cover art in audio files is reported as a video stream.
			if st.Disposition.AttachedPic == 0 {
				info.hasVideo = true
			}
		}
	}

	raw := strings.TrimSpace(out.Format.Duration)
	if raw == "" || raw == "N/A" {
		if !info.hasAudio {
			return info, nil
		}
		return probeInfo{}, &models.MediaDecodeError{Path: path, Message: "source duration is unknown"}
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds < 0 {
		return probeInfo{}, &models.MediaDecodeError{Path: path, Message: fmt.Sprintf("invalid duration %q", raw), Err: err}
	}
	info.duration = time.Duration(seconds * float64(time.Second)).Round(time.Millisecond)
	return info, nil
}

// extractAudio writes the audio track of a video as mono 16 kHz WAV
func (s *Segmenter) extractAudio(ctx context.Context, in, out string) error {
	args := buildExtractArgs(in, out)
	res, err := s.runner.Run(ctx, s.ffmpegPath, args...)
	if err != nil {
		return &models.MediaDecodeError{
			Path:       in,
			Message:    "ffmpeg audio extraction failed",
			CommandLog: commandLog(s.ffmpegPath, args, res),
			Err:        err,
		}
	}
	if _, err := s.stat(out); err != nil {
		return &models.MediaDecodeError{
			Path:       in,
			Message:    "ffmpeg completed but extracted audio is missing",
			CommandLog: commandLog(s.ffmpegPath, args, res),
			Err:        err,
		}
	}
	return nil
}

// exportWindow cuts one window of src into an mp3 file
func (s *Segmenter) exportWindow(ctx context.Context, src, out string, w Window) error {
	args := buildChunkArgs(src, out, w)
	res, err := s.runner.Run(ctx, s.ffmpegPath, args...)
	if err != nil {
		_ = s.remove(out)
		return &models.MediaDecodeError{
			Path:       src,
			Message:    fmt.Sprintf("ffmpeg failed to export chunk %d", w.Index),
			CommandLog: commandLog(s.ffmpegPath, args, res),
			Err:        err,
		}
	}
	if _, err := s.stat(out); err != nil {
		return &models.MediaDecodeError{
			Path:       src,
			Message:    fmt.Sprintf("ffmpeg completed but chunk %d is missing", w.Index),
			CommandLog: commandLog(s.ffmpegPath, args, res),
			Err:        err,
		}
	}
	return nil
}

func buildProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration:stream=codec_type:stream_disposition=attached_pic",
		"-of", "json",
		path,
	}
}

func buildExtractArgs(in, out string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		out,
	}
}

func buildChunkArgs(src, out string, w Window) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(w.Start),
		"-t", formatSeconds(w.Duration()),
		"-i", src,
		"-vn",
		"-c:a", "libmp3lame",
		"-q:a", "4",
		"-f", "mp3",
		out,
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// stemOf builds a filesystem-safe base name for chunk artifacts
func stemOf(path string) string {
	base := filepath.Base(path)
	stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		return "source"
	}
	return stem
}
