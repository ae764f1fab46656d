package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bnema/tikrec/internal/domain"
	"github.com/bnema/tikrec/internal/infrastructure/logger"
	"github.com/bnema/tikrec/internal/port"
	"github.com/bnema/tikrec/internal/validation"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains null byte")
)

const (
	resolveTimeout = 2 * time.Minute
	stopGrace      = 5 * time.Second
	stderrLimit    = 512
)

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

// Recorder captures a live source: yt-dlp resolves the stream URL for the
// requested quality and ffmpeg records it for the requested duration.
type Recorder struct {
	ytdlpPath  string
	ffmpegPath string
}

func NewRecorder(ytdlpPath, ffmpegPath string) *Recorder {
	if ytdlpPath == "" {
		ytdlpPath = "yt-dlp"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Recorder{ytdlpPath: ytdlpPath, ffmpegPath: ffmpegPath}
}

func (r *Recorder) Capture(ctx context.Context, req port.CaptureRequest, onProgress port.ProgressFunc) (*domain.Artifact, error) {
	if err := validatePath(req.OutputDir); err != nil {
		return nil, fmt.Errorf("invalid output dir: %w", err)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("invalid duration: %d", req.Duration)
	}
	if ctx.Err() != nil {
		return nil, domain.ErrAborted
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, &domain.StorageIOError{Op: "mkdir", Path: req.OutputDir, Err: err}
	}
	outputPath, err := filepath.Abs(filepath.Join(req.OutputDir, validation.ArtifactName(req.JobID)))
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	streamURLs, err := r.resolveStream(ctx, req.SourceURL, req.Quality)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.ErrAborted
		}
		return nil, err
	}
	logger.Debug.Printf("job %s resolved %d stream(s) for %s", req.JobID, len(streamURLs), logger.SanitizeForLog(req.SourceURL))

	err = r.record(ctx, streamURLs, outputPath, req.Duration, onProgress)
	if ctx.Err() != nil {
		removePartial(outputPath)
		return nil, domain.ErrAborted
	}
	if err != nil {
		removePartial(outputPath)
		return nil, err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, &domain.StorageIOError{Op: "stat", Path: outputPath, Err: err}
	}
	if info.Size() == 0 {
		removePartial(outputPath)
		return nil, &domain.StorageIOError{Op: "write", Path: outputPath, Err: domain.ErrEmptyArtifact}
	}

	return &domain.Artifact{Filename: outputPath, SizeBytes: info.Size()}, nil
}

// resolveStream returns one URL for a combined format, or a video URL followed
// by an audio URL when yt-dlp had to merge separate formats.
func (r *Recorder) resolveStream(ctx context.Context, sourceURL string, quality domain.Quality) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.ytdlpPath, resolveArgs(sourceURL, quality)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp failed: %w: %s", err, logger.Truncate(stderr.String(), stderrLimit))
	}

	var urls []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			urls = append(urls, line)
		}
	}
	switch {
	case len(urls) == 0:
		return nil, errors.New("yt-dlp returned no stream url")
	case len(urls) > 2:
		return nil, fmt.Errorf("yt-dlp returned %d stream urls, want 1 or 2", len(urls))
	}
	return urls, nil
}

func (r *Recorder) record(ctx context.Context, streamURLs []string, outputPath string, duration int, onProgress port.ProgressFunc) error {
	cmd := exec.CommandContext(ctx, r.ffmpegPath, recordArgs(streamURLs, outputPath, duration)...)
	// ffmpeg finalises the container on SIGINT; it is killed if it ignores it.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = stopGrace

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	readProgress(stdout, duration, onProgress)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, logger.Truncate(stderr.String(), stderrLimit))
	}
	return nil
}

// readProgress consumes ffmpeg's -progress key=value stream until EOF.
func readProgress(r io.Reader, duration int, onProgress port.ProgressFunc) {
	scanner := bufio.NewScanner(r)
	last := -1.0
	for scanner.Scan() {
		percent, ok := parseProgressLine(scanner.Text(), duration)
		if !ok || percent <= last {
			continue
		}
		last = percent
		if onProgress != nil {
			onProgress(percent)
		}
	}
}

// parseProgressLine converts one line of ffmpeg -progress output into a
// percentage of duration. out_time_ms is reported in microseconds, like
// out_time_us.
func parseProgressLine(line string, duration int) (float64, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found || duration <= 0 {
		return 0, false
	}

	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		percent := float64(us) / (float64(duration) * 1e6) * 100
		if percent > 100 {
			percent = 100
		}
		return percent, true
	case "progress":
		if value == "end" {
			return 100, true
		}
	}
	return 0, false
}

// formatSelector picks the best stream no taller than the quality's height,
// falling back to the best available.
func formatSelector(quality domain.Quality) string {
	height := quality.Height()
	if height == 0 {
		return "b"
	}
	return fmt.Sprintf("b[height<=%d]/bv*[height<=%d]+ba/b", height, height)
}

func resolveArgs(sourceURL string, quality domain.Quality) []string {
	return []string{
		"-f", formatSelector(quality),
		"--get-url",
		"--no-warnings",
		"--no-playlist",
		sourceURL,
	}
}

// recordArgs builds the ffmpeg command line. Two inputs are a video-only and
// an audio-only stream that get muxed into one file.
func recordArgs(streamURLs []string, outputPath string, duration int) []string {
	args := []string{
		"-hide_banner",
		"-nostats",
		"-loglevel", "error",
	}
	for _, u := range streamURLs {
		args = append(args, "-i", u)
	}
	if len(streamURLs) > 1 {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	}
	return append(args,
		"-t", strconv.Itoa(duration),
		"-c", "copy",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-y", outputPath,
	)
}

func removePartial(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn.Printf("failed to remove partial capture %s: %v", logger.SanitizeForLog(path), err)
	}
}

var _ port.Capturer = (*Recorder)(nil)
