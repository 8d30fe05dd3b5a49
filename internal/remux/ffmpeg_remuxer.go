// Package remux provides a concrete, ffmpeg-backed implementation of
// ports.Remuxer: stream-copy container remux to MP4, optional audio
// remap/transcode, optional HEVC tagging, optional subtitle extraction
// Embedding applications may swap in their own
// Remuxer; this one is the reference implementation.
package remux

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain"
	"github.com/discoduckasaurus/duckflix-lite-sub001/internal/domain/ports"
)

// DefaultFFmpegPath is overridden by FFmpegRemuxer.FFmpegPath when the
// binary lives somewhere other than $PATH.
const DefaultFFmpegPath = "ffmpeg"

const outputFileName = "remuxed.mp4"

// FFmpegRemuxer invokes ffmpeg as a subprocess to produce the file the
// Validator decided was necessary.
type FFmpegRemuxer struct {
	FFmpegPath string
	Logger     *slog.Logger
}

func New(logger *slog.Logger) *FFmpegRemuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegRemuxer{FFmpegPath: DefaultFFmpegPath, Logger: logger}
}

// Remux builds and runs the ffmpeg command described by plan, writing a
// single MP4 file into plan.OutputDir and returning its path.
func (r *FFmpegRemuxer) Remux(ctx context.Context, plan ports.RemuxPlan) (string, error) {
	if err := os.MkdirAll(plan.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("remux: create output dir: %w", err)
	}
	outputPath := filepath.Join(plan.OutputDir, outputFileName)
	args := buildRemuxArgs(plan, outputPath)

	ffmpegPath := r.FFmpegPath
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}

	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.Logger.Info("remux starting", slog.String("sourceUrl", plan.SourceURL), slog.String("output", outputPath))
	if err := cmd.Run(); err != nil {
		r.Logger.Warn("remux failed", slog.String("error", err.Error()), slog.String("stderr", lastLines(stderr.String(), 20)))
		return "", fmt.Errorf("%w: %v", domain.ErrRemuxFailed, err)
	}
	return outputPath, nil
}

// buildRemuxArgs is a pure function, mirroring the streaming remux argument
// builder: reconnect flags for HTTP sources, stream-copy the video, and
// either copy, remap, or transcode the audio track depending on the plan.
func buildRemuxArgs(plan ports.RemuxPlan, outputPath string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "+genpts+discardcorrupt",
		"-err_detect", "ignore_err",
	}

	if strings.HasPrefix(plan.SourceURL, "http://") || strings.HasPrefix(plan.SourceURL, "https://") {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1")
	}

	args = append(args, "-i", plan.SourceURL)
	args = append(args, "-map", "0:v:0")

	switch plan.AudioProcessing {
	case domain.AudioProcessingRemapTo:
		args = append(args, "-map", fmt.Sprintf("0:a:%d", plan.ChosenAudioIndex), "-c:a", "copy")
	case domain.AudioProcessingTranscode:
		target := plan.TranscodeTarget
		if target == "" {
			target = "aac"
		}
		args = append(args, "-map", "0:a:0?", "-c:a", target, "-b:a", "192k", "-ac", "2")
	default:
		args = append(args, "-map", "0:a:0?", "-c:a", "copy")
	}

	args = append(args, "-c:v", "copy")
	if plan.HEVCTag {
		args = append(args, "-tag:v", "hvc1")
	}

	if plan.SubtitleCleanup {
		args = append(args, "-map", "0:s?", "-c:s", "mov_text")
	}

	args = append(args,
		"-movflags", "+faststart",
		"-f", "mp4",
		outputPath,
	)
	return args
}

// lastLines returns up to n trailing non-empty lines of s, useful for
// logging a truncated ffmpeg stderr tail instead of the whole buffer.
func lastLines(s string, n int) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
