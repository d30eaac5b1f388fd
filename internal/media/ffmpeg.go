// Package media shells out to ffmpeg and ffprobe for the audio and video
// operations the pipeline needs: audio extraction, chunk slicing, duration
// probing, and subtitle muxing.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Runner executes ffmpeg and ffprobe commands.
type Runner struct {
	cfg    config.FFmpeg
	logger *slog.Logger
}

// NewRunner constructs a runner bound to the configured binaries.
func NewRunner(cfg config.FFmpeg, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logging.WithComponent(logger, "media")}
}

// ExtractAudio transcodes the input's audio track to an MP3 file suitable for
// transcription upload.
func (r *Runner) ExtractAudio(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "libmp3lame",
		"-b:a", r.cfg.AudioBitrate,
		"-ac", "1",
		outputPath,
	}
	return r.runFFmpeg(ctx, "extract audio", args)
}

// SliceAudio copies a window of an audio file into its own file. Used to keep
// transcription uploads under the API size limit.
func (r *Runner) SliceAudio(ctx context.Context, inputPath, outputPath string, startSeconds, durationSeconds float64) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-ss", formatSeconds(startSeconds),
		"-t", formatSeconds(durationSeconds),
		"-i", inputPath,
		"-acodec", "copy",
		outputPath,
	}
	return r.runFFmpeg(ctx, "slice audio", args)
}

// MuxSoft remuxes the video with the subtitle file attached as a selectable
// subtitle stream, without re-encoding.
func (r *Runner) MuxSoft(ctx context.Context, videoPath, subtitlePath, outputPath string) error {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", videoPath,
		"-i", subtitlePath,
		"-map", "0",
		"-map", "1:0",
		"-c", "copy",
		"-c:s", "srt",
		"-metadata:s:s:0", "title=Translated",
		outputPath,
	}
	return r.runFFmpeg(ctx, "mux subtitles", args)
}

// MuxBurnIn re-encodes the video with the subtitles rendered into the
// picture.
func (r *Runner) MuxBurnIn(ctx context.Context, videoPath, subtitlePath, outputPath string) error {
	filter := fmt.Sprintf("subtitles=%s", escapeFilterPath(subtitlePath))
	if style := strings.TrimSpace(r.cfg.SubtitleStyle); style != "" {
		filter += ":force_style='" + style + "'"
	}
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", videoPath,
		"-vf", filter,
		"-c:v", r.cfg.VideoEncoder,
		"-c:a", "copy",
		outputPath,
	}
	return r.runFFmpeg(ctx, "burn in subtitles", args)
}

// ProbeDuration returns the container duration in seconds.
func (r *Runner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	out, err := r.runProbe(ctx, "probe duration", []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	})
	if err != nil {
		return 0, err
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, services.Wrap(services.ErrPermanent, "", "probe duration", "unparseable duration "+strings.TrimSpace(out), err)
	}
	return duration, nil
}

// HasVideoStream reports whether the file contains at least one video stream.
func (r *Runner) HasVideoStream(ctx context.Context, path string) (bool, error) {
	out, err := r.runProbe(ctx, "probe streams", []string{
		"-v", "error",
		"-select_streams", "v",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func (r *Runner) runFFmpeg(ctx context.Context, operation string, args []string) error {
	_, err := r.run(ctx, r.cfg.Binary, operation, args)
	return err
}

func (r *Runner) runProbe(ctx context.Context, operation string, args []string) (string, error) {
	return r.run(ctx, r.cfg.ProbeBinary, operation, args)
}

func (r *Runner) run(ctx context.Context, binary, operation string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("running command", logging.String("binary", binary), logging.String("operation", operation))
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if ctx.Err() != nil {
		return "", services.Wrap(nil, "", operation, binary, services.Classify(ctx.Err()))
	}
	if errors.Is(err, exec.ErrNotFound) {
		return "", services.Wrap(services.ErrPermanent, "", operation, binary+" not found on PATH", err)
	}
	return "", services.Wrap(services.ErrTransient, "", operation, commandDetail(binary, stderr.Bytes()), err)
}

// commandDetail keeps the tail of stderr, where ffmpeg reports the actual
// failure.
func commandDetail(binary string, stderr []byte) string {
	text := strings.TrimSpace(string(stderr))
	if text == "" {
		return binary + " failed"
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 3 {
		lines = lines[len(lines)-3:]
	}
	return binary + " failed: " + strings.Join(lines, " | ")
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}

// escapeFilterPath escapes characters that are significant inside an ffmpeg
// filter graph argument.
func escapeFilterPath(path string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
		`[`, `\[`,
		`]`, `\]`,
		`,`, `\,`,
	)
	return replacer.Replace(path)
}
