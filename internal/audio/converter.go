package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
)

var (
	// ErrFFmpegNotFound is returned when ffmpeg is not installed.
	ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH")
	// ErrConversionFailed is returned when ffmpeg conversion fails.
	ErrConversionFailed = errors.New("audio conversion failed")
)

// conversionSlackFrames pads the estimated output size to absorb
// resampler edge frames.
const conversionSlackFrames = 64

// Converter converts raw PCM buffers between formats using ffmpeg.
type Converter struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewConverter creates a converter, locating ffmpeg on PATH.
func NewConverter(logger *slog.Logger) (*Converter, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrFFmpegNotFound
	}
	return &Converter{ffmpegPath: path, logger: logger}, nil
}

// NewConverterWithPath creates a converter with a specific ffmpeg path.
func NewConverterWithPath(path string, logger *slog.Logger) *Converter {
	return &Converter{ffmpegPath: path, logger: logger}
}

// Convert resamples and re-encodes a buffer into the target format.
// The input buffer is not modified.
func (c *Converter) Convert(ctx context.Context, in Buffer, target Format) (Buffer, error) {
	if len(in.Data) == 0 {
		return Buffer{}, errors.New("empty input data")
	}
	if !in.Format.Valid() || !target.Valid() {
		return Buffer{}, fmt.Errorf("%w: invalid format (src %s, target %s)",
			ErrConversionFailed, in.Format, target)
	}

	// ffmpeg raw-PCM pipe conversion:
	// -f <enc> -ar <rate> -ac <ch>: describe the headerless input
	// -i pipe:0: read from stdin
	// matching output triple, then pipe:1: write to stdout
	args := []string{
		"-f", in.Format.Encoding.String(),
		"-ar", fmt.Sprintf("%d", in.Format.SampleRate),
		"-ac", fmt.Sprintf("%d", in.Format.Channels),
		"-i", "pipe:0",
		"-f", target.Encoding.String(),
		"-ar", fmt.Sprintf("%d", target.SampleRate),
		"-ac", fmt.Sprintf("%d", target.Channels),
		"-loglevel", "error",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, c.ffmpegPath, args...)
	cmd.Stdin = bytes.NewReader(in.Data)

	var stdout, stderr bytes.Buffer
	// Estimated output size: frames scaled by the rate ratio, plus slack.
	estFrames := in.Frames()*target.SampleRate/in.Format.SampleRate + conversionSlackFrames
	stdout.Grow(estFrames * target.BytesPerFrame())
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Buffer{}, ctx.Err()
		}
		return Buffer{}, fmt.Errorf("%w: %s", ErrConversionFailed, stderr.String())
	}

	out := Buffer{Format: target, Data: stdout.Bytes()}
	if c.logger != nil {
		c.logger.Debug("converted buffer",
			"from", in.Format.String(),
			"to", target.String(),
			"in_frames", in.Frames(),
			"out_frames", out.Frames(),
		)
	}
	return out, nil
}
