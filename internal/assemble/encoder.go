// Package assemble unifies per-chapter PCM into one master stream and
// produces the final tagged audio container plus its chapter sidecar.
package assemble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var (
	// ErrTranscodeFailed is returned when the final container cannot be
	// produced. The master PCM file is kept for diagnostics.
	ErrTranscodeFailed = errors.New("transcode failed")
	// ErrFFmpegNotFound is returned when ffmpeg is not installed.
	ErrFFmpegNotFound = errors.New("ffmpeg not found in PATH")
	// ErrUnsupportedFormat is returned for an unknown output extension.
	ErrUnsupportedFormat = errors.New("unsupported output format")
)

// Metadata is embedded into the final container.
type Metadata struct {
	Title   string
	Artist  string
	Artwork []byte
}

// Encoder produces the final compressed container from a master WAV file.
type Encoder interface {
	// Transcode encodes inPath into outPath, embedding the metadata.
	Transcode(ctx context.Context, inPath, outPath string, meta Metadata) error
}

// FFmpegEncoder encodes via the ffmpeg binary.
type FFmpegEncoder struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewFFmpegEncoder creates an encoder, locating ffmpeg on PATH.
func NewFFmpegEncoder(logger *slog.Logger) (*FFmpegEncoder, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, ErrFFmpegNotFound
	}
	return &FFmpegEncoder{ffmpegPath: path, logger: logger}, nil
}

// NewFFmpegEncoderWithPath creates an encoder with a specific ffmpeg path.
func NewFFmpegEncoderWithPath(path string, logger *slog.Logger) *FFmpegEncoder {
	return &FFmpegEncoder{ffmpegPath: path, logger: logger}
}

// codecArgs returns the ffmpeg codec arguments for an output extension.
func codecArgs(ext string) ([]string, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "m4b":
		return []string{"-c:a", "aac", "-b:a", "64k", "-f", "ipod"}, nil
	case "mp3":
		return []string{"-c:a", "libmp3lame", "-q:a", "4"}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// Transcode encodes the master WAV into the container named by outPath's
// extension, embedding title, artist, and cover art.
func (e *FFmpegEncoder) Transcode(ctx context.Context, inPath, outPath string, meta Metadata) error {
	codec, err := codecArgs(filepath.Ext(outPath))
	if err != nil {
		return err
	}

	args := []string{"-y", "-i", inPath}

	// Cover art rides along as an attached picture stream.
	var artPath string
	if len(meta.Artwork) > 0 {
		art, err := os.CreateTemp("", "bookvoice-art-*")
		if err != nil {
			return fmt.Errorf("%w: stage artwork: %v", ErrTranscodeFailed, err)
		}
		artPath = art.Name()
		defer os.Remove(artPath)

		if _, err := art.Write(meta.Artwork); err != nil {
			art.Close()
			return fmt.Errorf("%w: stage artwork: %v", ErrTranscodeFailed, err)
		}
		art.Close()

		args = append(args, "-i", artPath, "-map", "0:a", "-map", "1:0",
			"-c:v", "copy", "-disposition:v:0", "attached_pic")
	}

	args = append(args, codec...)
	args = append(args,
		"-metadata", "title="+meta.Title,
		"-metadata", "artist="+meta.Artist,
		"-loglevel", "error",
		outPath,
	)

	if e.logger != nil {
		e.logger.Debug("transcoding", "in", inPath, "out", outPath)
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrTranscodeFailed, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// StubEncoder is an in-memory Encoder for tests. It writes a marker file
// to the output path and records the metadata it was given.
type StubEncoder struct {
	Err      error
	Calls    int
	LastIn   string
	LastOut  string
	LastMeta Metadata
}

// Transcode records the call and writes a small marker output file.
func (s *StubEncoder) Transcode(_ context.Context, inPath, outPath string, meta Metadata) error {
	s.Calls++
	s.LastIn = inPath
	s.LastOut = outPath
	s.LastMeta = meta
	if s.Err != nil {
		return s.Err
	}
	return os.WriteFile(outPath, []byte("encoded"), 0o644)
}
