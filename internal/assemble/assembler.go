package assemble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgnsrekt/bookvoice-go/internal/audio"
)

// chunkFrames bounds how much PCM is held in memory while streaming
// chapter intermediates into the master file.
const chunkFrames = 8192

// BufferConverter converts a PCM buffer into a target format.
// *audio.Converter is the production implementation.
type BufferConverter interface {
	Convert(ctx context.Context, in audio.Buffer, target audio.Format) (audio.Buffer, error)
}

// Chapter is one synthesized chapter handed to the assembler.
type Chapter struct {
	Index   int
	Title   string
	Buffers []audio.Buffer
}

// Input describes one assembly run.
type Input struct {
	BookTitle  string
	Author     string
	Artwork    []byte
	Chapters   []Chapter
	SessionDir string
	OutputDir  string
	// Extension is the final container extension without dot, e.g. "m4b".
	Extension string
}

// Result describes the produced artifacts.
type Result struct {
	ContainerPath string
	SidecarPath   string
	ChapterFiles  []string
	ChapterStarts []float64
	TotalDuration float64
	// Warnings lists best-effort fallbacks taken during assembly.
	Warnings []string
}

// sidecarEntry is one chapters.json element. Fields are declared in
// alphabetical order so the marshaled keys come out sorted.
type sidecarEntry struct {
	Start float64 `json:"start"`
	Title string  `json:"title"`
}

// Assembler turns ordered chapter buffers into the final audiobook.
// It is single-threaded; ordering and the master file handle stay under
// its exclusive control.
type Assembler struct {
	converter BufferConverter
	encoder   Encoder
	logger    *slog.Logger
}

// New creates an assembler.
func New(converter BufferConverter, encoder Encoder, logger *slog.Logger) *Assembler {
	return &Assembler{
		converter: converter,
		encoder:   encoder,
		logger:    logger,
	}
}

// Assemble writes per-chapter intermediates, concatenates them into a
// master WAV, transcodes to the final container, and writes the chapter
// sidecar. On transcode failure the master file is kept for inspection.
func (a *Assembler) Assemble(ctx context.Context, in Input) (*Result, error) {
	if len(in.Chapters) == 0 {
		return nil, errors.New("assemble: no chapters")
	}

	target, ok := firstFormat(in.Chapters)
	if !ok {
		return nil, errors.New("assemble: no audio buffers in any chapter")
	}

	fin := FinalizeInput{
		BookTitle:  in.BookTitle,
		Author:     in.Author,
		Artwork:    in.Artwork,
		SessionDir: in.SessionDir,
		OutputDir:  in.OutputDir,
		Extension:  in.Extension,
		Target:     target,
	}

	var warnings []string
	for _, ch := range in.Chapters {
		path, chWarnings, err := a.WriteChapterFile(ctx, in.SessionDir, ch, target)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, chWarnings...)
		fin.ChapterFiles = append(fin.ChapterFiles, path)
		fin.ChapterTitles = append(fin.ChapterTitles, ch.Title)
	}

	result, err := a.Finalize(ctx, fin)
	if err != nil {
		return nil, err
	}
	result.Warnings = append(warnings, result.Warnings...)
	return result, nil
}

// FinalizeInput describes the master assembly and transcode step over
// already-written chapter intermediates.
type FinalizeInput struct {
	BookTitle     string
	Author        string
	Artwork       []byte
	ChapterFiles  []string
	ChapterTitles []string
	SessionDir    string
	OutputDir     string
	Extension     string
	Target        audio.Format
}

// Finalize concatenates the chapter intermediates into the master WAV,
// transcodes it into the tagged container, and writes the sidecar. On
// transcode failure the master file is kept for inspection.
func (a *Assembler) Finalize(ctx context.Context, in FinalizeInput) (*Result, error) {
	if len(in.ChapterFiles) == 0 {
		return nil, errors.New("assemble: no chapter files")
	}
	a.logger.Info("assembling audiobook",
		"chapters", len(in.ChapterFiles),
		"target_format", in.Target.String(),
	)

	result := &Result{ChapterFiles: in.ChapterFiles}

	masterPath := filepath.Join(in.SessionDir, "master.wav")
	starts, total, err := a.writeMaster(ctx, masterPath, in.ChapterFiles, in.Target)
	if err != nil {
		return nil, err
	}
	result.ChapterStarts = starts
	result.TotalDuration = total

	containerPath := resolveOutputPath(in.OutputDir, in.BookTitle, in.Extension)
	meta := Metadata{
		Title:   in.BookTitle,
		Artist:  in.Author,
		Artwork: in.Artwork,
	}
	if len(meta.Artwork) > 0 {
		if err := sniffArtwork(meta.Artwork); err != nil {
			a.logger.Warn("cover artwork not embeddable, skipping", "error", err)
			result.Warnings = append(result.Warnings, fmt.Sprintf("cover artwork skipped: %v", err))
			meta.Artwork = nil
		}
	}

	if err := a.encoder.Transcode(ctx, masterPath, containerPath, meta); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		// Master PCM kept for diagnostics.
		if errors.Is(err, ErrTranscodeFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}
	result.ContainerPath = containerPath

	if err := os.Remove(masterPath); err != nil {
		a.logger.Warn("could not remove master PCM file", "path", masterPath, "error", err)
	}

	sidecarPath := filepath.Join(in.OutputDir, "chapters.json")
	if err := writeSidecar(sidecarPath, in.ChapterTitles, starts); err != nil {
		return nil, err
	}
	result.SidecarPath = sidecarPath

	a.logger.Info("audiobook assembled",
		"container", containerPath,
		"duration_s", total,
		"chapters", len(in.ChapterFiles),
	)
	return result, nil
}

// firstFormat returns the format of the first produced buffer; it becomes
// the target format for the whole run.
func firstFormat(chapters []Chapter) (audio.Format, bool) {
	for _, ch := range chapters {
		for _, b := range ch.Buffers {
			return b.Format, true
		}
	}
	return audio.Format{}, false
}

// WriteChapterFile converts a chapter's buffers to the target format and
// writes them to its intermediate WAV. Conversion failures fall back to
// the original buffer with a warning. Chapters may be written in any
// order; the filename carries the index.
func (a *Assembler) WriteChapterFile(ctx context.Context, dir string, ch Chapter, target audio.Format) (string, []string, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	name := fmt.Sprintf("chapter_%02d_%s.wav", ch.Index+1, sanitizeName(ch.Title))
	path := filepath.Join(dir, name)

	w, err := audio.NewWAVWriter(path, target)
	if err != nil {
		return "", nil, err
	}

	var warnings []string
	for _, b := range ch.Buffers {
		if err := ctx.Err(); err != nil {
			w.Close()
			return "", nil, err
		}

		if b.Format != target {
			converted, err := a.converter.Convert(ctx, b, target)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					w.Close()
					return "", nil, err
				}
				msg := fmt.Sprintf("chapter %d: format conversion %s -> %s failed, using original buffer",
					ch.Index, b.Format, target)
				a.logger.Warn(msg, "error", err)
				warnings = append(warnings, msg)
			} else {
				b = converted
			}
		}

		if err := w.WriteBuffer(b); err != nil {
			w.Close()
			return "", nil, err
		}
	}

	if err := w.Close(); err != nil {
		return "", nil, err
	}
	return path, warnings, nil
}

// writeMaster appends each chapter intermediate to the master WAV in
// bounded chunks and returns the per-chapter start times and the total
// duration.
func (a *Assembler) writeMaster(ctx context.Context, masterPath string, chapterFiles []string, target audio.Format) ([]float64, float64, error) {
	master, err := audio.NewWAVWriter(masterPath, target)
	if err != nil {
		return nil, 0, err
	}

	starts := make([]float64, 0, len(chapterFiles))
	var elapsed float64

	for _, path := range chapterFiles {
		starts = append(starts, elapsed)

		r, err := audio.OpenWAV(path)
		if err != nil {
			master.Close()
			return nil, 0, err
		}

		for {
			if err := ctx.Err(); err != nil {
				r.Close()
				master.Close()
				return nil, 0, err
			}

			chunk, err := r.ReadFrames(chunkFrames)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				r.Close()
				master.Close()
				return nil, 0, err
			}
			if _, err := master.Write(chunk); err != nil {
				r.Close()
				master.Close()
				return nil, 0, err
			}
		}

		// Duration accounting uses each file's declared header, which is
		// always the target format; bytes of a best-effort unconverted
		// buffer are therefore counted as target-format frames.
		elapsed += float64(r.Frames()) / float64(r.Format().SampleRate)
		r.Close()
	}

	if err := master.Close(); err != nil {
		return nil, 0, err
	}
	return starts, elapsed, nil
}

// writeSidecar writes chapters.json: [{"start": seconds, "title": ...}].
func writeSidecar(path string, titles []string, starts []float64) error {
	entries := make([]sidecarEntry, 0, len(titles))
	for i, title := range titles {
		entries = append(entries, sidecarEntry{Start: starts[i], Title: title})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("assemble: marshal sidecar: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("assemble: write sidecar: %w", err)
	}
	return nil
}

// sanitizeName makes a string safe as a filename component.
func sanitizeName(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(`/:\?*"<>|`, r) {
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(r)
	}
	cleaned := strings.Join(strings.Fields(sb.String()), " ")
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}

// resolveOutputPath picks a collision-free container path, appending
// " (N)" for the smallest N that avoids an existing file.
func resolveOutputPath(dir, title, ext string) string {
	base := sanitizeName(title)
	path := filepath.Join(dir, base+"."+ext)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	for n := 1; ; n++ {
		path = filepath.Join(dir, fmt.Sprintf("%s (%d).%s", base, n, ext))
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
	}
}
