package assemble

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgnsrekt/bookvoice-go/internal/audio"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// stubConverter rescales frame counts without real resampling.
type stubConverter struct {
	err   error
	calls int
}

func (c *stubConverter) Convert(_ context.Context, in audio.Buffer, target audio.Format) (audio.Buffer, error) {
	c.calls++
	if c.err != nil {
		return audio.Buffer{}, c.err
	}
	frames := in.Frames() * target.SampleRate / in.Format.SampleRate
	return audio.Buffer{Format: target, Data: make([]byte, frames*target.BytesPerFrame())}, nil
}

func silentBuffer(f audio.Format, frames int) audio.Buffer {
	return audio.Buffer{Format: f, Data: make([]byte, frames*f.BytesPerFrame())}
}

var (
	f24 = audio.Format{SampleRate: 24000, Channels: 1, Encoding: audio.Float32LE}
	f16 = audio.Format{SampleRate: 16000, Channels: 1, Encoding: audio.Int16LE}
)

func testInput(t *testing.T, chapters []Chapter) Input {
	t.Helper()
	return Input{
		BookTitle:  "Test Book",
		Author:     "Jane Roe",
		Chapters:   chapters,
		SessionDir: t.TempDir(),
		OutputDir:  t.TempDir(),
		Extension:  "m4b",
	}
}

func TestAssemble_TwoChapterHappyPath(t *testing.T) {
	enc := &StubEncoder{}
	a := New(&stubConverter{}, enc, testLogger())

	in := testInput(t, []Chapter{
		{Index: 0, Title: "One", Buffers: []audio.Buffer{silentBuffer(f24, 24000)}},
		{Index: 1, Title: "Two", Buffers: []audio.Buffer{silentBuffer(f24, 24000)}},
	})

	res, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if len(res.ChapterFiles) != 2 {
		t.Fatalf("got %d chapter files, want 2", len(res.ChapterFiles))
	}
	for _, f := range res.ChapterFiles {
		if _, err := os.Stat(f); err != nil {
			t.Errorf("intermediate missing: %v", err)
		}
	}

	if res.ChapterStarts[0] != 0 || res.ChapterStarts[1] != 1.0 {
		t.Errorf("starts = %v, want [0 1]", res.ChapterStarts)
	}
	if res.TotalDuration != 2.0 {
		t.Errorf("total duration = %v, want 2.0", res.TotalDuration)
	}

	// Container produced, master removed.
	if _, err := os.Stat(res.ContainerPath); err != nil {
		t.Errorf("container missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(in.SessionDir, "master.wav")); !os.IsNotExist(err) {
		t.Error("master.wav should be deleted after a successful transcode")
	}

	if enc.LastMeta.Title != "Test Book" || enc.LastMeta.Artist != "Jane Roe" {
		t.Errorf("metadata = %+v", enc.LastMeta)
	}

	// Sidecar shape: sorted keys, entries in order.
	data, err := os.ReadFile(res.SidecarPath)
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("sidecar is not valid JSON: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("sidecar has %d entries, want 2", len(entries))
	}
	if entries[0]["title"] != "One" || entries[0]["start"].(float64) != 0 {
		t.Errorf("entry 0 = %v", entries[0])
	}
	if entries[1]["start"].(float64) != 1.0 {
		t.Errorf("entry 1 = %v", entries[1])
	}
	if bytes.IndexByte(data, '\n') < 0 {
		t.Error("sidecar should be pretty-printed")
	}
	if strings.Index(string(data), `"start"`) > strings.Index(string(data), `"title"`) {
		t.Error("sidecar keys are not sorted")
	}
}

func TestAssemble_FormatUnification(t *testing.T) {
	conv := &stubConverter{}
	a := New(conv, &StubEncoder{}, testLogger())

	// First chapter fixes the target; second differs and is converted.
	in := testInput(t, []Chapter{
		{Index: 0, Title: "A", Buffers: []audio.Buffer{silentBuffer(f24, 24000)}},
		{Index: 1, Title: "B", Buffers: []audio.Buffer{silentBuffer(f16, 16000)}},
	})

	res, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if conv.calls != 1 {
		t.Errorf("converter calls = %d, want 1", conv.calls)
	}
	// 1 s at 24 kHz + 1 s converted from 16 kHz.
	if res.TotalDuration != 2.0 {
		t.Errorf("total duration = %v, want 2.0", res.TotalDuration)
	}

	r, err := audio.OpenWAV(res.ChapterFiles[1])
	if err != nil {
		t.Fatalf("open converted chapter: %v", err)
	}
	defer r.Close()
	if r.Format() != f24 {
		t.Errorf("converted chapter format = %v, want %v", r.Format(), f24)
	}
}

func TestAssemble_ConversionFailureIsBestEffort(t *testing.T) {
	conv := &stubConverter{err: errors.New("resampler exploded")}
	a := New(conv, &StubEncoder{}, testLogger())

	in := testInput(t, []Chapter{
		{Index: 0, Title: "A", Buffers: []audio.Buffer{silentBuffer(f24, 2400)}},
		{Index: 1, Title: "B", Buffers: []audio.Buffer{silentBuffer(f16, 1600)}},
	})

	res, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("conversion failure must not abort the run: %v", err)
	}
	if len(res.Warnings) == 0 {
		t.Error("expected a conversion warning")
	}
}

func TestAssemble_DuplicateTitlesGetDistinctFiles(t *testing.T) {
	a := New(&stubConverter{}, &StubEncoder{}, testLogger())

	in := testInput(t, []Chapter{
		{Index: 0, Title: "Chapter", Buffers: []audio.Buffer{silentBuffer(f24, 100)}},
		{Index: 1, Title: "Chapter", Buffers: []audio.Buffer{silentBuffer(f24, 100)}},
	})

	res, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if res.ChapterFiles[0] == res.ChapterFiles[1] {
		t.Errorf("duplicate titles produced the same file: %s", res.ChapterFiles[0])
	}
}

func TestAssemble_ContainerNameCollision(t *testing.T) {
	a := New(&stubConverter{}, &StubEncoder{}, testLogger())

	in := testInput(t, []Chapter{
		{Index: 0, Title: "A", Buffers: []audio.Buffer{silentBuffer(f24, 100)}},
	})

	// Occupy the natural name and the first suffix.
	if err := os.WriteFile(filepath.Join(in.OutputDir, "Test Book.m4b"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(in.OutputDir, "Test Book (1).m4b"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := a.Assemble(context.Background(), in)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	want := filepath.Join(in.OutputDir, "Test Book (2).m4b")
	if res.ContainerPath != want {
		t.Errorf("container = %q, want %q", res.ContainerPath, want)
	}
}

func TestAssemble_TranscodeFailureKeepsMaster(t *testing.T) {
	enc := &StubEncoder{Err: ErrTranscodeFailed}
	a := New(&stubConverter{}, enc, testLogger())

	in := testInput(t, []Chapter{
		{Index: 0, Title: "A", Buffers: []audio.Buffer{silentBuffer(f24, 100)}},
	})

	_, err := a.Assemble(context.Background(), in)
	if !errors.Is(err, ErrTranscodeFailed) {
		t.Fatalf("error = %v, want ErrTranscodeFailed", err)
	}

	if _, err := os.Stat(filepath.Join(in.SessionDir, "master.wav")); err != nil {
		t.Error("master.wav must be kept when transcoding fails")
	}
	if _, err := os.Stat(filepath.Join(in.OutputDir, "chapters.json")); !os.IsNotExist(err) {
		t.Error("sidecar must not be written when transcoding fails")
	}
}

func TestAssemble_ArtworkSniffing(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatal(err)
	}

	t.Run("valid artwork passes through", func(t *testing.T) {
		enc := &StubEncoder{}
		a := New(&stubConverter{}, enc, testLogger())

		in := testInput(t, []Chapter{
			{Index: 0, Title: "A", Buffers: []audio.Buffer{silentBuffer(f24, 100)}},
		})
		in.Artwork = buf.Bytes()

		if _, err := a.Assemble(context.Background(), in); err != nil {
			t.Fatalf("Assemble() error = %v", err)
		}
		if len(enc.LastMeta.Artwork) == 0 {
			t.Error("valid artwork was dropped")
		}
	})

	t.Run("garbage artwork is dropped", func(t *testing.T) {
		enc := &StubEncoder{}
		a := New(&stubConverter{}, enc, testLogger())

		in := testInput(t, []Chapter{
			{Index: 0, Title: "A", Buffers: []audio.Buffer{silentBuffer(f24, 100)}},
		})
		in.Artwork = []byte("not an image")

		res, err := a.Assemble(context.Background(), in)
		if err != nil {
			t.Fatalf("Assemble() error = %v", err)
		}
		if len(enc.LastMeta.Artwork) != 0 {
			t.Error("garbage artwork was passed to the encoder")
		}
		if len(res.Warnings) == 0 {
			t.Error("expected an artwork warning")
		}
	})
}

func TestAssemble_StartTimesMonotonic(t *testing.T) {
	a := New(&stubConverter{}, &StubEncoder{}, testLogger())

	chapters := make([]Chapter, 5)
	for i := range chapters {
		chapters[i] = Chapter{
			Index:   i,
			Title:   "ch",
			Buffers: []audio.Buffer{silentBuffer(f24, (i+1)*1000)},
		}
	}

	res, err := a.Assemble(context.Background(), testInput(t, chapters))
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	for i := 1; i < len(res.ChapterStarts); i++ {
		if res.ChapterStarts[i] < res.ChapterStarts[i-1] {
			t.Errorf("starts not monotonic: %v", res.ChapterStarts)
		}
	}

	// Total equals the sum of chapter durations.
	var want float64
	for i := range chapters {
		want += float64((i+1)*1000) / 24000.0
	}
	if diff := res.TotalDuration - want; diff > 1.0/24000 || diff < -1.0/24000 {
		t.Errorf("total duration = %v, want %v", res.TotalDuration, want)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"My Book: A Story?", "My Book A Story"},
		{`a/b\c`, "a b c"},
		{"", "untitled"},
		{"<blank>", "blank"},
	}

	for _, tt := range tests {
		if got := sanitizeName(tt.in); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
