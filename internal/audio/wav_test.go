package audio

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFormat_BytesPerFrame(t *testing.T) {
	tests := []struct {
		format Format
		want   int
	}{
		{Format{SampleRate: 24000, Channels: 1, Encoding: Float32LE}, 4},
		{Format{SampleRate: 22050, Channels: 1, Encoding: Int16LE}, 2},
		{Format{SampleRate: 48000, Channels: 2, Encoding: Int16LE}, 4},
		{Format{SampleRate: 48000, Channels: 2, Encoding: Float32LE}, 8},
	}

	for _, tt := range tests {
		if got := tt.format.BytesPerFrame(); got != tt.want {
			t.Errorf("BytesPerFrame(%s) = %d, want %d", tt.format, got, tt.want)
		}
	}
}

func TestBuffer_FramesAndDuration(t *testing.T) {
	f := Format{SampleRate: 24000, Channels: 1, Encoding: Float32LE}
	b := Buffer{Format: f, Data: make([]byte, 24000*4)}

	if b.Frames() != 24000 {
		t.Errorf("Frames() = %d, want 24000", b.Frames())
	}
	if b.Duration() != 1.0 {
		t.Errorf("Duration() = %v, want 1.0", b.Duration())
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.wav")
	format := Format{SampleRate: 22050, Channels: 1, Encoding: Int16LE}

	data := make([]byte, 100*format.BytesPerFrame())
	for i := range data {
		data[i] = byte(i)
	}

	w, err := NewWAVWriter(path, format)
	if err != nil {
		t.Fatalf("NewWAVWriter() error = %v", err)
	}
	if err := w.WriteBuffer(Buffer{Format: format, Data: data}); err != nil {
		t.Fatalf("WriteBuffer() error = %v", err)
	}
	if w.Frames() != 100 {
		t.Errorf("writer Frames() = %d, want 100", w.Frames())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := OpenWAV(path)
	if err != nil {
		t.Fatalf("OpenWAV() error = %v", err)
	}
	defer r.Close()

	if r.Format() != format {
		t.Errorf("reader Format() = %v, want %v", r.Format(), format)
	}
	if r.Frames() != 100 {
		t.Errorf("reader Frames() = %d, want 100", r.Frames())
	}

	var got []byte
	for {
		chunk, err := r.ReadFrames(32)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrames() error = %v", err)
		}
		got = append(got, chunk...)
	}

	if len(got) != len(data) {
		t.Fatalf("read %d bytes, want %d", len(got), len(data))
	}
	for i := range got {
		if got[i] != data[i] {
			t.Fatalf("data mismatch at byte %d", i)
		}
	}
}

func TestWAV_Float32Header(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "float.wav")
	format := Format{SampleRate: 24000, Channels: 1, Encoding: Float32LE}

	w, err := NewWAVWriter(path, format)
	if err != nil {
		t.Fatalf("NewWAVWriter() error = %v", err)
	}
	if _, err := w.Write(make([]byte, 10*4)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	r, err := OpenWAV(path)
	if err != nil {
		t.Fatalf("OpenWAV() error = %v", err)
	}
	defer r.Close()

	if r.Format().Encoding != Float32LE {
		t.Errorf("Encoding = %v, want Float32LE", r.Format().Encoding)
	}
	if r.Frames() != 10 {
		t.Errorf("Frames() = %d, want 10", r.Frames())
	}
}

func TestOpenWAV_NotWAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bogus.wav")
	if err := os.WriteFile(path, []byte("definitely not a wav file at all, no sir"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := OpenWAV(path)
	if !errors.Is(err, ErrNotWAV) {
		t.Errorf("OpenWAV(bogus) error = %v, want ErrNotWAV", err)
	}
}

func TestWriteWAV_Empty(t *testing.T) {
	_, _, err := WriteWAV(filepath.Join(t.TempDir(), "x.wav"), nil)
	if err == nil {
		t.Error("WriteWAV(nil) should return error")
	}
}
