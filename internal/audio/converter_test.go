package audio

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

func requireFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed, skipping converter tests")
	}
}

func TestNewConverter(t *testing.T) {
	requireFFmpeg(t)

	conv, err := NewConverter(nil)
	if err != nil {
		t.Fatalf("NewConverter() error = %v", err)
	}
	if conv == nil {
		t.Fatal("NewConverter() returned nil")
	}
}

func TestNewConverterWithPath(t *testing.T) {
	conv := NewConverterWithPath("/usr/bin/ffmpeg", nil)
	if conv == nil {
		t.Fatal("NewConverterWithPath() returned nil")
	}
	if conv.ffmpegPath != "/usr/bin/ffmpeg" {
		t.Errorf("ffmpegPath = %q, want %q", conv.ffmpegPath, "/usr/bin/ffmpeg")
	}
}

func TestConverter_Convert_EmptyInput(t *testing.T) {
	conv := NewConverterWithPath("ffmpeg", nil)
	target := Format{SampleRate: 24000, Channels: 1, Encoding: Float32LE}

	_, err := conv.Convert(context.Background(), Buffer{}, target)
	if err == nil {
		t.Error("Convert(empty) should return error")
	}
}

func TestConverter_Convert_InvalidFormat(t *testing.T) {
	conv := NewConverterWithPath("ffmpeg", nil)

	in := Buffer{Format: Format{}, Data: []byte{0, 0}}
	_, err := conv.Convert(context.Background(), in, Format{SampleRate: 24000, Channels: 1})
	if !errors.Is(err, ErrConversionFailed) {
		t.Errorf("Convert(invalid format) error = %v, want ErrConversionFailed", err)
	}
}

func TestConverter_Convert_ContextCancel(t *testing.T) {
	requireFFmpeg(t)

	conv, _ := NewConverter(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := Format{SampleRate: 22050, Channels: 1, Encoding: Int16LE}
	in := Buffer{Format: src, Data: make([]byte, 1000*src.BytesPerFrame())}

	_, err := conv.Convert(ctx, in, Format{SampleRate: 24000, Channels: 1, Encoding: Float32LE})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Convert(cancelled) error = %v, want context.Canceled", err)
	}
}

func TestConverter_Convert_Resample(t *testing.T) {
	requireFFmpeg(t)

	conv, _ := NewConverter(nil)

	// One second of silence at 16 kHz mono int16.
	src := Format{SampleRate: 16000, Channels: 1, Encoding: Int16LE}
	in := Buffer{Format: src, Data: make([]byte, 16000*src.BytesPerFrame())}
	target := Format{SampleRate: 24000, Channels: 1, Encoding: Float32LE}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := conv.Convert(ctx, in, target)
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	if out.Format != target {
		t.Errorf("output format = %v, want %v", out.Format, target)
	}

	// Still roughly one second after resampling.
	if d := out.Duration(); d < 0.95 || d > 1.05 {
		t.Errorf("output duration = %v, want ~1.0", d)
	}
}
