// Package audio provides the PCM buffer model, WAV file I/O, and
// format conversion used by the conversion pipeline.
package audio

import (
	"fmt"
)

// Encoding identifies the sample layout of a PCM stream.
type Encoding int

const (
	// Int16LE is 16-bit signed little-endian PCM.
	Int16LE Encoding = iota
	// Float32LE is 32-bit IEEE float little-endian PCM.
	Float32LE
)

// String returns the ffmpeg format name for the encoding.
func (e Encoding) String() string {
	switch e {
	case Int16LE:
		return "s16le"
	case Float32LE:
		return "f32le"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the size of a single sample in bytes.
func (e Encoding) BytesPerSample() int {
	switch e {
	case Float32LE:
		return 4
	default:
		return 2
	}
}

// Format describes a PCM stream: sample rate, channel count, and sample
// layout. Samples are always interleaved.
type Format struct {
	SampleRate int
	Channels   int
	Encoding   Encoding
}

// BytesPerFrame returns the size of one frame (one sample per channel).
func (f Format) BytesPerFrame() int {
	return f.Channels * f.Encoding.BytesPerSample()
}

// Valid reports whether the format describes a usable PCM stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// String returns a compact description like "24000Hz/1ch/f32le".
func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, f.Encoding)
}

// Buffer holds raw interleaved PCM samples together with their format.
type Buffer struct {
	Format Format
	Data   []byte
}

// Frames returns the number of frames in the buffer.
func (b Buffer) Frames() int {
	bpf := b.Format.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return len(b.Data) / bpf
}

// Duration returns the buffer length in seconds.
func (b Buffer) Duration() float64 {
	if b.Format.SampleRate == 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.Format.SampleRate)
}
