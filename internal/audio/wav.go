package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// WAV format constants.
const (
	// headerSize is the size of the canonical 44-byte WAV header.
	headerSize = 44

	// formatPCM is the wave format code for integer PCM.
	formatPCM = 1
	// formatIEEEFloat is the wave format code for IEEE float PCM.
	formatIEEEFloat = 3
)

var (
	// ErrNotWAV is returned when a file does not carry a readable WAV header.
	ErrNotWAV = errors.New("audio: not a WAV file")
)

// encodeHeader builds a 44-byte WAV header for the given format and data size.
func encodeHeader(f Format, dataSize int) []byte {
	bitsPerSample := f.Encoding.BytesPerSample() * 8
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8

	formatCode := uint16(formatPCM)
	if f.Encoding == Float32LE {
		formatCode = formatIEEEFloat
	}

	header := make([]byte, headerSize)

	// RIFF header
	copy(header[0:4], "RIFF")
	putLE32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")

	// fmt subchunk
	copy(header[12:16], "fmt ")
	putLE32(header[16:20], 16) // subchunk size
	putLE16(header[20:22], formatCode)
	putLE16(header[22:24], uint16(f.Channels))
	putLE32(header[24:28], uint32(f.SampleRate))
	putLE32(header[28:32], uint32(byteRate))
	putLE16(header[32:34], uint16(blockAlign))
	putLE16(header[34:36], uint16(bitsPerSample))

	// data subchunk
	copy(header[36:40], "data")
	putLE32(header[40:44], uint32(dataSize))

	return header
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getLE16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func getLE32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// WAVWriter writes PCM data to a WAV file incrementally. The header is
// written with placeholder sizes and patched on Close.
type WAVWriter struct {
	f      *os.File
	format Format
	frames int
	// partial holds the byte count of a trailing incomplete frame.
	partial int
}

// NewWAVWriter creates path and writes a provisional header for format.
func NewWAVWriter(path string, format Format) (*WAVWriter, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("audio: invalid WAV format %s", format)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("audio: create %s: %w", path, err)
	}

	if _, err := f.Write(encodeHeader(format, 0)); err != nil {
		f.Close()
		return nil, fmt.Errorf("audio: write header %s: %w", path, err)
	}

	return &WAVWriter{f: f, format: format}, nil
}

// Format returns the writer's PCM format.
func (w *WAVWriter) Format() Format {
	return w.format
}

// Frames returns the number of frames written so far.
func (w *WAVWriter) Frames() int {
	return w.frames
}

// Write appends raw PCM bytes. The data is assumed to match the writer's
// format; partial frames are accepted and counted on the next write.
func (w *WAVWriter) Write(data []byte) (int, error) {
	n, err := w.f.Write(data)
	if n > 0 {
		total := w.partial + n
		w.frames += total / w.format.BytesPerFrame()
		w.partial = total % w.format.BytesPerFrame()
	}
	if err != nil {
		return n, fmt.Errorf("audio: write %s: %w", w.f.Name(), err)
	}
	return n, nil
}

// WriteBuffer appends a buffer's samples.
func (w *WAVWriter) WriteBuffer(b Buffer) error {
	_, err := w.Write(b.Data)
	return err
}

// Close patches the header sizes and closes the file.
func (w *WAVWriter) Close() error {
	info, err := w.f.Stat()
	if err != nil {
		w.f.Close()
		return fmt.Errorf("audio: stat %s: %w", w.f.Name(), err)
	}

	dataSize := int(info.Size()) - headerSize
	if dataSize < 0 {
		dataSize = 0
	}

	if _, err := w.f.WriteAt(encodeHeader(w.format, dataSize), 0); err != nil {
		w.f.Close()
		return fmt.Errorf("audio: finalize header %s: %w", w.f.Name(), err)
	}

	if err := w.f.Close(); err != nil {
		return fmt.Errorf("audio: close %s: %w", w.f.Name(), err)
	}
	return nil
}

// WriteWAV writes a sequence of buffers to a single WAV file using the
// format of the first buffer.
func WriteWAV(path string, buffers []Buffer) (Format, int, error) {
	if len(buffers) == 0 {
		return Format{}, 0, errors.New("audio: no buffers to write")
	}

	w, err := NewWAVWriter(path, buffers[0].Format)
	if err != nil {
		return Format{}, 0, err
	}

	for _, b := range buffers {
		if err := w.WriteBuffer(b); err != nil {
			w.Close()
			return Format{}, 0, err
		}
	}

	frames := w.Frames()
	if err := w.Close(); err != nil {
		return Format{}, 0, err
	}
	return buffers[0].Format, frames, nil
}

// WAVReader streams PCM frames out of a WAV file.
type WAVReader struct {
	f         *os.File
	format    Format
	frames    int
	remaining int
}

// OpenWAV opens a WAV file and parses its header.
func OpenWAV(path string) (*WAVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audio: open %s: %w", path, err)
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("audio: read header %s: %w", path, ErrNotWAV)
	}

	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" || string(header[12:16]) != "fmt " {
		f.Close()
		return nil, fmt.Errorf("audio: %s: %w", path, ErrNotWAV)
	}

	formatCode := getLE16(header[20:22])
	channels := int(getLE16(header[22:24]))
	sampleRate := int(getLE32(header[24:28]))
	bitsPerSample := int(getLE16(header[34:36]))
	dataSize := int(getLE32(header[40:44]))

	var enc Encoding
	switch {
	case formatCode == formatPCM && bitsPerSample == 16:
		enc = Int16LE
	case formatCode == formatIEEEFloat && bitsPerSample == 32:
		enc = Float32LE
	default:
		f.Close()
		return nil, fmt.Errorf("audio: %s: unsupported wave format %d/%d-bit: %w",
			path, formatCode, bitsPerSample, ErrNotWAV)
	}

	format := Format{SampleRate: sampleRate, Channels: channels, Encoding: enc}
	if !format.Valid() {
		f.Close()
		return nil, fmt.Errorf("audio: %s: invalid format in header: %w", path, ErrNotWAV)
	}

	return &WAVReader{
		f:         f,
		format:    format,
		frames:    dataSize / format.BytesPerFrame(),
		remaining: dataSize,
	}, nil
}

// Format returns the PCM format declared in the header.
func (r *WAVReader) Format() Format {
	return r.format
}

// Frames returns the total number of frames declared in the header.
func (r *WAVReader) Frames() int {
	return r.frames
}

// ReadFrames reads up to n frames of raw PCM. Returns io.EOF when the
// data chunk is exhausted.
func (r *WAVReader) ReadFrames(n int) ([]byte, error) {
	if r.remaining <= 0 {
		return nil, io.EOF
	}

	size := n * r.format.BytesPerFrame()
	if size > r.remaining {
		size = r.remaining
	}

	buf := make([]byte, size)
	read, err := io.ReadFull(r.f, buf)
	r.remaining -= read
	if err != nil {
		if read > 0 && (errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)) {
			// Truncated data chunk; hand back what exists.
			r.remaining = 0
			return buf[:read], nil
		}
		return nil, fmt.Errorf("audio: read %s: %w", r.f.Name(), err)
	}
	return buf, nil
}

// Close closes the underlying file.
func (r *WAVReader) Close() error {
	return r.f.Close()
}
