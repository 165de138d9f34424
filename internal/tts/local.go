package tts

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

	"github.com/dgnsrekt/bookvoice-go/internal/audio"
)

var (
	// ErrBinaryNotFound is returned when the synthesizer binary is not found.
	ErrBinaryNotFound = errors.New("TTS binary not found")
	// ErrNoVoices is returned when the model directory holds no voices.
	ErrNoVoices = errors.New("no TTS voices available")
)

// tokenLimitMarkers are stderr fragments the local synthesizer emits when
// the input exceeds its context window.
var tokenLimitMarkers = []string{
	"input too long",
	"token limit",
	"context length",
}

// LocalConfig holds configuration for the local exec-based engine.
type LocalConfig struct {
	// BinaryPath is the path to the synthesizer executable.
	BinaryPath string
	// ModelDir is the directory holding one ONNX model file per voice.
	ModelDir string
	// Language is the language tag reported for every voice.
	Language string
	// SampleRate is the engine's output sample rate in Hz.
	SampleRate int
	// MaxInputRunes caps the input length before the engine reports a
	// token limit without spawning the process. Zero disables the check.
	MaxInputRunes int
}

// LocalEngine synthesizes speech by running a local neural TTS binary
// that reads text on stdin and writes raw 16-bit mono PCM to stdout.
type LocalEngine struct {
	config LocalConfig
	voices []Voice
	logger *slog.Logger
}

// NewLocalEngine creates a local engine, verifying the binary exists and
// enumerating voices from the model directory.
func NewLocalEngine(cfg LocalConfig, logger *slog.Logger) (*LocalEngine, error) {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "piper"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}

	if _, err := exec.LookPath(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, cfg.BinaryPath)
	}

	voices, err := discoverVoices(cfg)
	if err != nil {
		return nil, err
	}

	return &LocalEngine{
		config: cfg,
		voices: voices,
		logger: logger,
	}, nil
}

// discoverVoices lists *.onnx model files, one voice per model.
func discoverVoices(cfg LocalConfig) ([]Voice, error) {
	entries, err := os.ReadDir(cfg.ModelDir)
	if err != nil {
		return nil, fmt.Errorf("%w: read model dir %s: %v", ErrNoVoices, cfg.ModelDir, err)
	}

	format := audio.Format{
		SampleRate: cfg.SampleRate,
		Channels:   1,
		Encoding:   audio.Int16LE,
	}

	var voices []Voice
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".onnx") {
			continue
		}
		voices = append(voices, Voice{
			ID:       strings.TrimSuffix(e.Name(), ".onnx"),
			Language: cfg.Language,
			Format:   format,
		})
	}

	if len(voices) == 0 {
		return nil, fmt.Errorf("%w: no .onnx models in %s", ErrNoVoices, cfg.ModelDir)
	}
	return voices, nil
}

// Name returns the engine identifier.
func (e *LocalEngine) Name() string {
	return "local"
}

// Voices returns the discovered voice catalog.
func (e *LocalEngine) Voices() []Voice {
	return append([]Voice(nil), e.voices...)
}

// Synthesize converts text to PCM by running the synthesizer binary.
func (e *LocalEngine) Synthesize(ctx context.Context, text, voiceID string) ([]audio.Buffer, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrSynthesisFailed)
	}

	voice, err := FindVoice(e, voiceID)
	if err != nil {
		return nil, err
	}

	if e.config.MaxInputRunes > 0 && len([]rune(text)) > e.config.MaxInputRunes {
		return nil, fmt.Errorf("%w: %d runes", ErrTokenLimit, len([]rune(text)))
	}

	modelPath := filepath.Join(e.config.ModelDir, voice.ID+".onnx")
	args := []string{
		"--model", modelPath,
		"--output-raw",
	}

	if e.logger != nil {
		e.logger.Debug("running synthesizer",
			"binary", e.config.BinaryPath,
			"voice", voice.ID,
			"text_length", len(text),
		)
	}

	cmd := exec.CommandContext(ctx, e.config.BinaryPath, args...)
	cmd.Stdin = bytes.NewReader([]byte(text))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isTokenLimitStderr(stderr.String()) {
			return nil, fmt.Errorf("%w: %s", ErrTokenLimit, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("%w: %v: %s", ErrSynthesisFailed, err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no audio output", ErrSynthesisFailed)
	}

	return []audio.Buffer{{Format: voice.Format, Data: raw}}, nil
}

// isTokenLimitStderr reports whether stderr output names a context
// overflow rather than a general failure.
func isTokenLimitStderr(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range tokenLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// LocalFactory returns a Factory producing independent local engines.
func LocalFactory(cfg LocalConfig, logger *slog.Logger) Factory {
	return func() (Engine, error) {
		return NewLocalEngine(cfg, logger)
	}
}
