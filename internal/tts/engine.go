// Package tts defines the synthesis engine contract and a local
// exec-based neural engine implementation.
package tts

import (
	"context"
	"errors"

	"github.com/dgnsrekt/bookvoice-go/internal/audio"
)

var (
	// ErrTokenLimit is returned when the input text exceeds the model's
	// context window. Callers recover by splitting the input.
	ErrTokenLimit = errors.New("TTS token limit exceeded")
	// ErrSynthesisFailed is returned for any other synthesis failure.
	ErrSynthesisFailed = errors.New("TTS synthesis failed")
	// ErrVoiceNotFound is returned when the requested voice is unknown.
	ErrVoiceNotFound = errors.New("TTS voice not found")
)

// Voice describes an available voice and its canonical output format.
// Consecutive syntheses with the same voice always produce buffers of
// this format.
type Voice struct {
	ID       string
	Language string
	Format   audio.Format
}

// Engine is the interface for text-to-speech synthesis.
type Engine interface {
	// Synthesize converts text to PCM buffers using the given voice.
	Synthesize(ctx context.Context, text, voiceID string) ([]audio.Buffer, error)
	// Voices enumerates the available voices.
	Voices() []Voice
	// Name returns the engine identifier.
	Name() string
}

// Factory builds a fresh Engine. The scheduler calls it once per worker
// so no engine instance is shared across concurrent chapters.
type Factory func() (Engine, error)

// FindVoice resolves a voice by ID against an engine's catalog. An empty
// ID selects the first voice.
func FindVoice(engine Engine, voiceID string) (Voice, error) {
	voices := engine.Voices()
	if len(voices) == 0 {
		return Voice{}, ErrVoiceNotFound
	}
	if voiceID == "" {
		return voices[0], nil
	}
	for _, v := range voices {
		if v.ID == voiceID {
			return v, nil
		}
	}
	return Voice{}, ErrVoiceNotFound
}
