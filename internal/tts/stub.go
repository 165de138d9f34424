package tts

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgnsrekt/bookvoice-go/internal/audio"
)

// Stub is an in-memory Engine for tests. It produces silent buffers whose
// frame count is proportional to the input length, and can simulate token
// limit overflows and hard failures.
type Stub struct {
	// Voice is the single voice the stub reports. Zero value gets a
	// 24 kHz mono float32 default.
	Voice Voice

	// TokenLimit fails inputs of this many runes or more with
	// ErrTokenLimit. Zero disables the limit.
	TokenLimit int

	// FramesPerRune sizes the produced buffers. Defaults to 10.
	FramesPerRune int

	// Err, when set, fails every call with this error.
	Err error

	// SynthFunc, when set, replaces the default synthesis behavior.
	SynthFunc func(ctx context.Context, text, voiceID string) ([]audio.Buffer, error)

	mu    sync.Mutex
	calls []string
}

// NewStub returns a stub with a 24 kHz mono float32 voice "test".
func NewStub() *Stub {
	return &Stub{
		Voice: Voice{
			ID:       "test",
			Language: "en",
			Format:   audio.Format{SampleRate: 24000, Channels: 1, Encoding: audio.Float32LE},
		},
	}
}

// Name returns the engine identifier.
func (s *Stub) Name() string {
	return "stub"
}

// Voices returns the stub's single voice.
func (s *Stub) Voices() []Voice {
	return []Voice{s.voice()}
}

func (s *Stub) voice() Voice {
	if s.Voice.Format.Valid() {
		return s.Voice
	}
	return Voice{
		ID:       "test",
		Language: "en",
		Format:   audio.Format{SampleRate: 24000, Channels: 1, Encoding: audio.Float32LE},
	}
}

// Synthesize records the call and returns a silent buffer sized by the
// input length.
func (s *Stub) Synthesize(ctx context.Context, text, voiceID string) ([]audio.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}

	runes := len([]rune(text))
	if s.TokenLimit > 0 && runes >= s.TokenLimit {
		return nil, fmt.Errorf("%w: %d runes", ErrTokenLimit, runes)
	}

	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	if s.SynthFunc != nil {
		return s.SynthFunc(ctx, text, voiceID)
	}

	perRune := s.FramesPerRune
	if perRune == 0 {
		perRune = 10
	}

	voice := s.voice()
	data := make([]byte, runes*perRune*voice.Format.BytesPerFrame())
	return []audio.Buffer{{Format: voice.Format, Data: data}}, nil
}

// Calls returns the synthesized texts in call order.
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Factory returns a Factory handing out this same stub. Tests that need
// per-worker isolation can construct stubs directly instead.
func (s *Stub) Factory() Factory {
	return func() (Engine, error) {
		return s, nil
	}
}
