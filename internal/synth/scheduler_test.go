package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/bookvoice-go/internal/audio"
	"github.com/dgnsrekt/bookvoice-go/internal/tts"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		chapters, userCap, max int
	}{
		{1, 0, 1},
		{100, 2, 2},
		{100, 0, maxWorkers},
		{3, 8, 3},
	}

	for _, tt := range tests {
		got := workerCount(tt.chapters, tt.userCap)
		if got < 1 || got > tt.max {
			t.Errorf("workerCount(%d, %d) = %d, want in [1, %d]",
				tt.chapters, tt.userCap, got, tt.max)
		}
	}
}

func TestScheduler_HappyPath(t *testing.T) {
	stub := tts.NewStub()
	s := NewScheduler(stub.Factory(), testLogger())

	chapters := []ChapterText{
		{Index: 0, Title: "One", Text: "First chapter text."},
		{Index: 1, Title: "Two", Text: "Second chapter text."},
		{Index: 2, Title: "Three", Text: "Third chapter text."},
	}

	results, err := s.Run(context.Background(), chapters, Options{Workers: 2})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Index != i {
			t.Errorf("result %d has Index %d, want sorted by index", i, r.Index)
		}
		if len(r.Buffers) != 1 {
			t.Errorf("chapter %d: %d buffers, want 1", i, len(r.Buffers))
		}
		if r.Duration <= 0 {
			t.Errorf("chapter %d: duration %v, want > 0", i, r.Duration)
		}
		if r.LimitHits != 0 {
			t.Errorf("chapter %d: limit hits %d, want 0", i, r.LimitHits)
		}
	}
}

func TestScheduler_BisectionScenario(t *testing.T) {
	stub := tts.NewStub()
	stub.TokenLimit = 30
	s := NewScheduler(stub.Factory(), testLogger())

	text := "Sentence one. Sentence two? Sentence three!"
	results, err := s.Run(context.Background(), []ChapterText{{Index: 0, Text: text}}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if results[0].LimitHits != 2 {
		t.Errorf("limit hits = %d, want 2", results[0].LimitHits)
	}

	// The synthesized pieces, in call order, re-assemble the input
	// (modulo whitespace trimmed at split points).
	joined := strings.Join(stub.Calls(), "")
	if stripSpaces(joined) != stripSpaces(text) {
		t.Errorf("pieces %q do not reassemble input %q", joined, text)
	}

	// One buffer per successful leaf, in order.
	if len(results[0].Buffers) != 3 {
		t.Errorf("got %d buffers, want 3", len(results[0].Buffers))
	}
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func TestScheduler_PartitionCoversEverything(t *testing.T) {
	stub := tts.NewStub()
	stub.TokenLimit = 10
	s := NewScheduler(stub.Factory(), testLogger())

	text := "One two three four five six seven eight nine ten eleven."
	results, err := s.Run(context.Background(), []ChapterText{{Index: 0, Text: text}}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if results[0].LimitHits == 0 {
		t.Error("expected at least one limit hit")
	}

	joined := stripSpaces(strings.Join(stub.Calls(), ""))
	if joined != stripSpaces(text) {
		t.Errorf("pieces do not cover the input exactly once:\ngot  %q\nwant %q", joined, stripSpaces(text))
	}
}

func TestScheduler_SingleCharOverflow(t *testing.T) {
	stub := tts.NewStub()
	stub.TokenLimit = 1 // every input overflows
	s := NewScheduler(stub.Factory(), testLogger())

	_, err := s.Run(context.Background(), []ChapterText{{Index: 0, Text: "abc"}}, Options{})
	if !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Errorf("error = %v, want ErrSynthesisFailed", err)
	}
}

func TestScheduler_SynthesisFailureAborts(t *testing.T) {
	stub := tts.NewStub()
	stub.Err = fmt.Errorf("%w: model exploded", tts.ErrSynthesisFailed)
	s := NewScheduler(stub.Factory(), testLogger())

	chapters := []ChapterText{
		{Index: 0, Text: "one"},
		{Index: 1, Text: "two"},
	}
	results, err := s.Run(context.Background(), chapters, Options{})
	if !errors.Is(err, tts.ErrSynthesisFailed) {
		t.Errorf("error = %v, want ErrSynthesisFailed", err)
	}
	if results != nil {
		t.Error("failed run must not return partial results")
	}
}

func TestScheduler_Cancellation(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once

	stub := tts.NewStub()
	stub.SynthFunc = func(ctx context.Context, text, voiceID string) ([]audio.Buffer, error) {
		// Block until cancelled after the first chapter.
		once.Do(func() { close(release) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s := NewScheduler(stub.Factory(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-release
		cancel()
	}()

	chapters := make([]ChapterText, 10)
	for i := range chapters {
		chapters[i] = ChapterText{Index: i, Text: fmt.Sprintf("chapter %d", i)}
	}

	results, err := s.Run(ctx, chapters, Options{Workers: 2})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if results != nil {
		t.Error("cancelled run must not return partial results")
	}
}

func TestScheduler_EmptyChapterProducesSilence(t *testing.T) {
	stub := tts.NewStub()
	s := NewScheduler(stub.Factory(), testLogger())

	results, err := s.Run(context.Background(), []ChapterText{{Index: 0, Text: "   "}}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 || len(results[0].Buffers) != 0 {
		t.Errorf("empty chapter: results = %+v", results)
	}
	if len(stub.Calls()) != 0 {
		t.Error("engine should not be called for empty text")
	}
}

func TestScheduler_ProgressCallback(t *testing.T) {
	stub := tts.NewStub()
	s := NewScheduler(stub.Factory(), testLogger())

	var mu sync.Mutex
	var seen []int
	opts := Options{
		OnChapterDone: func(done, total int) {
			mu.Lock()
			seen = append(seen, done)
			mu.Unlock()
			if total != 4 {
				t.Errorf("total = %d, want 4", total)
			}
		},
	}

	chapters := make([]ChapterText, 4)
	for i := range chapters {
		chapters[i] = ChapterText{Index: i, Text: fmt.Sprintf("text %d", i)}
	}

	if _, err := s.Run(context.Background(), chapters, opts); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 {
		t.Errorf("progress callbacks = %d, want 4", len(seen))
	}
}
