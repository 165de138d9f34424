// Package synth schedules bounded-parallel speech synthesis over
// chapters, recovering from token-limit overflows by adaptive bisection.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/dgnsrekt/bookvoice-go/internal/audio"
	"github.com/dgnsrekt/bookvoice-go/internal/tts"
)

// maxWorkers caps synthesis parallelism regardless of CPU count.
const maxWorkers = 8

// ChapterText is a normalized chapter ready for synthesis.
type ChapterText struct {
	Index int
	Title string
	Text  string
}

// ChapterAudio is the synthesized result for one chapter.
type ChapterAudio struct {
	Index    int
	Title    string
	Buffers  []audio.Buffer
	Duration float64
	// LimitHits counts token-limit overflows recovered by bisection.
	LimitHits int
}

// Options control a scheduler run.
type Options struct {
	// VoiceID selects the voice; empty picks the engine default.
	VoiceID string
	// Workers is the user's parallelism cap. Zero means no user cap.
	Workers int
	// OnChapterDone, when set, is called after each chapter completes
	// with the number of completed chapters and the total.
	OnChapterDone func(done, total int)
	// OnChapterAudio, when set, consumes each chapter's buffers as soon
	// as the chapter completes; the result kept by the scheduler then
	// carries no buffers. Callbacks may run concurrently from worker
	// goroutines. A returned error aborts the run.
	OnChapterAudio func(ChapterAudio) error
}

// workerCount computes the effective worker count:
// max(1, min(CPU, chapters, user cap, 8)).
func workerCount(chapters, userCap int) int {
	w := runtime.NumCPU()
	if chapters < w {
		w = chapters
	}
	if userCap > 0 && userCap < w {
		w = userCap
	}
	if w > maxWorkers {
		w = maxWorkers
	}
	if w < 1 {
		w = 1
	}
	return w
}

// Scheduler dispatches chapters to per-worker TTS engines.
type Scheduler struct {
	factory tts.Factory
	logger  *slog.Logger
}

// NewScheduler creates a scheduler. The factory is invoked once per
// worker so engine instances are never shared across chapters running
// concurrently.
func NewScheduler(factory tts.Factory, logger *slog.Logger) *Scheduler {
	return &Scheduler{factory: factory, logger: logger}
}

// Run synthesizes all chapters and returns results sorted by chapter
// index. Any chapter failure aborts the run; cancellation returns the
// context error without partial results.
func (s *Scheduler) Run(ctx context.Context, chapters []ChapterText, opts Options) ([]ChapterAudio, error) {
	if len(chapters) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := workerCount(len(chapters), opts.Workers)
	s.logger.Info("starting synthesis",
		"chapters", len(chapters),
		"workers", w,
		"voice", opts.VoiceID,
	)

	jobs := make(chan ChapterText)
	results := make(chan ChapterAudio, len(chapters))

	var (
		mu       sync.Mutex
		firstErr error
		done     int
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	var wg sync.WaitGroup
	for i := 0; i < w; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			engine, err := s.factory()
			if err != nil {
				fail(fmt.Errorf("create TTS engine: %w", err))
				return
			}

			for job := range jobs {
				if ctx.Err() != nil {
					return
				}

				result, err := s.synthesizeChapter(ctx, engine, job, opts.VoiceID)
				if err != nil {
					fail(err)
					return
				}

				if opts.OnChapterAudio != nil {
					if err := opts.OnChapterAudio(result); err != nil {
						fail(err)
						return
					}
					result.Buffers = nil
				}
				results <- result

				mu.Lock()
				done++
				n := done
				mu.Unlock()
				if opts.OnChapterDone != nil {
					opts.OnChapterDone(n, len(chapters))
				}
			}
		}()
	}

	// Dispatch in index order; the cancellation check before each send
	// bounds how far a cancelled run keeps going.
	go func() {
		defer close(jobs)
		for _, ch := range chapters {
			select {
			case jobs <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(results)

	mu.Lock()
	err := firstErr
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]ChapterAudio, 0, len(chapters))
	for r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })

	return out, nil
}

// synthesizeChapter runs one chapter through the fallback synthesis and
// computes its duration.
func (s *Scheduler) synthesizeChapter(ctx context.Context, engine tts.Engine, job ChapterText, voiceID string) (ChapterAudio, error) {
	result := ChapterAudio{Index: job.Index, Title: job.Title}

	if strings.TrimSpace(job.Text) == "" {
		s.logger.Warn("chapter has no text, producing silence", "chapter", job.Index, "title", job.Title)
		return result, nil
	}

	buffers, hits, err := s.synthesizeWithFallback(ctx, engine, job.Text, voiceID)
	if err != nil {
		return ChapterAudio{}, fmt.Errorf("chapter %d (%s): %w", job.Index, job.Title, err)
	}

	result.Buffers = buffers
	result.LimitHits = hits
	for _, b := range buffers {
		result.Duration += b.Duration()
	}

	s.logger.Debug("chapter synthesized",
		"chapter", job.Index,
		"buffers", len(buffers),
		"duration_s", result.Duration,
		"limit_hits", hits,
	)
	return result, nil
}

// synthesizeWithFallback synthesizes text, recursively bisecting on
// token-limit overflows. Buffers are returned in text order (in-order
// traversal of the bisection tree). Every recursion strictly shrinks the
// input, so termination is guaranteed; a single character that still
// overflows surfaces as a synthesis failure.
func (s *Scheduler) synthesizeWithFallback(ctx context.Context, engine tts.Engine, text, voiceID string) ([]audio.Buffer, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	buffers, err := engine.Synthesize(ctx, text, voiceID)
	if err == nil {
		return buffers, 0, nil
	}
	if !errors.Is(err, tts.ErrTokenLimit) {
		return nil, 0, err
	}

	left, right := splitText(text)
	if right == "" {
		return nil, 0, fmt.Errorf("%w: token limit on unsplittable input (%d bytes)",
			tts.ErrSynthesisFailed, len(text))
	}

	s.logger.Debug("token limit hit, bisecting",
		"length", len(text),
		"left", len(left),
		"right", len(right),
	)

	leftBufs, leftHits, err := s.synthesizeWithFallback(ctx, engine, left, voiceID)
	if err != nil {
		return nil, 0, err
	}
	rightBufs, rightHits, err := s.synthesizeWithFallback(ctx, engine, right, voiceID)
	if err != nil {
		return nil, 0, err
	}

	return append(leftBufs, rightBufs...), 1 + leftHits + rightHits, nil
}
