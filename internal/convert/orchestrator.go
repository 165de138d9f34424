// Package convert drives the EPUB-to-audiobook pipeline: parse,
// normalize, synthesize, assemble. It owns progress reporting and
// cooperative cancellation across all stages.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/dgnsrekt/bookvoice-go/internal/assemble"
	"github.com/dgnsrekt/bookvoice-go/internal/epub"
	"github.com/dgnsrekt/bookvoice-go/internal/synth"
	"github.com/dgnsrekt/bookvoice-go/internal/textproc"
	"github.com/dgnsrekt/bookvoice-go/internal/tts"
)

// State names an orchestrator stage.
type State string

// Conversion states, in pipeline order, plus the terminal outcomes.
const (
	StateIdle         State = "idle"
	StateParsing      State = "parsing"
	StateNormalizing  State = "normalizing"
	StateSynthesizing State = "synthesizing"
	StateAssembling   State = "assembling"
	StateComplete     State = "complete"
	StateCancelled    State = "cancelled"
	StateFailed       State = "failed"
)

// Progress is a consistent snapshot of the conversion's advancement.
type Progress struct {
	State    State
	Fraction float64
	Status   string
	Log      []string
}

// Config carries the per-run options.
type Config struct {
	Normalization textproc.Config
	VoiceID       string
	Workers       int
	// OutputFormat is the container extension without dot: "m4b" or "mp3".
	OutputFormat string
}

// Result describes a completed conversion.
type Result struct {
	ContainerPath string
	SidecarPath   string
	SessionDir    string
	ChapterFiles  []string
	Duration      float64
	// LimitHits is the total number of token-limit bisections observed.
	LimitHits int
	Warnings  []string
}

// Orchestrator runs conversions. A single orchestrator runs one
// conversion at a time.
type Orchestrator struct {
	factory   tts.Factory
	assembler *assemble.Assembler
	logger    *slog.Logger

	mu       sync.Mutex
	state    State
	fraction float64
	status   string
	log      []string
	cancel   context.CancelFunc

	progressCh chan Progress
}

// New creates an orchestrator wired to the given services.
func New(factory tts.Factory, converter assemble.BufferConverter, encoder assemble.Encoder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		factory:    factory,
		assembler:  assemble.New(converter, encoder, logger),
		logger:     logger,
		state:      StateIdle,
		progressCh: make(chan Progress, 64),
	}
}

// Progress returns the channel progress snapshots are emitted on. Slow
// consumers miss intermediate snapshots rather than blocking the run.
func (o *Orchestrator) Progress() <-chan Progress {
	return o.progressCh
}

// Snapshot returns the current progress.
func (o *Orchestrator) Snapshot() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Progress{
		State:    o.state,
		Fraction: o.fraction,
		Status:   o.status,
		Log:      append([]string(nil), o.log...),
	}
}

// Cancel requests cooperative cancellation. It is idempotent and safe to
// call from any goroutine.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	cancel := o.cancel
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// setProgress updates the shared progress fields and emits a snapshot.
func (o *Orchestrator) setProgress(state State, fraction float64, status string) {
	o.mu.Lock()
	o.state = state
	o.fraction = fraction
	o.status = status
	o.log = append(o.log, status)
	snapshot := Progress{
		State:    state,
		Fraction: fraction,
		Status:   status,
		Log:      append([]string(nil), o.log...),
	}
	o.mu.Unlock()

	select {
	case o.progressCh <- snapshot:
	default:
		// Channel full: drop the oldest queued snapshot so the latest
		// one, including a terminal state, still gets through.
		select {
		case <-o.progressCh:
		default:
		}
		select {
		case o.progressCh <- snapshot:
		default:
		}
	}
}

// Run converts the EPUB at epubPath into an audiobook under outputDir.
// It blocks until the conversion reaches a terminal state; callers
// wanting it off their goroutine run it themselves and use Progress and
// Cancel for interaction.
func (o *Orchestrator) Run(ctx context.Context, epubPath, outputDir string, cfg Config) (*Result, error) {
	if err := cfg.Normalization.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", textproc.ErrNormalizationFailed, err)
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "m4b"
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.cancel = nil
		o.mu.Unlock()
	}()

	// Parsing.
	o.setProgress(StateParsing, 0, "parsing "+filepath.Base(epubPath))
	book, err := epub.Open(epubPath)
	if err != nil {
		return nil, o.fail(err)
	}
	for _, w := range book.Warnings {
		o.logger.Warn("epub parse warning", "warning", w)
	}
	o.setProgress(StateParsing, 0, fmt.Sprintf("parsed %q by %s: %d chapters",
		book.Title, book.Author, len(book.Chapters)))

	session, err := NewSession(outputDir)
	if err != nil {
		return nil, o.fail(err)
	}
	o.logger.Info("session created", "id", session.ID, "dir", session.Dir)

	// Probe the engine once for the voice and its canonical format; the
	// first produced buffer will match it.
	probe, err := o.factory()
	if err != nil {
		return nil, o.fail(fmt.Errorf("create TTS engine: %w", err))
	}
	voice, err := tts.FindVoice(probe, cfg.VoiceID)
	if err != nil {
		return nil, o.fail(err)
	}

	// Normalizing.
	o.setProgress(StateNormalizing, 0, "normalizing chapter text")
	chapters := make([]synth.ChapterText, 0, len(book.Chapters))
	for _, ch := range book.Chapters {
		if err := ctx.Err(); err != nil {
			return nil, o.terminal(session, err)
		}

		text, err := textproc.Normalize(ch.HTML, cfg.Normalization)
		if err != nil {
			return nil, o.fail(fmt.Errorf("chapter %d (%s): %w", ch.Index, ch.Title, err))
		}

		chapters = append(chapters, synth.ChapterText{
			Index: ch.Index,
			Title: resolveTitle(ch, text, cfg.Normalization.TitleMode),
			Text:  text,
		})
	}

	// Synthesizing. Intermediates are written as chapters complete, so a
	// cancelled run leaves the finished chapters behind for inspection.
	o.setProgress(StateSynthesizing, 0, "synthesizing speech")
	total := len(chapters)

	var (
		asmMu        sync.Mutex
		chapterFiles = make([]string, total)
		warnings     []string
	)
	scheduler := synth.NewScheduler(o.factory, o.logger)
	results, err := scheduler.Run(ctx, chapters, synth.Options{
		VoiceID: voice.ID,
		Workers: cfg.Workers,
		OnChapterAudio: func(ca synth.ChapterAudio) error {
			asmMu.Lock()
			defer asmMu.Unlock()
			path, w, err := o.assembler.WriteChapterFile(ctx, session.Dir, assemble.Chapter{
				Index:   ca.Index,
				Title:   ca.Title,
				Buffers: ca.Buffers,
			}, voice.Format)
			if err != nil {
				return err
			}
			chapterFiles[ca.Index] = path
			warnings = append(warnings, w...)
			return nil
		},
		OnChapterDone: func(done, n int) {
			o.setProgress(StateSynthesizing, float64(done)/float64(n),
				fmt.Sprintf("synthesized chapter %d/%d", done, n))
		},
	})
	if err != nil {
		return nil, o.terminal(session, err)
	}

	limitHits := 0
	for _, r := range results {
		limitHits += r.LimitHits
	}

	// Assembling.
	o.setProgress(StateAssembling, o.Snapshot().Fraction, "assembling audiobook")
	fin := assemble.FinalizeInput{
		BookTitle:  book.Title,
		Author:     book.Author,
		Artwork:    book.Cover,
		SessionDir: session.Dir,
		OutputDir:  outputDir,
		Extension:  cfg.OutputFormat,
		Target:     voice.Format,
	}
	for _, r := range results {
		fin.ChapterFiles = append(fin.ChapterFiles, chapterFiles[r.Index])
		fin.ChapterTitles = append(fin.ChapterTitles, r.Title)
	}

	asmResult, err := o.assembler.Finalize(ctx, fin)
	if err != nil {
		return nil, o.terminal(session, err)
	}

	result := &Result{
		ContainerPath: asmResult.ContainerPath,
		SidecarPath:   asmResult.SidecarPath,
		SessionDir:    session.Dir,
		ChapterFiles:  asmResult.ChapterFiles,
		Duration:      asmResult.TotalDuration,
		LimitHits:     limitHits,
		Warnings:      append(warnings, asmResult.Warnings...),
	}

	o.setProgress(StateComplete, 1.0, fmt.Sprintf("audiobook written to %s", result.ContainerPath))
	if limitHits > 0 {
		// Bisections are a warning in the summary, never an error.
		o.logger.Warn("token limit reached during synthesis; input was split",
			"bisections", limitHits)
	}
	for _, w := range result.Warnings {
		o.logger.Warn("conversion warning", "warning", w)
	}
	return result, nil
}

// terminal maps an error to the cancelled or failed terminal state. The
// session directory is preserved either way.
func (o *Orchestrator) terminal(session *Session, err error) error {
	if errors.Is(err, context.Canceled) {
		o.setProgress(StateCancelled, o.Snapshot().Fraction,
			fmt.Sprintf("conversion cancelled; session kept at %s", session.Dir))
		return err
	}
	return o.fail(err)
}

// fail records the failed terminal state.
func (o *Orchestrator) fail(err error) error {
	o.setProgress(StateFailed, o.Snapshot().Fraction, "conversion failed: "+err.Error())
	return err
}

// resolveTitle picks the chapter title: an explicit heuristic mode always
// applies; auto prefers the TOC title and falls back to the content
// heuristic, then to the reader's href-derived name.
func resolveTitle(ch epub.Chapter, normalized string, mode textproc.TitleMode) string {
	switch mode {
	case textproc.TitleTagText, textproc.TitleFirstFew:
		return textproc.ExtractTitle(ch.HTML, normalized, mode)
	default:
		if ch.FromTOC {
			return textproc.SanitizeTitle(ch.Title)
		}
		if t := textproc.ExtractTitle(ch.HTML, normalized, textproc.TitleAuto); t != textproc.BlankTitle {
			return t
		}
		return textproc.SanitizeTitle(ch.Title)
	}
}
