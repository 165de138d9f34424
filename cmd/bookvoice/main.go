// Command bookvoice converts a DRM-free EPUB into a narrated audiobook:
// one tagged audio container plus a chapters.json sidecar and a session
// folder of per-chapter intermediates.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dgnsrekt/bookvoice-go/internal/assemble"
	"github.com/dgnsrekt/bookvoice-go/internal/audio"
	"github.com/dgnsrekt/bookvoice-go/internal/config"
	"github.com/dgnsrekt/bookvoice-go/internal/convert"
	"github.com/dgnsrekt/bookvoice-go/internal/logging"
	"github.com/dgnsrekt/bookvoice-go/internal/textproc"
	"github.com/dgnsrekt/bookvoice-go/internal/tts"
)

// replaceFlags collects repeatable -replace rules of the form
// pattern/replacement or pattern/replacement/i.
type replaceFlags []textproc.Rule

func (r *replaceFlags) String() string {
	return fmt.Sprintf("%d rules", len(*r))
}

func (r *replaceFlags) Set(value string) error {
	parts := strings.SplitN(value, "/", 3)
	if len(parts) < 2 {
		return fmt.Errorf("want pattern/replacement[/i], got %q", value)
	}
	rule := textproc.Rule{Pattern: parts[0], Replacement: parts[1]}
	if len(parts) == 3 {
		if parts[2] != "i" {
			return fmt.Errorf("unknown rule flag %q", parts[2])
		}
		rule.CaseInsensitive = true
	}
	*r = append(*r, rule)
	return nil
}

func main() {
	var (
		in        = flag.String("in", "", "input EPUB file (required)")
		out       = flag.String("out", "", "output directory (overrides BOOKVOICE_OUTPUT_DIR)")
		voice     = flag.String("voice", "", "voice ID (overrides BOOKVOICE_VOICE)")
		workers   = flag.Int("workers", -1, "parallel synthesis workers, 0 = auto (overrides BOOKVOICE_WORKERS)")
		format    = flag.String("format", "", "output container: m4b or mp3 (overrides BOOKVOICE_FORMAT)")
		newlines  = flag.String("newlines", "", "newline handling: single, double, or none")
		breakStr  = flag.String("break", "", "break string inserted where newlines collapse")
		footnotes = flag.String("footnotes", "", "footnote cleanup: on or off")
		titles    = flag.String("titles", "", "title heuristic: auto, tagText, or firstFew")
		replaces  replaceFlags
	)
	flag.Var(&replaces, "replace", "search/replace rule pattern/replacement[/i] (repeatable)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Flags override the environment.
	if *out != "" {
		cfg.OutputDir = *out
	}
	if *voice != "" {
		cfg.Voice = *voice
	}
	if *workers >= 0 {
		cfg.Workers = *workers
	}
	if *format != "" {
		cfg.OutputFormat = *format
	}
	if *newlines != "" {
		cfg.NewlineMode = *newlines
	}
	if *breakStr != "" {
		cfg.BreakString = *breakStr
	}
	if *titles != "" {
		cfg.TitleMode = *titles
	}
	if *footnotes != "" {
		cfg.FootnoteCleanup = *footnotes == "on"
	}
	if err := cfg.Validate(); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if *in == "" {
		flag.Usage()
		os.Exit(2)
	}

	factory := tts.LocalFactory(tts.LocalConfig{
		BinaryPath:    cfg.TTSBinary,
		ModelDir:      cfg.TTSModelDir,
		Language:      cfg.Language,
		SampleRate:    cfg.TTSSampleRate,
		MaxInputRunes: cfg.TTSMaxInput,
	}, logger)

	converter, err := audio.NewConverter(logger)
	if err != nil {
		logger.Error("ffmpeg is required for format conversion", "error", err)
		os.Exit(1)
	}
	encoder, err := assemble.NewFFmpegEncoder(logger)
	if err != nil {
		logger.Error("ffmpeg is required for transcoding", "error", err)
		os.Exit(1)
	}

	orch := convert.New(factory, converter, encoder, logger)

	// SIGINT cancels cooperatively; the session folder is preserved.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, cancelling conversion", "signal", sig.String())
		orch.Cancel()
	}()

	go func() {
		for p := range orch.Progress() {
			fmt.Printf("[%3.0f%%] %s\n", p.Fraction*100, p.Status)
		}
	}()

	normalization := cfg.Normalization()
	normalization.Rules = []textproc.Rule(replaces)

	result, err := orch.Run(context.Background(), *in, cfg.OutputDir, convert.Config{
		Normalization: normalization,
		VoiceID:       cfg.Voice,
		Workers:       cfg.Workers,
		OutputFormat:  cfg.OutputFormat,
	})
	if err != nil {
		logger.Error("conversion did not complete", "error", err)
		os.Exit(1)
	}

	fmt.Printf("audiobook: %s\n", result.ContainerPath)
	fmt.Printf("chapters:  %s\n", result.SidecarPath)
	fmt.Printf("session:   %s\n", result.SessionDir)
	if result.LimitHits > 0 {
		fmt.Printf("note: input exceeded the TTS context %d time(s) and was split\n", result.LimitHits)
	}
}
