// Package config provides environment-driven configuration for the
// conversion pipeline.
package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/sethvargo/go-envconfig"

	"github.com/dgnsrekt/bookvoice-go/internal/textproc"
)

// maxWorkerCap is the highest accepted value for BOOKVOICE_WORKERS; the
// scheduler clamps further against CPU count and chapter count.
const maxWorkerCap = 8

// Static errors for configuration validation.
var (
	// ErrInvalidFormat is returned for an unknown output format.
	ErrInvalidFormat = errors.New("config: BOOKVOICE_FORMAT must be m4b or mp3")
	// ErrInvalidWorkers is returned for an out-of-range worker cap.
	ErrInvalidWorkers = errors.New("config: BOOKVOICE_WORKERS must be between 0 and 8")
)

// Config holds all application configuration.
type Config struct {
	// Output settings
	OutputDir    string `env:"BOOKVOICE_OUTPUT_DIR, default=."`
	OutputFormat string `env:"BOOKVOICE_FORMAT, default=m4b"`

	// TTS settings
	Voice         string `env:"BOOKVOICE_VOICE"`
	Workers       int    `env:"BOOKVOICE_WORKERS, default=0"` // 0 = auto
	TTSBinary     string `env:"BOOKVOICE_TTS_BINARY, default=piper"`
	TTSModelDir   string `env:"BOOKVOICE_TTS_MODEL_DIR"`
	TTSSampleRate int    `env:"BOOKVOICE_TTS_SAMPLE_RATE, default=22050"`
	TTSMaxInput   int    `env:"BOOKVOICE_TTS_MAX_INPUT, default=0"` // runes; 0 = unlimited
	Language      string `env:"BOOKVOICE_LANGUAGE, default=en"`

	// Normalization settings
	TitleMode       string `env:"BOOKVOICE_TITLE_MODE, default=auto"`
	NewlineMode     string `env:"BOOKVOICE_NEWLINE_MODE, default=double"`
	BreakString     string `env:"BOOKVOICE_BREAK_STRING"` // empty = paragraph break
	FootnoteCleanup bool   `env:"BOOKVOICE_FOOTNOTE_CLEANUP, default=true"`

	// Logging settings
	LogLevel  string `env:"BOOKVOICE_LOG_LEVEL, default=info"`
	LogFormat string `env:"BOOKVOICE_LOG_FORMAT, default=text"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated and ranged values.
func (c *Config) Validate() error {
	switch c.OutputFormat {
	case "m4b", "mp3":
	default:
		return ErrInvalidFormat
	}

	if c.Workers < 0 || c.Workers > maxWorkerCap {
		return ErrInvalidWorkers
	}

	if err := c.Normalization().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return errors.New("config: BOOKVOICE_LOG_LEVEL must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return errors.New("config: BOOKVOICE_LOG_FORMAT must be one of: text, json")
	}

	return nil
}

// Normalization builds the normalizer configuration.
func (c *Config) Normalization() textproc.Config {
	breakStr := c.BreakString
	if breakStr == "" {
		breakStr = "\n\n"
	}
	return textproc.Config{
		TitleMode:       textproc.TitleMode(c.TitleMode),
		NewlineMode:     textproc.NewlineMode(c.NewlineMode),
		BreakString:     breakStr,
		FootnoteCleanup: c.FootnoteCleanup,
	}
}
