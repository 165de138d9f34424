// Package textproc turns chapter HTML into plain text ready for speech
// synthesis and derives chapter titles from content.
package textproc

import (
	"errors"
	"fmt"
)

// ErrNormalizationFailed is returned when a chapter cannot be normalized,
// typically because a user search/replace rule does not compile.
var ErrNormalizationFailed = errors.New("text normalization failed")

// TitleMode selects the chapter title heuristic.
type TitleMode string

const (
	// TitleAuto tries heading tags first and falls back to the leading
	// text when the result is empty or purely numeric.
	TitleAuto TitleMode = "auto"
	// TitleTagText always uses the first non-empty heading tag.
	TitleTagText TitleMode = "tagText"
	// TitleFirstFew always uses the first characters of the normalized text.
	TitleFirstFew TitleMode = "firstFew"
)

// NewlineMode selects how newlines surviving the HTML strip are rewritten.
type NewlineMode string

const (
	// NewlineSingle collapses any newline run to the break string.
	NewlineSingle NewlineMode = "single"
	// NewlineDouble collapses runs of two or more newlines to the break
	// string; an isolated newline becomes a single space. This treats a
	// lone mid-paragraph newline as a soft wrap for all inputs.
	NewlineDouble NewlineMode = "double"
	// NewlineNone replaces every newline with a single space.
	NewlineNone NewlineMode = "none"
)

// Rule is a user-supplied search/replace step applied to the full text.
type Rule struct {
	Pattern         string
	Replacement     string
	CaseInsensitive bool
}

// Config controls the normalization pipeline.
type Config struct {
	TitleMode       TitleMode
	NewlineMode     NewlineMode
	BreakString     string
	FootnoteCleanup bool
	Rules           []Rule
}

// DefaultConfig returns the default normalization settings.
func DefaultConfig() Config {
	return Config{
		TitleMode:       TitleAuto,
		NewlineMode:     NewlineDouble,
		BreakString:     "\n\n",
		FootnoteCleanup: true,
	}
}

// Validate checks the enumerated fields.
func (c Config) Validate() error {
	switch c.TitleMode {
	case TitleAuto, TitleTagText, TitleFirstFew:
	default:
		return fmt.Errorf("invalid title mode %q", c.TitleMode)
	}
	switch c.NewlineMode {
	case NewlineSingle, NewlineDouble, NewlineNone:
	default:
		return fmt.Errorf("invalid newline mode %q", c.NewlineMode)
	}
	return nil
}
