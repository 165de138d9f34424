package textproc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// blockTags contribute a newline boundary during text extraction.
var blockTags = map[atom.Atom]bool{
	atom.P:   true,
	atom.Div: true,
	atom.H1:  true,
	atom.H2:  true,
	atom.H3:  true,
	atom.H4:  true,
	atom.H5:  true,
	atom.H6:  true,
	atom.Br:  true,
	atom.Li:  true,
}

// skipTags have their entire content dropped. The document title lives
// in the heading heuristics, not in the spoken text.
var skipTags = map[atom.Atom]bool{
	atom.Script: true,
	atom.Style:  true,
	atom.Title:  true,
}

// breakPlaceholder stands in for break-string insertions while whitespace
// is collapsed, so the break string itself survives the collapse.
const breakPlaceholder = "\x00"

var (
	// Bracketed references are removed before the superscript pass so
	// their inner digits are not mistaken for superscripts.
	bracketRefPattern = regexp.MustCompile(`\[\d+(\.\d+)*\]`)

	// A short digit run directly after sentence punctuation or a closing
	// quote, with nothing but horizontal space between, is a superscript
	// footnote reference.
	superscriptRefPattern = regexp.MustCompile(`([.!?,;:'"”’»)\]])[ \t]*\d{1,3}\b`)

	newlineSpaceRun  = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	anyNewlineRun    = regexp.MustCompile(`\n+`)
	doubleNewlineRun = regexp.MustCompile(`\n{2,}`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	placeholderRun   = regexp.MustCompile(`[ \t]*\x00[ \t]*`)
)

// Normalize converts chapter HTML into plain text for synthesis.
//
// Stages, in order: HTML strip, footnote cleanup, user rules, newline
// handling, whitespace collapse.
func Normalize(htmlData []byte, cfg Config) (string, error) {
	text, err := StripHTML(htmlData)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNormalizationFailed, err)
	}

	// Uniform line endings before the newline-sensitive stages.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if cfg.FootnoteCleanup {
		text = cleanupFootnotes(text)
	}

	for i, rule := range cfg.Rules {
		pattern := rule.Pattern
		if rule.CaseInsensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", fmt.Errorf("%w: rule %d (%q): %v", ErrNormalizationFailed, i, rule.Pattern, err)
		}
		text = re.ReplaceAllString(text, rule.Replacement)
	}

	text = applyNewlineMode(text, cfg.NewlineMode)

	text = whitespaceRun.ReplaceAllString(text, " ")
	text = placeholderRun.ReplaceAllString(text, breakPlaceholder)
	text = strings.Trim(text, breakPlaceholder+" ")
	text = strings.ReplaceAll(text, breakPlaceholder, cfg.BreakString)

	return text, nil
}

// StripHTML extracts plain text from an HTML document. Script and style
// content is dropped; block-level elements contribute newline boundaries.
// Non-UTF-8 payloads are decoded via charset detection first.
func StripHTML(htmlData []byte) (string, error) {
	reader, err := charset.NewReader(bytes.NewReader(htmlData), "")
	if err != nil {
		// Undetectable charset; tokenize the raw bytes.
		reader = bytes.NewReader(htmlData)
	}

	tokenizer := html.NewTokenizer(reader)

	var buf strings.Builder
	skipDepth := 0
	lastWasNewline := true

	// Every block tag token emits one newline, so a paragraph close
	// followed by a paragraph open yields a double newline while a lone
	// <br> yields a single one. The newline modes depend on that
	// distinction.
	blockBoundary := func() {
		if buf.Len() > 0 {
			buf.WriteByte('\n')
			lastWasNewline = true
		}
	}

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			err := tokenizer.Err()
			if errors.Is(err, io.EOF) {
				return buf.String(), nil
			}
			return "", err

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			a := atom.Lookup(tn)
			if skipTags[a] {
				if tt == html.StartTagToken {
					skipDepth++
				}
				continue
			}
			if skipDepth > 0 {
				continue
			}
			if blockTags[a] {
				blockBoundary()
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			a := atom.Lookup(tn)
			if skipTags[a] && skipDepth > 0 {
				skipDepth--
				continue
			}
			if skipDepth > 0 {
				continue
			}
			if blockTags[a] {
				blockBoundary()
			}

		case html.TextToken:
			if skipDepth > 0 {
				continue
			}
			text := string(tokenizer.Text())
			if strings.TrimSpace(text) == "" {
				// Inline whitespace still separates words.
				if !lastWasNewline && buf.Len() > 0 {
					buf.WriteByte(' ')
				}
				continue
			}
			buf.WriteString(text)
			lastWasNewline = strings.HasSuffix(text, "\n")
		}
	}
}

// cleanupFootnotes removes bracketed and superscript-style references.
func cleanupFootnotes(text string) string {
	text = bracketRefPattern.ReplaceAllString(text, "")
	text = superscriptRefPattern.ReplaceAllString(text, "$1")
	return text
}

// applyNewlineMode rewrites newlines according to the mode, inserting
// placeholders where the break string belongs.
func applyNewlineMode(text string, mode NewlineMode) string {
	// A blank line with stray spaces on it is still a blank line.
	text = newlineSpaceRun.ReplaceAllString(text, "\n")

	switch mode {
	case NewlineSingle:
		return anyNewlineRun.ReplaceAllString(text, breakPlaceholder)
	case NewlineDouble:
		text = doubleNewlineRun.ReplaceAllString(text, breakPlaceholder)
		return strings.ReplaceAll(text, "\n", " ")
	case NewlineNone:
		return strings.ReplaceAll(text, "\n", " ")
	default:
		return text
	}
}
