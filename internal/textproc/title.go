package textproc

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BlankTitle is the placeholder for chapters yielding no usable title.
const BlankTitle = "<blank>"

// firstFewLength is the number of leading characters taken by the
// firstFew heuristic.
const firstFewLength = 60

// headingPriority orders the tags consulted for tag-derived titles.
var headingPriority = []atom.Atom{atom.Title, atom.H1, atom.H2, atom.H3}

// ExtractTitle derives a chapter title from the original HTML and the
// normalized text, according to the configured mode.
func ExtractTitle(htmlData []byte, normalized string, mode TitleMode) string {
	switch mode {
	case TitleTagText:
		if t := SanitizeTitle(firstHeadingText(htmlData)); t != "" {
			return t
		}
		return BlankTitle

	case TitleFirstFew:
		return firstFewTitle(normalized)

	default: // TitleAuto
		t := SanitizeTitle(firstHeadingText(htmlData))
		if t == "" || digitsAndSpacesOnly(t) {
			return firstFewTitle(normalized)
		}
		return t
	}
}

// firstFewTitle takes the leading characters of the normalized text.
func firstFewTitle(normalized string) string {
	runes := []rune(normalized)
	if len(runes) > firstFewLength {
		runes = runes[:firstFewLength]
	}
	if t := SanitizeTitle(string(runes)); t != "" {
		return t
	}
	return BlankTitle
}

// firstHeadingText returns the text of the highest-priority heading tag
// (<title>, <h1>, <h2>, <h3>) with non-whitespace content.
func firstHeadingText(htmlData []byte) string {
	found := make(map[atom.Atom]string, len(headingPriority))

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlData))
	var current atom.Atom
	var text strings.Builder

	flush := func() {
		if current != 0 {
			if _, ok := found[current]; !ok && strings.TrimSpace(text.String()) != "" {
				found[current] = text.String()
			}
		}
		current = 0
		text.Reset()
	}

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			if errors.Is(tokenizer.Err(), io.EOF) {
				flush()
				for _, a := range headingPriority {
					if t, ok := found[a]; ok {
						return t
					}
				}
				return ""
			}
			return ""

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			a := atom.Lookup(tn)
			for _, want := range headingPriority {
				if a == want {
					flush()
					current = a
					break
				}
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if atom.Lookup(tn) == current {
				flush()
			}

		case html.TextToken:
			if current != 0 {
				text.Write(tokenizer.Text())
			}
		}
	}
}

// digitsAndSpacesOnly reports whether s consists solely of digits and
// spaces, which auto mode rejects as a title.
func digitsAndSpacesOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != ' ' {
			return false
		}
	}
	return true
}

// SanitizeTitle collapses whitespace, strips control characters, replaces
// filesystem-hostile characters with spaces, and trims. Titles double as
// filename components.
func SanitizeTitle(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			sb.WriteByte(' ')
		case unicode.IsControl(r):
			// dropped
		case strings.ContainsRune(`/:\?*"<>|`, r):
			sb.WriteByte(' ')
		default:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
