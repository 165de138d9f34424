package synth

import "strings"

// isBoundary reports whether r ends a sentence or line, making the
// position after it a good split point.
func isBoundary(r rune) bool {
	switch r {
	case '.', '!', '?', '\n':
		return true
	}
	return false
}

// splitText splits text near the middle of its trimmed form, preferring
// a position just after a sentence boundary. It scans left from the
// midpoint first, then right, then falls back to a strict midpoint
// character split. Returns an empty right half when the text is too
// short to split.
func splitText(text string) (string, string) {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) < 2 {
		return trimmed, ""
	}

	mid := len(runes) / 2

	idx := -1
	for i := mid; i >= 0; i-- {
		if isBoundary(runes[i]) {
			idx = i + 1
			break
		}
	}
	if idx <= 0 || idx >= len(runes) {
		idx = -1
		for i := mid + 1; i < len(runes); i++ {
			if isBoundary(runes[i]) {
				idx = i + 1
				break
			}
		}
	}
	if idx <= 0 || idx >= len(runes) {
		idx = mid
	}

	left, right := string(runes[:idx]), string(runes[idx:])

	// A half that is all whitespace cannot make progress; fall back to a
	// strict midpoint split with at least one character per side.
	if strings.TrimSpace(left) == "" || strings.TrimSpace(right) == "" {
		idx = mid
		if idx < 1 {
			idx = 1
		}
		left, right = string(runes[:idx]), string(runes[idx:])
	}

	return left, right
}
