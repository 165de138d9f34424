package epub

// Book is the parsed result of reading an EPUB archive. It is immutable
// once returned by Open.
type Book struct {
	// Title is the first dc:title, or the file stem when absent.
	Title string

	// Author is the first dc:creator, or "Unknown" when absent.
	Author string

	// Cover holds the raw cover image bytes, nil when no cover was found.
	Cover []byte

	// CoverMediaType is the manifest media type of the cover, e.g. "image/jpeg".
	CoverMediaType string

	// Chapters are the spine-ordered content documents. Indices are dense
	// and stable: Chapters[i].Index == i.
	Chapters []Chapter

	// Warnings holds non-fatal notes accumulated during parsing.
	Warnings []string
}

// Chapter is a single spine entry with its content loaded.
type Chapter struct {
	// Index is the 0-based spine position.
	Index int

	// Title is the table-of-contents title for this chapter. It is always
	// non-empty: when neither the nav document nor the NCX names the
	// chapter, it falls back to the href basename or "Chapter <n>".
	Title string

	// FromTOC reports whether Title came from the nav document or NCX
	// rather than a filename fallback.
	FromTOC bool

	// Href is the archive path of the content document.
	Href string

	// HTML is the raw content document payload.
	HTML []byte
}

// manifestItem is a single manifest entry with its href resolved relative
// to the package document's directory.
type manifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

// spineItem is a resolved itemref.
type spineItem struct {
	IDRef     string
	Href      string
	MediaType string
}
