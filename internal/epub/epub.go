// Package epub reads DRM-free EPUB 2 and EPUB 3 archives into an ordered,
// fully-loaded Book: metadata, spine-ordered chapter documents, and the
// cover image.
package epub

import (
	"archive/zip"
	"fmt"
	"path/filepath"
	"strings"
)

// expectedMimetype is the required content of the "mimetype" entry.
const expectedMimetype = "application/epub+zip"

// Open reads the EPUB at path and parses it into a Book. The archive is
// fully consumed; no handle remains open on return.
func Open(path string) (*Book, error) {
	zrc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidArchive, path, err)
	}
	defer zrc.Close()

	book := &Book{
		Title:  fileStem(path),
		Author: "Unknown",
	}

	idx := newZipIndex(&zrc.Reader)

	checkMimetype(&zrc.Reader, book)

	opfPath, err := parseContainer(idx)
	if err != nil {
		return nil, err
	}

	opfData, err := idx.read(opfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingOPF, opfPath, err)
	}

	pkg, err := parseOPF(opfData)
	if err != nil {
		return nil, err
	}

	if t := firstNonEmpty(pkg.Metadata.Titles); t != "" {
		book.Title = t
	}
	if c := firstNonEmpty(pkg.Metadata.Creators); c != "" {
		book.Author = c
	}

	manifest := buildManifest(pkg, opfPath)
	spine := buildSpine(pkg, manifest)
	if len(spine) == 0 {
		return nil, ErrEmptySpine
	}

	titles, warnings := buildTitleMap(idx, pkg, manifest)
	book.Warnings = append(book.Warnings, warnings...)

	book.Chapters = make([]Chapter, 0, len(spine))
	for i, si := range spine {
		htmlData, err := idx.read(si.Href)
		if err != nil {
			book.Warnings = append(book.Warnings, fmt.Sprintf("chapter %d unreadable: %v", i, err))
			htmlData = nil
		}

		ch := Chapter{
			Index: i,
			Href:  si.Href,
			HTML:  htmlData,
		}
		if t, ok := titles[si.Href]; ok && t != "" {
			ch.Title = t
			ch.FromTOC = true
		} else {
			ch.Title = fallbackTitle(si.Href, i)
		}
		book.Chapters = append(book.Chapters, ch)
	}

	if item := findCover(pkg, manifest); item != nil {
		data, err := idx.read(item.Href)
		if err != nil {
			book.Warnings = append(book.Warnings, fmt.Sprintf("cover unreadable: %v", err))
		} else {
			book.Cover = data
			book.CoverMediaType = item.MediaType
		}
	}

	return book, nil
}

// checkMimetype validates the archive's mimetype entry, recording
// deviations as warnings.
func checkMimetype(zr *zip.Reader, book *Book) {
	if len(zr.File) == 0 || zr.File[0].Name != "mimetype" {
		book.Warnings = append(book.Warnings, "first archive entry is not \"mimetype\"")
		return
	}
	data, err := readZipFile(zr.File[0])
	if err != nil {
		book.Warnings = append(book.Warnings, fmt.Sprintf("cannot read mimetype entry: %v", err))
		return
	}
	if strings.TrimSpace(string(data)) != expectedMimetype {
		book.Warnings = append(book.Warnings, fmt.Sprintf("unexpected mimetype: %q", string(data)))
	}
}

// fileStem returns the filename without directory or extension.
func fileStem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func firstNonEmpty(values []string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
