package epub

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// maxEntrySize caps the decompressed size of a single archive entry to
// guard against zip bombs.
const maxEntrySize int64 = 256 * 1024 * 1024

// zipIndex provides exact and case-insensitive lookups over archive entries.
type zipIndex struct {
	exact map[string]*zip.File
	lower map[string]*zip.File
}

func newZipIndex(zr *zip.Reader) *zipIndex {
	idx := &zipIndex{
		exact: make(map[string]*zip.File, len(zr.File)),
		lower: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		if _, ok := idx.exact[f.Name]; !ok {
			idx.exact[f.Name] = f
		}
		lower := strings.ToLower(f.Name)
		if _, ok := idx.lower[lower]; !ok {
			idx.lower[lower] = f
		}
	}
	return idx
}

// find looks up an entry by path, exact match first, then case-insensitive.
func (idx *zipIndex) find(name string) *zip.File {
	if f, ok := idx.exact[name]; ok {
		return f
	}
	if f, ok := idx.lower[strings.ToLower(name)]; ok {
		return f
	}
	return nil
}

// read returns the full contents of the named entry.
func (idx *zipIndex) read(name string) ([]byte, error) {
	f := idx.find(name)
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return readZipFile(f)
}

// readZipFile reads a ZIP entry, rejecting unsafe paths and oversized
// payloads.
func readZipFile(f *zip.File) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("epub: unsafe zip entry path: %s", f.Name)
	}
	if f.UncompressedSize64 > uint64(maxEntrySize) {
		return nil, fmt.Errorf("epub: zip entry %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("epub: open zip entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("epub: read zip entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > maxEntrySize {
		return nil, fmt.Errorf("epub: zip entry %s exceeds size limit", f.Name)
	}
	return data, nil
}

// isSafePath rejects archive paths that escape the root via traversal.
func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return false
	}
	return true
}

// resolveHref resolves href relative to the directory containing basePath.
// Both are forward-slash archive paths. Returns "" when the result would
// escape the archive root.
func resolveHref(basePath, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	joined := path.Clean(path.Join(path.Dir(basePath), href))
	if !isSafePath(joined) {
		return ""
	}
	return joined
}

// stripFragment removes a trailing #fragment from an href.
func stripFragment(href string) string {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i]
	}
	return href
}

// stripBOM removes a leading UTF-8 byte order mark.
func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
