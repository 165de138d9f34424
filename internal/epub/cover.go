package epub

import (
	"strings"
)

// findCover locates the cover image manifest item. Strategies, in order:
//
//  1. <meta name="cover" content="ID"/> in the package metadata
//  2. manifest item with a "cover-image" property
//  3. manifest item whose ID or href contains "cover" with an image type
//  4. first image in the manifest
//
// Returns nil when no strategy succeeds; a missing cover is not an error.
func findCover(pkg *opfPackage, manifest map[string]*manifestItem) *manifestItem {
	// Strategy 1: EPUB 2 meta name="cover".
	for _, m := range pkg.Metadata.Metas {
		if strings.EqualFold(m.Name, "cover") && m.Content != "" {
			if item, ok := manifest[m.Content]; ok && isImageMediaType(item.MediaType) {
				return item
			}
		}
	}

	// Strategy 2: EPUB 3 cover-image property. Iterate the raw manifest
	// slice for deterministic document order.
	for _, raw := range pkg.Manifest.Items {
		if hasProperty(raw.Properties, "cover-image") {
			if item, ok := manifest[raw.ID]; ok {
				return item
			}
		}
	}

	// Strategy 3: "cover" substring in ID or href, image media type.
	for _, raw := range pkg.Manifest.Items {
		item, ok := manifest[raw.ID]
		if !ok || !isImageMediaType(item.MediaType) {
			continue
		}
		if strings.Contains(strings.ToLower(item.ID), "cover") ||
			strings.Contains(strings.ToLower(item.Href), "cover") {
			return item
		}
	}

	// Strategy 4: first image in the manifest.
	for _, raw := range pkg.Manifest.Items {
		if item, ok := manifest[raw.ID]; ok && isImageMediaType(item.MediaType) {
			return item
		}
	}

	return nil
}
