package epub

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
)

// opfPackage models the root <package> element of the package document.
type opfPackage struct {
	XMLName  xml.Name    `xml:"package"`
	Version  string      `xml:"version,attr"`
	Metadata opfMetadata `xml:"metadata"`
	Manifest opfManifest `xml:"manifest"`
	Spine    opfSpine    `xml:"spine"`
}

type opfMetadata struct {
	Titles   []string  `xml:"http://purl.org/dc/elements/1.1/ title"`
	Creators []string  `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Metas    []opfMeta `xml:"meta"`
}

// opfMeta covers both the EPUB 2 name/content form and the EPUB 3
// property form of <meta>.
type opfMeta struct {
	Name     string `xml:"name,attr"`
	Content  string `xml:"content,attr"`
	Property string `xml:"property,attr"`
	Value    string `xml:",chardata"`
}

type opfManifest struct {
	Items []opfManifestItem `xml:"item"`
}

type opfManifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type opfSpine struct {
	Toc      string            `xml:"toc,attr"`
	ItemRefs []opfSpineItemRef `xml:"itemref"`
}

type opfSpineItemRef struct {
	IDRef string `xml:"idref,attr"`
}

// entityNameToNumeric maps HTML entity names that commonly leak into OPF
// and NCX files to XML numeric references, since encoding/xml only knows
// the five predefined entities.
var entityNameToNumeric = map[string]string{
	"nbsp": "&#160;", "mdash": "&#8212;", "ndash": "&#8211;",
	"hellip": "&#8230;",
	"lsquo":  "&#8216;", "rsquo": "&#8217;",
	"ldquo": "&#8220;", "rdquo": "&#8221;",
	"copy": "&#169;", "reg": "&#174;", "trade": "&#8482;",
	"eacute": "&#233;", "egrave": "&#232;", "ouml": "&#246;",
	"uuml": "&#252;", "auml": "&#228;", "ntilde": "&#241;",
	"ccedil": "&#231;", "deg": "&#176;", "sect": "&#167;",
}

var htmlEntityPattern = regexp.MustCompile(
	`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|` +
		`eacute|egrave|ouml|uuml|auml|ntilde|ccedil|deg|sect);`)

// preprocessXMLEntities rewrites known HTML named entities so the XML
// decoder accepts the document.
func preprocessXMLEntities(data []byte) []byte {
	return htmlEntityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.ToLower(string(match[1 : len(match)-1]))
		if repl, ok := entityNameToNumeric[name]; ok {
			return []byte(repl)
		}
		return match
	})
}

// parseOPF decodes the package document.
func parseOPF(data []byte) (*opfPackage, error) {
	data = preprocessXMLEntities(stripBOM(data))

	var pkg opfPackage
	if err := xml.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("%w: parse package document: %v", ErrMissingOPF, err)
	}
	return &pkg, nil
}

// buildManifest maps manifest item IDs to items with hrefs resolved
// relative to the package document's directory.
func buildManifest(pkg *opfPackage, opfPath string) map[string]*manifestItem {
	manifest := make(map[string]*manifestItem, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		resolved := resolveHref(opfPath, item.Href)
		if resolved == "" {
			continue
		}
		manifest[item.ID] = &manifestItem{
			ID:         item.ID,
			Href:       resolved,
			MediaType:  strings.TrimSpace(item.MediaType),
			Properties: item.Properties,
		}
	}
	return manifest
}

// isHTMLMediaType reports whether a media type names an (X)HTML content
// document.
func isHTMLMediaType(mediaType string) bool {
	return strings.Contains(strings.ToLower(mediaType), "html")
}

// isImageMediaType reports whether a media type names an image resource.
func isImageMediaType(mediaType string) bool {
	return strings.HasPrefix(strings.ToLower(mediaType), "image/")
}

// hasProperty reports whether a space-separated properties attribute
// contains the given token.
func hasProperty(properties, want string) bool {
	for _, p := range strings.Fields(properties) {
		if p == want {
			return true
		}
	}
	return false
}

// buildSpine resolves itemrefs into spine items, keeping only HTML/XHTML
// content documents, in document order.
func buildSpine(pkg *opfPackage, manifest map[string]*manifestItem) []spineItem {
	spine := make([]spineItem, 0, len(pkg.Spine.ItemRefs))
	for _, ref := range pkg.Spine.ItemRefs {
		mi, ok := manifest[ref.IDRef]
		if !ok {
			continue
		}
		if !isHTMLMediaType(mi.MediaType) {
			continue
		}
		spine = append(spine, spineItem{
			IDRef:     ref.IDRef,
			Href:      mi.Href,
			MediaType: mi.MediaType,
		})
	}
	return spine
}
