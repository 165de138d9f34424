package epub

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// titleMap maps resolved content-document paths to display titles.
type titleMap map[string]string

// buildTitleMap derives chapter titles from the archive's navigation data.
// Priority: EPUB 3 nav document, then NCX. Returns an empty map when
// neither exists; callers fall back to href-derived titles.
func buildTitleMap(idx *zipIndex, pkg *opfPackage, manifest map[string]*manifestItem) (titleMap, []string) {
	var warnings []string

	// EPUB 3 navigation document: manifest item with a "nav" property.
	for _, raw := range pkg.Manifest.Items {
		if !hasProperty(raw.Properties, "nav") {
			continue
		}
		mi, ok := manifest[raw.ID]
		if !ok {
			continue
		}
		data, err := idx.read(mi.Href)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("nav document unreadable: %v", err))
			break
		}
		titles, err := parseNavTitles(data, mi.Href)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("nav document unparsable: %v", err))
			break
		}
		return titles, warnings
	}

	// NCX: manifest item whose media type mentions "ncx".
	for _, raw := range pkg.Manifest.Items {
		mi, ok := manifest[raw.ID]
		if !ok || !strings.Contains(strings.ToLower(mi.MediaType), "ncx") {
			continue
		}
		data, err := idx.read(mi.Href)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("NCX unreadable: %v", err))
			break
		}
		titles, err := parseNCXTitles(data, mi.Href)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("NCX unparsable: %v", err))
			break
		}
		return titles, warnings
	}

	return titleMap{}, warnings
}

// parseNavTitles walks the nav document's ordered list and maps each
// linked content path to its displayed text. The first entry for a path
// wins.
func parseNavTitles(data []byte, navPath string) (titleMap, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	titles := make(titleMap)

	var walk func(n *html.Node, insideNav bool)
	walk = func(n *html.Node, insideNav bool) {
		if n.Type == html.ElementNode {
			if n.DataAtom == atom.Nav {
				insideNav = true
			}
			if insideNav && n.DataAtom == atom.A {
				href := attrValue(n, "href")
				text := strings.TrimSpace(nodeText(n))
				if href != "" && text != "" {
					resolved := resolveHref(navPath, stripFragment(href))
					if resolved != "" {
						if _, exists := titles[resolved]; !exists {
							titles[resolved] = text
						}
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, insideNav)
		}
	}
	walk(doc, false)

	return titles, nil
}

// attrValue returns the value of the named attribute, or "".
func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// nodeText concatenates the text content beneath a node.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// ncxDocument models the parts of an NCX file needed for titles.
type ncxDocument struct {
	XMLName xml.Name  `xml:"ncx"`
	NavMap  ncxNavMap `xml:"navMap"`
}

type ncxNavMap struct {
	NavPoints []ncxNavPoint `xml:"navPoint"`
}

type ncxNavPoint struct {
	NavLabel  ncxNavLabel   `xml:"navLabel"`
	Content   ncxContent    `xml:"content"`
	NavPoints []ncxNavPoint `xml:"navPoint"`
}

type ncxNavLabel struct {
	Text string `xml:"text"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

// parseNCXTitles maps navPoint content paths to navLabel text, walking
// the navMap in document order.
func parseNCXTitles(data []byte, ncxPath string) (titleMap, error) {
	data = preprocessXMLEntities(stripBOM(data))

	var doc ncxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	titles := make(titleMap)
	var walk func(points []ncxNavPoint)
	walk = func(points []ncxNavPoint) {
		for _, p := range points {
			text := strings.TrimSpace(p.NavLabel.Text)
			src := stripFragment(strings.TrimSpace(p.Content.Src))
			if text != "" && src != "" {
				resolved := resolveHref(ncxPath, src)
				if resolved != "" {
					if _, exists := titles[resolved]; !exists {
						titles[resolved] = text
					}
				}
			}
			walk(p.NavPoints)
		}
	}
	walk(doc.NavMap.NavPoints)

	return titles, nil
}

// fallbackTitle derives a chapter title from its href basename, with
// dashes and underscores replaced by spaces. Empty results become
// "Chapter <index+1>".
func fallbackTitle(href string, index int) string {
	base := path.Base(href)
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	base = strings.ReplaceAll(base, "-", " ")
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.TrimSpace(base)
	if base == "" {
		return fmt.Sprintf("Chapter %d", index+1)
	}
	return base
}
