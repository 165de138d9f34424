package epub

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// containerPath is the well-known location of the container file.
const containerPath = "META-INF/container.xml"

// containerXML models META-INF/container.xml.
type containerXML struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// parseContainer locates the package document path from container.xml.
func parseContainer(idx *zipIndex) (string, error) {
	f := idx.find(containerPath)
	if f == nil {
		return "", ErrMissingContainer
	}

	data, err := readZipFile(f)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMissingContainer, err)
	}

	var c containerXML
	if err := xml.Unmarshal(stripBOM(data), &c); err != nil {
		return "", fmt.Errorf("%w: parse container.xml: %v", ErrMissingContainer, err)
	}

	// The first rootfile with a full-path names the package document.
	for _, rf := range c.RootFiles {
		if p := strings.TrimSpace(rf.FullPath); p != "" {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w: container.xml has no rootfile full-path", ErrMissingOPF)
}
