package assemble

import (
	"bytes"
	"fmt"
	"image"

	// Cover art arrives in whatever format the EPUB carried.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// sniffArtwork verifies the cover bytes decode as a known image format
// before they are handed to the encoder for embedding.
func sniffArtwork(data []byte) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("undecodable image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%s image has invalid dimensions %dx%d", format, cfg.Width, cfg.Height)
	}
	return nil
}
