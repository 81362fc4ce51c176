package utils

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	color_extractor "github.com/marekm4/color-extractor"
)

// ExtractColours decodes an image and returns its dominant colours as hex
// strings, most dominant first.
func ExtractColours(r io.Reader) ([]string, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return []string{}, fmt.Errorf("failed to decode image: %w", err)
	}

	var domColours []string
	colours := color_extractor.ExtractColors(img)
	for _, c := range colours {
		domColours = append(domColours, colorToHexString(c))
	}
	return domColours, nil
}

func colorToHexString(c color.Color) string {
	r, g, b, a := c.RGBA()
	rgba := color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
	return fmt.Sprintf("#%.2x%.2x%.2x", rgba.R, rgba.G, rgba.B)
}
