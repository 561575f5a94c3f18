package render

import (
	"fmt"
	"math"

	qrcode "github.com/skip2/go-qrcode"
)

// codeImage encodes the destination URL as a QR PNG sized to fill the code
// rectangle at 72 dpi, so a scale 1 abs stamp lands exactly inside it.
func codeImage(url string, rect Rect) ([]byte, error) {
	side := math.Min(rect.W, rect.H)
	px := int(math.Round(side * unitsPerInch))
	if px < 32 {
		return nil, fmt.Errorf("code rectangle too small to encode")
	}

	png, err := qrcode.Encode(url, qrcode.Medium, px)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan code: %w", err)
	}
	return png, nil
}
