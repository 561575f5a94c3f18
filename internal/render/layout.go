package render

import (
	"fmt"
	"strings"
)

// unitsPerInch converts layout inches into PDF points.
const unitsPerInch = 72.0

// Fields carries the personalization values for one recipient. Every field is
// optional; absent fields are skipped rather than drawn empty.
type Fields struct {
	FirstName  string
	LastName   string
	Address    string
	City       string
	State      string
	PostalCode string
}

// FullName joins the non-empty name fields with a single space.
func (f Fields) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(f.FirstName) + " " + strings.TrimSpace(f.LastName))
}

// CityLine renders the "city, state postal" line. The region part (state and
// postal joined by a space) is attached to the city with ", " only when both
// sides are present.
func (f Fields) CityLine() string {
	city := strings.TrimSpace(f.City)
	region := strings.TrimSpace(strings.TrimSpace(f.State) + " " + strings.TrimSpace(f.PostalCode))

	switch {
	case city == "":
		return region
	case region == "":
		return city
	default:
		return city + ", " + region
	}
}

// Empty reports whether no field carries a value.
func (f Fields) Empty() bool {
	return f.FullName() == "" && strings.TrimSpace(f.Address) == "" && f.CityLine() == ""
}

// Anchor is a top-down position measured in inches from the page's top-left
// corner, the way designers read a proof.
type Anchor struct {
	X float64
	Y float64
}

// Rect places the scan code: top-down inches plus width and height in inches.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// Config controls where and how personalization is stamped onto the base
// document's first page.
type Config struct {
	NameAnchor    Anchor
	AddressAnchor Anchor
	// CityLineGap is how far below the address anchor the city line sits.
	CityLineGap float64
	FontSize    int
	TextColor   string

	// CodeRect and CodeURL describe the scan code overlay. Leave CodeURL
	// empty to render without a code.
	CodeRect *Rect
	CodeURL  string

	// OmitOnCodeFailure ships the document without its scan code when code
	// generation fails instead of failing the recipient.
	OmitOnCodeFailure bool
}

// DefaultConfig returns the stock 6x4 inch postcard layout: address block on
// the lower left, scan code on the lower right.
func DefaultConfig() Config {
	return Config{
		NameAnchor:    Anchor{X: 0.5, Y: 2.55},
		AddressAnchor: Anchor{X: 0.5, Y: 2.85},
		CityLineGap:   0.22,
		FontSize:      10,
		TextColor:     "#1A1A1A",
		CodeRect:      &Rect{X: 4.6, Y: 2.7, W: 0.9, H: 0.9},
	}
}

func (c Config) Validate() error {
	if c.FontSize < 4 || c.FontSize > 96 {
		return fmt.Errorf("font size %d out of range", c.FontSize)
	}
	if c.CityLineGap < 0 {
		return fmt.Errorf("city line gap must not be negative")
	}
	if c.CodeRect != nil {
		if c.CodeRect.W < 0.5 || c.CodeRect.H < 0.5 {
			return fmt.Errorf("code rectangle must be at least half an inch per side")
		}
	}
	return nil
}

// bottomUpY converts a top-down Y in inches to the PDF's bottom-up point
// space: nativeY = pageHeight - y*unitsPerInch.
func bottomUpY(pageHeight float64, y float64) float64 {
	return pageHeight - y*unitsPerInch
}

// textStamp describes one text watermark for pdfcpu: an anchored, unrotated
// stamp positioned via a bottom-left offset in points.
func textStamp(font string, points int, x, y float64, color string) string {
	return fmt.Sprintf(
		"fontname:%s, points:%d, scale:1 abs, pos:bl, off:%.2f %.2f, fillcolor:%s, rot:0",
		font, points, x, y, color,
	)
}

// imageStamp describes the scan code watermark. Scale 1 abs keeps the image
// at its natural size, one pixel per point.
func imageStamp(x, y float64) string {
	return fmt.Sprintf("scale:1 abs, pos:bl, off:%.2f %.2f, rot:0", x, y)
}
