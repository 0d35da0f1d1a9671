package canvas

import (
	"errors"
	"fmt"
	"strings"
)

type PaperSize string

const (
	PaperA0      PaperSize = "a0"
	PaperA1      PaperSize = "a1"
	PaperA2      PaperSize = "a2"
	PaperA3      PaperSize = "a3"
	PaperA4      PaperSize = "a4"
	PaperA5      PaperSize = "a5"
	PaperLetter  PaperSize = "letter"
	PaperLegal   PaperSize = "legal"
	PaperTabloid PaperSize = "tabloid"
)

type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

const (
	// DPI is the fixed conversion used to build the portrait table below.
	// ISO sizes are converted from millimetres and US sizes from inches,
	// rounded to the nearest pixel. The table is permanent: changing a value
	// would misalign every stored stroke for that size.
	DPI = 96

	// GridSize is the snapping grid unit in pixels.
	GridSize = 20

	DefaultPaperSize   = PaperA4
	DefaultOrientation = Portrait
)

var (
	ErrUnsupportedPaperSize   = errors.New("unsupported paper size")
	ErrUnsupportedOrientation = errors.New("unsupported orientation")
)

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Format is a paper size paired with an orientation.
type Format struct {
	PaperSize   PaperSize   `json:"paperSize"`
	Orientation Orientation `json:"orientation"`
}

var DefaultFormat = Format{PaperSize: DefaultPaperSize, Orientation: DefaultOrientation}

// Adding a size is safe; editing an existing row is not.
var portraitPixels = map[PaperSize]Dimensions{
	PaperA0:      {Width: 3179, Height: 4494},
	PaperA1:      {Width: 2245, Height: 3179},
	PaperA2:      {Width: 1587, Height: 2245},
	PaperA3:      {Width: 1123, Height: 1587},
	PaperA4:      {Width: 794, Height: 1123},
	PaperA5:      {Width: 559, Height: 794},
	PaperLetter:  {Width: 816, Height: 1056},
	PaperLegal:   {Width: 816, Height: 1344},
	PaperTabloid: {Width: 1056, Height: 1632},
}

// PaperSizes lists the supported sizes in display order.
var PaperSizes = []PaperSize{
	PaperA0, PaperA1, PaperA2, PaperA3, PaperA4, PaperA5,
	PaperLetter, PaperLegal, PaperTabloid,
}

func ParsePaperSize(s string) (PaperSize, error) {
	size := PaperSize(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := portraitPixels[size]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPaperSize, s)
	}
	return size, nil
}

func ParseOrientation(s string) (Orientation, error) {
	o := Orientation(strings.ToLower(strings.TrimSpace(s)))
	if o != Portrait && o != Landscape {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedOrientation, s)
	}
	return o, nil
}

// ParseFormat parses both halves of a format, applying the defaults for
// empty strings.
func ParseFormat(paperSize string, orientation string) (Format, error) {
	f := DefaultFormat
	if paperSize != "" {
		size, err := ParsePaperSize(paperSize)
		if err != nil {
			return Format{}, err
		}
		f.PaperSize = size
	}
	if orientation != "" {
		o, err := ParseOrientation(orientation)
		if err != nil {
			return Format{}, err
		}
		f.Orientation = o
	}
	return f, nil
}

// Resolve returns the pixel dimensions of the drawing surface.
// Landscape is always the exact swap of portrait.
func Resolve(size PaperSize, orientation Orientation) (Dimensions, error) {
	d, ok := portraitPixels[size]
	if !ok {
		return Dimensions{}, fmt.Errorf("%w: %q", ErrUnsupportedPaperSize, size)
	}

	switch orientation {
	case Portrait:
		return d, nil
	case Landscape:
		return Dimensions{Width: d.Height, Height: d.Width}, nil
	default:
		return Dimensions{}, fmt.Errorf("%w: %q", ErrUnsupportedOrientation, orientation)
	}
}

func (f Format) Resolve() (Dimensions, error) {
	return Resolve(f.PaperSize, f.Orientation)
}
