// Package canvas holds the drawing document model: paper geometry, the
// versioned stroke document, its JSON codec and the editing session that
// tracks unsaved changes.
//
// Everything except Session is a pure value transform and safe to call from
// any number of goroutines.
package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrInvalidStroke = errors.New("invalid stroke")

type Point struct {
	X float64
	Y float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var xy []float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return err
	}
	if len(xy) != 2 {
		return fmt.Errorf("point must have 2 coordinates, got %d", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// Stroke is one continuous pen gesture. Extra carries any tool-specific
// fields the capturing UI attached; they are stored and returned verbatim
// apart from insignificant whitespace, which is dropped.
type Stroke struct {
	Points []Point
	Color  string
	Width  float64
	Extra  map[string]json.RawMessage
}

var strokeKnownFields = map[string]struct{}{
	"points": {},
	"color":  {},
	"width":  {},
}

func (s Stroke) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(s.Extra)+3)
	for k, v := range s.Extra {
		fields[k] = v
	}

	points := s.Points
	if points == nil {
		points = []Point{}
	}
	var err error
	if fields["points"], err = encodeJSON(points); err != nil {
		return nil, err
	}
	if fields["color"], err = encodeJSON(s.Color); err != nil {
		return nil, err
	}
	if fields["width"], err = encodeJSON(s.Width); err != nil {
		return nil, err
	}

	// map keys are sorted by encoding/json, so the output is stable
	return encodeJSON(fields)
}

func (s *Stroke) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("stroke must be an object")
	}

	rawPoints, ok := fields["points"]
	if !ok || isNull(rawPoints) {
		return errors.New("stroke is missing points")
	}
	var out Stroke
	if err := json.Unmarshal(rawPoints, &out.Points); err != nil {
		return fmt.Errorf("points: %w", err)
	}
	if raw, ok := fields["color"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.Color); err != nil {
			return fmt.Errorf("color: %w", err)
		}
	}
	if raw, ok := fields["width"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &out.Width); err != nil {
			return fmt.Errorf("width: %w", err)
		}
	}

	for k, v := range fields {
		if _, known := strokeKnownFields[k]; known {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		// stores may re-indent what they hand back
		compact, err := compactJSON(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		out.Extra[k] = compact
	}

	*s = out
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

type Metadata struct {
	CanvasWidth  int `json:"canvas_width"`
	CanvasHeight int `json:"canvas_height"`
	GridSize     int `json:"grid_size"`
}

// Document is the versioned canvas persisted per drawing.
// Stroke order is draw order and is never changed by this package.
type Document struct {
	Version  string   `json:"version"`
	Strokes  []Stroke `json:"strokes"`
	Metadata Metadata `json:"metadata"`
}

func metadataFor(f Format) (Metadata, error) {
	d, err := f.Resolve()
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{CanvasWidth: d.Width, CanvasHeight: d.Height, GridSize: GridSize}, nil
}

// CreateEmpty returns a document with no strokes sized for the given paper.
func CreateEmpty(size PaperSize, orientation Orientation) (Document, error) {
	meta, err := metadataFor(Format{PaperSize: size, Orientation: orientation})
	if err != nil {
		return Document{}, err
	}
	return Document{
		Version:  CurrentVersion,
		Strokes:  []Stroke{},
		Metadata: meta,
	}, nil
}

// ValidateStroke reports why a stroke cannot be appended, if at all.
func ValidateStroke(stroke Stroke) error {
	if len(stroke.Points) == 0 {
		return fmt.Errorf("%w: stroke has no points", ErrInvalidStroke)
	}
	for i, p := range stroke.Points {
		if !isFinite(p.X) || !isFinite(p.Y) {
			return fmt.Errorf("%w: point %d has non-finite coordinates", ErrInvalidStroke, i)
		}
	}
	if !isFinite(stroke.Width) {
		return fmt.Errorf("%w: non-finite width", ErrInvalidStroke)
	}
	for k, v := range stroke.Extra {
		if _, known := strokeKnownFields[k]; known {
			return fmt.Errorf("%w: extra field %q shadows a stroke field", ErrInvalidStroke, k)
		}
		if !json.Valid(v) {
			return fmt.Errorf("%w: extra field %q is not valid JSON", ErrInvalidStroke, k)
		}
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// AppendStroke returns a copy of doc with stroke added last.
// doc is left untouched whether or not the call succeeds.
func AppendStroke(doc Document, stroke Stroke) (Document, error) {
	if err := ValidateStroke(stroke); err != nil {
		return doc, err
	}

	strokes := make([]Stroke, len(doc.Strokes), len(doc.Strokes)+1)
	copy(strokes, doc.Strokes)
	strokes = append(strokes, cloneStroke(stroke))

	out := doc
	out.Strokes = strokes
	return out, nil
}

// Clear returns a copy of doc without strokes.
func Clear(doc Document) Document {
	out := doc
	out.Strokes = []Stroke{}
	return out
}

// Reformat returns a copy of doc whose metadata matches the new paper format.
// Stroke coordinates are kept as drawn.
func Reformat(doc Document, f Format) (Document, error) {
	meta, err := metadataFor(f)
	if err != nil {
		return doc, err
	}
	out := doc
	out.Strokes = make([]Stroke, len(doc.Strokes))
	copy(out.Strokes, doc.Strokes)
	out.Metadata = meta
	return out, nil
}

// MatchesFormat reports whether the document metadata is the one the
// resolver produces for f.
func (doc Document) MatchesFormat(f Format) bool {
	meta, err := metadataFor(f)
	if err != nil {
		return false
	}
	return doc.Metadata == meta
}

func cloneStroke(s Stroke) Stroke {
	out := s
	if s.Points != nil {
		out.Points = make([]Point, len(s.Points))
		copy(out.Points, s.Points)
	}
	if s.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			compact, err := compactJSON(v)
			if err != nil {
				compact = append(json.RawMessage(nil), v...)
			}
			out.Extra[k] = compact
		}
	}
	return out
}
