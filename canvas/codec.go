package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CurrentVersion is the newest document version this codec understands.
const CurrentVersion = "1.0"

var (
	ErrMalformedDocument  = errors.New("malformed canvas document")
	ErrUnsupportedVersion = errors.New("unsupported canvas document version")
)

// Serialize encodes doc as JSON. Every field is always present, including an
// empty strokes array, so the output can be handed to storage as-is.
func Serialize(doc Document) ([]byte, error) {
	if doc.Strokes == nil {
		doc.Strokes = []Stroke{}
	}
	b, err := encodeJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("serialize canvas: %w", err)
	}
	return b, nil
}

// encodeJSON is json.Marshal without HTML escaping, so that raw stroke
// fields come back byte for byte.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// compactJSON is the form raw stroke fields are held in.
func compactJSON(raw json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

// wireDocument mirrors Document with pointer fields so that missing keys can
// be told apart from zero values.
type wireDocument struct {
	Version  *string       `json:"version"`
	Strokes  *[]Stroke     `json:"strokes"`
	Metadata *wireMetadata `json:"metadata"`
}

type wireMetadata struct {
	CanvasWidth  *int `json:"canvas_width"`
	CanvasHeight *int `json:"canvas_height"`
	GridSize     *int `json:"grid_size"`
}

// Deserialize is the inverse of Serialize. Documents written by an older
// codec version are accepted; newer ones fail with ErrUnsupportedVersion.
func Deserialize(data []byte) (Document, error) {
	var wire wireDocument
	if err := json.Unmarshal(data, &wire); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	if wire.Version == nil {
		return Document{}, malformed("version")
	}
	newer, err := isNewerVersion(*wire.Version, CurrentVersion)
	if err != nil {
		return Document{}, fmt.Errorf("%w: version: %v", ErrMalformedDocument, err)
	}
	if newer {
		return Document{}, fmt.Errorf("%w: %s (codec understands up to %s)", ErrUnsupportedVersion, *wire.Version, CurrentVersion)
	}

	if wire.Metadata == nil {
		return Document{}, malformed("metadata")
	}
	meta, err := wire.Metadata.toMetadata()
	if err != nil {
		return Document{}, err
	}

	if wire.Strokes == nil {
		return Document{}, malformed("strokes")
	}
	strokes := *wire.Strokes
	if strokes == nil {
		strokes = []Stroke{}
	}

	return Document{
		Version:  *wire.Version,
		Strokes:  strokes,
		Metadata: meta,
	}, nil
}

func (m wireMetadata) toMetadata() (Metadata, error) {
	fields := []struct {
		name  string
		value *int
	}{
		{"metadata.canvas_width", m.CanvasWidth},
		{"metadata.canvas_height", m.CanvasHeight},
		{"metadata.grid_size", m.GridSize},
	}
	for _, f := range fields {
		if f.value == nil {
			return Metadata{}, malformed(f.name)
		}
		if *f.value <= 0 {
			return Metadata{}, fmt.Errorf("%w: %s must be a positive integer", ErrMalformedDocument, f.name)
		}
	}
	return Metadata{
		CanvasWidth:  *m.CanvasWidth,
		CanvasHeight: *m.CanvasHeight,
		GridSize:     *m.GridSize,
	}, nil
}

func malformed(field string) error {
	return fmt.Errorf("%w: missing %s", ErrMalformedDocument, field)
}

// isNewerVersion compares "major.minor" strings numerically. A bare major
// ("2") is read as "2.0".
func isNewerVersion(version string, than string) (bool, error) {
	a, err := parseVersion(version)
	if err != nil {
		return false, err
	}
	b, err := parseVersion(than)
	if err != nil {
		return false, err
	}
	if a[0] != b[0] {
		return a[0] > b[0], nil
	}
	return a[1] > b[1], nil
}

func parseVersion(v string) ([2]int, error) {
	var out [2]int
	parts := strings.Split(v, ".")
	if len(parts) > 2 || v == "" {
		return out, fmt.Errorf("invalid version %q", v)
	}
	for i, p := range parts {
		if p == "" || strings.TrimLeft(p, "0123456789") != "" {
			return out, fmt.Errorf("invalid version %q", v)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return out, fmt.Errorf("invalid version %q", v)
		}
		out[i] = n
	}
	return out, nil
}
