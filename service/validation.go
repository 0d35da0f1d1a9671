package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"

	"github.com/zlnvch/surveycanvas/canvas"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrDrawingNotFound = errors.New("drawing not found")
)

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

const (
	minWidth        = 1
	maxWidth        = 50
	maxStrokePoints = 5000
	maxDocStrokes   = 20000
	maxNameLength   = 255
	MaxCanvasBytes  = 16 << 20
)

// ValidateStrokeContent applies the capture rules on top of the structural
// checks canvas.AppendStroke already makes.
func ValidateStrokeContent(stroke canvas.Stroke) error {
	if err := canvas.ValidateStroke(stroke); err != nil {
		return err
	}

	if !hexColorRegex.MatchString(stroke.Color) {
		return fmt.Errorf("%w: invalid color", canvas.ErrInvalidStroke)
	}

	if stroke.Width < minWidth || stroke.Width > maxWidth {
		return fmt.Errorf("%w: invalid width", canvas.ErrInvalidStroke)
	}

	if len(stroke.Points) > maxStrokePoints {
		return fmt.Errorf("%w: stroke too long", canvas.ErrInvalidStroke)
	}

	return nil
}

// ValidateDocument checks a whole client-supplied document against the
// drawing it is about to replace.
func ValidateDocument(doc canvas.Document, format canvas.Format) error {
	if !doc.MatchesFormat(format) {
		return fmt.Errorf("%w: canvas metadata does not match %s/%s", ErrInvalidInput, format.PaperSize, format.Orientation)
	}

	if len(doc.Strokes) > maxDocStrokes {
		return fmt.Errorf("%w: too many strokes", ErrInvalidInput)
	}

	for i, stroke := range doc.Strokes {
		if err := ValidateStrokeContent(stroke); err != nil {
			return fmt.Errorf("stroke %d: %w", i, err)
		}
	}

	return nil
}

func ValidateProjectId(projectId string) error {
	if _, err := uuid.FromString(projectId); err != nil {
		return fmt.Errorf("%w: project id must be a uuid", ErrInvalidInput)
	}
	return nil
}

func ValidateDrawingId(drawingId string) error {
	if _, err := uuid.FromString(drawingId); err != nil {
		return fmt.Errorf("%w: drawing id must be a uuid", ErrInvalidInput)
	}
	return nil
}

func ValidateDrawingName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: drawing name is required", ErrInvalidInput)
	}
	if !utf8.ValidString(name) || utf8.RuneCountInString(trimmed) > maxNameLength {
		return fmt.Errorf("%w: drawing name must be at most %d characters", ErrInvalidInput, maxNameLength)
	}
	return nil
}
