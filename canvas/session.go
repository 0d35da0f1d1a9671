package canvas

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Persistence when nothing was ever saved for
// the drawing.
var ErrNotFound = errors.New("canvas not found")

// Persistence stores whole serialized documents. Save must atomically replace
// whatever was stored before for the drawing; concurrent saves resolve as
// last write wins.
type Persistence interface {
	Save(ctx context.Context, drawingId string, data []byte) error
	Load(ctx context.Context, drawingId string) ([]byte, error)
}

type State int

const (
	StateClean State = iota
	StateDirty
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	default:
		return "unknown"
	}
}

// Session is the single in-memory copy of one drawing being edited.
// A Session is owned by one editor and is not safe for concurrent use.
type Session struct {
	drawingId   string
	persistence Persistence
	doc         Document
	state       State
}

// Load fetches and decodes the stored document for drawingId. A drawing that
// was never saved yields an empty document for fallback, exactly as if it
// had just been created. Storage errors are returned unchanged.
func Load(ctx context.Context, p Persistence, drawingId string, fallback Format) (Document, error) {
	data, err := p.Load(ctx, drawingId)
	if errors.Is(err, ErrNotFound) {
		return CreateEmpty(fallback.PaperSize, fallback.Orientation)
	}
	if err != nil {
		return Document{}, err
	}
	return Deserialize(data)
}

// OpenSession loads the drawing and starts a Clean session on it.
func OpenSession(ctx context.Context, p Persistence, drawingId string, fallback Format) (*Session, error) {
	doc, err := Load(ctx, p, drawingId, fallback)
	if err != nil {
		return nil, err
	}
	return NewSession(p, drawingId, doc), nil
}

// NewSession starts a Clean session on an already loaded document.
func NewSession(p Persistence, drawingId string, doc Document) *Session {
	return &Session{
		drawingId:   drawingId,
		persistence: p,
		doc:         doc,
		state:       StateClean,
	}
}

func (s *Session) DrawingId() string { return s.drawingId }

func (s *Session) State() State { return s.state }

func (s *Session) Dirty() bool { return s.state == StateDirty }

// Document returns the current in-memory document.
func (s *Session) Document() Document { return s.doc }

func (s *Session) Append(stroke Stroke) error {
	doc, err := AppendStroke(s.doc, stroke)
	if err != nil {
		return err
	}
	s.doc = doc
	s.state = StateDirty
	return nil
}

func (s *Session) Clear() {
	s.doc = Clear(s.doc)
	s.state = StateDirty
}

func (s *Session) Reformat(f Format) error {
	doc, err := Reformat(s.doc, f)
	if err != nil {
		return err
	}
	s.doc = doc
	s.state = StateDirty
	return nil
}

// Save writes the whole document. On failure the session stays Dirty with
// every unsaved stroke kept, so the caller may retry.
func (s *Session) Save(ctx context.Context) error {
	data, err := Serialize(s.doc)
	if err != nil {
		return err
	}
	if err := s.persistence.Save(ctx, s.drawingId, data); err != nil {
		return err
	}
	s.state = StateClean
	return nil
}
