package models

import "github.com/zlnvch/surveycanvas/canvas"

type User struct {
	Id         string
	Username   string
	Provider   string
	ProviderId string
	Created    int64
}

// Drawing is a named canvas owned by a project. CanvasData holds the
// serialized canvas.Document and is always replaced as a whole.
type Drawing struct {
	Id          string
	ProjectId   string
	Name        string
	PaperSize   canvas.PaperSize
	Orientation canvas.Orientation
	CanvasData  []byte
	CreatedBy   string
	Created     int64
	Updated     int64
	Deleted     int64
}

func (d Drawing) Format() canvas.Format {
	return canvas.Format{PaperSize: d.PaperSize, Orientation: d.Orientation}
}

func (d Drawing) IsDeleted() bool {
	return d.Deleted != 0
}

type ProjectActivity struct {
	ProjectId string
	LastSaved int64
	SaveCount int
}
