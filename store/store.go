package store

import (
	"context"
	"errors"

	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
)

type SurveyStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, provider string, providerId string) (models.User, error)
	DeleteUser(ctx context.Context, provider string, providerId string) error

	CreateDrawing(ctx context.Context, drawing models.Drawing) (models.Drawing, error)
	GetDrawing(ctx context.Context, drawingId string) (models.Drawing, error)
	ListProjectDrawings(ctx context.Context, projectId string) ([]models.Drawing, error)
	SoftDeleteDrawing(ctx context.Context, drawingId string, deletedAt int64) error
	SoftDeleteProjectDrawings(ctx context.Context, projectId string, deletedAt int64) ([]string, error)

	// SaveCanvas replaces the stored canvas of a live drawing in one write.
	SaveCanvas(ctx context.Context, drawingId string, canvasData []byte) error
	// LoadCanvas returns ErrItemNotFound when nothing was ever stored.
	LoadCanvas(ctx context.Context, drawingId string) ([]byte, error)
	// UpdatePaperFormat changes the paper and the recomputed canvas together.
	UpdatePaperFormat(ctx context.Context, drawingId string, format canvas.Format, canvasData []byte) error

	AddProjectActivity(ctx context.Context, projectId string, lastSaved int64, saves int) error
	GetProjectActivity(ctx context.Context, projectId string) (models.ProjectActivity, error)
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
