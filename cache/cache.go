package cache

import "context"

const (
	DrawingDeletedChannel       = "drawing-deleted"
	DrawingFormatChangedChannel = "drawing-format-changed"
	UserDeletedChannel          = "user-deleted"
)

type SurveyCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	// GetCanvas reports a miss with ok == false and a nil error.
	GetCanvas(ctx context.Context, drawingId string) (data []byte, ok bool, err error)
	SetCanvas(ctx context.Context, drawingId string, data []byte) error
	// SetCanvasIfAbsent fills the cache after a store read without
	// overwriting a document a concurrent save already cached.
	SetCanvasIfAbsent(ctx context.Context, drawingId string, data []byte) error
	InvalidateDrawings(ctx context.Context, drawingIds []string) error
}
