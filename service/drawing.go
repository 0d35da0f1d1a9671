package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"

	"github.com/zlnvch/surveycanvas/cache"
	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
	"github.com/zlnvch/surveycanvas/store"
	"github.com/zlnvch/surveycanvas/worker"
)

type CreateDrawingParams struct {
	User        models.User
	ProjectId   string
	Name        string
	PaperSize   string
	Orientation string
}

func (s *Service) CreateDrawing(ctx context.Context, params CreateDrawingParams) (models.Drawing, error) {
	// 1. Validation
	if err := ValidateProjectId(params.ProjectId); err != nil {
		return models.Drawing{}, err
	}
	if err := ValidateDrawingName(params.Name); err != nil {
		return models.Drawing{}, err
	}
	format, err := canvas.ParseFormat(params.PaperSize, params.Orientation)
	if err != nil {
		return models.Drawing{}, err
	}

	// 2. Every drawing starts with a stored empty canvas sized for its paper
	doc, err := canvas.CreateEmpty(format.PaperSize, format.Orientation)
	if err != nil {
		return models.Drawing{}, err
	}
	data, err := canvas.Serialize(doc)
	if err != nil {
		return models.Drawing{}, err
	}

	// 3. ID Generation
	drawingUUID, err := uuid.NewV7()
	if err != nil {
		return models.Drawing{}, err
	}

	now := time.Now().Unix()
	drawing, err := s.Store.CreateDrawing(ctx, models.Drawing{
		Id:          drawingUUID.String(),
		ProjectId:   params.ProjectId,
		Name:        strings.TrimSpace(params.Name),
		PaperSize:   format.PaperSize,
		Orientation: format.Orientation,
		CanvasData:  data,
		CreatedBy:   params.User.Id,
		Created:     now,
		Updated:     now,
	})
	if err != nil {
		return models.Drawing{}, err
	}

	// Async side-effects - the drawing is usually opened right after creation
	go func() {
		if err := s.Cache.SetCanvasIfAbsent(context.Background(), drawing.Id, data); err != nil {
			log.Printf("Failed to cache canvas of new drawing %s: %v", drawing.Id, err)
		}
	}()

	return drawing, nil
}

// GetDrawing returns a live drawing. Unknown and deleted ids are both
// ErrDrawingNotFound.
func (s *Service) GetDrawing(ctx context.Context, drawingId string) (models.Drawing, error) {
	if err := ValidateDrawingId(drawingId); err != nil {
		return models.Drawing{}, err
	}

	drawing, err := s.Store.GetDrawing(ctx, drawingId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Drawing{}, fmt.Errorf("%w: %s", ErrDrawingNotFound, drawingId)
		}
		return models.Drawing{}, err
	}

	return drawing, nil
}

func (s *Service) ListDrawings(ctx context.Context, projectId string) ([]models.Drawing, error) {
	if err := ValidateProjectId(projectId); err != nil {
		return nil, err
	}

	return s.Store.ListProjectDrawings(ctx, projectId)
}

// LoadCanvas returns the document of an existing drawing. A drawing that
// never had a canvas stored gets an empty one for its own paper format, and
// a document whose metadata went stale is brought back in line with it.
func (s *Service) LoadCanvas(ctx context.Context, drawingId string) (canvas.Document, error) {
	drawing, err := s.GetDrawing(ctx, drawingId)
	if err != nil {
		return canvas.Document{}, err
	}

	doc, err := canvas.Load(ctx, s.persistence(drawing), drawingId, drawing.Format())
	if err != nil {
		return canvas.Document{}, err
	}

	return conformToDrawing(doc, drawing)
}

// SaveCanvas replaces the whole stored document with a client-supplied one.
func (s *Service) SaveCanvas(ctx context.Context, drawingId string, data []byte) (canvas.Document, error) {
	drawing, err := s.GetDrawing(ctx, drawingId)
	if err != nil {
		return canvas.Document{}, err
	}

	doc, err := canvas.Deserialize(data)
	if err != nil {
		return canvas.Document{}, err
	}
	if err := ValidateDocument(doc, drawing.Format()); err != nil {
		return canvas.Document{}, err
	}

	// stored bytes are always our own encoding, not the client's
	canonical, err := canvas.Serialize(doc)
	if err != nil {
		return canvas.Document{}, err
	}
	if err := s.persistence(drawing).Save(ctx, drawingId, canonical); err != nil {
		return canvas.Document{}, err
	}

	return doc, nil
}

type ChangePaperFormatParams struct {
	DrawingId   string
	PaperSize   string
	Orientation string
}

// ChangePaperFormat switches the paper of a drawing and rewrites its canvas
// metadata in the same store write.
func (s *Service) ChangePaperFormat(ctx context.Context, params ChangePaperFormatParams) (models.Drawing, error) {
	format, err := canvas.ParseFormat(params.PaperSize, params.Orientation)
	if err != nil {
		return models.Drawing{}, err
	}

	drawing, err := s.GetDrawing(ctx, params.DrawingId)
	if err != nil {
		return models.Drawing{}, err
	}

	doc, err := canvas.Load(ctx, s.persistence(drawing), drawing.Id, drawing.Format())
	if err != nil {
		return models.Drawing{}, err
	}
	doc, err = canvas.Reformat(doc, format)
	if err != nil {
		return models.Drawing{}, err
	}
	data, err := canvas.Serialize(doc)
	if err != nil {
		return models.Drawing{}, err
	}

	if err := s.Store.UpdatePaperFormat(ctx, drawing.Id, format, data); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Drawing{}, fmt.Errorf("%w: %s", ErrDrawingNotFound, drawing.Id)
		}
		return models.Drawing{}, err
	}
	s.cacheSavedCanvas(ctx, drawing.Id, data)

	// Open sessions still hold the old metadata and must reload
	go func() {
		if err := s.Cache.Publish(context.Background(), cache.DrawingFormatChangedChannel, []byte(drawing.Id)); err != nil {
			log.Printf("Failed to publish format change for %s: %v", drawing.Id, err)
		}
	}()

	drawing.PaperSize = format.PaperSize
	drawing.Orientation = format.Orientation
	drawing.CanvasData = data
	drawing.Updated = time.Now().Unix()
	return drawing, nil
}

func (s *Service) DeleteDrawing(ctx context.Context, drawingId string) error {
	if err := ValidateDrawingId(drawingId); err != nil {
		return err
	}

	if err := s.Store.SoftDeleteDrawing(ctx, drawingId, time.Now().Unix()); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return fmt.Errorf("%w: %s", ErrDrawingNotFound, drawingId)
		}
		return err
	}

	// Async side-effects - return to caller as soon as as store operation is done
	go func() {
		ctx := context.Background()
		if err := s.Cache.InvalidateDrawings(ctx, []string{drawingId}); err != nil {
			log.Printf("Failed to invalidate canvas of %s: %v", drawingId, err)
		}
		if err := s.Cache.Publish(ctx, cache.DrawingDeletedChannel, []byte(drawingId)); err != nil {
			log.Printf("Failed to publish drawing-deleted for %s: %v", drawingId, err)
		}
	}()

	return nil
}

// OpenSession starts an editing session on an existing drawing.
func (s *Service) OpenSession(ctx context.Context, drawingId string) (*canvas.Session, models.Drawing, error) {
	drawing, err := s.GetDrawing(ctx, drawingId)
	if err != nil {
		return nil, models.Drawing{}, err
	}

	session, err := canvas.OpenSession(ctx, s.persistence(drawing), drawingId, drawing.Format())
	if err != nil {
		return nil, models.Drawing{}, err
	}

	if !session.Document().MatchesFormat(drawing.Format()) {
		// leaves the session dirty so the corrected metadata gets saved
		if err := session.Reformat(drawing.Format()); err != nil {
			return nil, models.Drawing{}, err
		}
	}

	return session, drawing, nil
}

func conformToDrawing(doc canvas.Document, drawing models.Drawing) (canvas.Document, error) {
	if doc.MatchesFormat(drawing.Format()) {
		return doc, nil
	}
	log.Warn().Str("drawingId", drawing.Id).Msg("stale canvas metadata, recomputing")
	return canvas.Reformat(doc, drawing.Format())
}

// canvasPersistence is the canvas.Persistence of one drawing: reads go
// through the cache, writes go to the store and then the cache.
type canvasPersistence struct {
	svc       *Service
	projectId string
}

func (s *Service) persistence(drawing models.Drawing) canvasPersistence {
	return canvasPersistence{svc: s, projectId: drawing.ProjectId}
}

func (p canvasPersistence) Load(ctx context.Context, drawingId string) ([]byte, error) {
	data, ok, err := p.svc.Cache.GetCanvas(ctx, drawingId)
	if err != nil {
		log.Printf("Cache read failed for %s, falling back to store: %v", drawingId, err)
	}
	if ok {
		return data, nil
	}

	data, err = p.svc.Store.LoadCanvas(ctx, drawingId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return nil, canvas.ErrNotFound
		}
		return nil, err
	}

	if err := p.svc.Cache.SetCanvasIfAbsent(ctx, drawingId, data); err != nil {
		log.Printf("Failed to backfill canvas cache for %s: %v", drawingId, err)
	}

	return data, nil
}

func (p canvasPersistence) Save(ctx context.Context, drawingId string, data []byte) error {
	if err := p.svc.Store.SaveCanvas(ctx, drawingId, data); err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return fmt.Errorf("%w: %s", ErrDrawingNotFound, drawingId)
		}
		return err
	}

	p.svc.cacheSavedCanvas(ctx, drawingId, data)

	if p.svc.ActivityBatcher != nil {
		p.svc.ActivityBatcher.Record(worker.ActivityUpdate{
			ProjectId: p.projectId,
			SavedAt:   time.Now().Unix(),
			Saves:     1,
		})
	}

	return nil
}

// cacheSavedCanvas writes a just-stored document to the cache. The cache must
// never hold a document older than the store, so a failed write drops the key.
func (s *Service) cacheSavedCanvas(ctx context.Context, drawingId string, data []byte) {
	err := s.Cache.SetCanvas(ctx, drawingId, data)
	if err == nil {
		return
	}
	log.Printf("Failed to cache canvas of %s: %v", drawingId, err)

	if err := s.Cache.InvalidateDrawings(ctx, []string{drawingId}); err != nil {
		log.Error().Err(err).Str("drawingId", drawingId).Msg("canvas cache may be stale")
	}
}
