package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
	"github.com/zlnvch/surveycanvas/store"
	"github.com/zlnvch/surveycanvas/store/postgres/migrations"
)

const (
	upsertUserQuery = `INSERT INTO users (id, provider, provider_id, username, created)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (provider, provider_id) DO UPDATE SET provider = EXCLUDED.provider
		RETURNING id, username, created`

	getUserQuery = `SELECT id, username, created FROM users WHERE provider = $1 AND provider_id = $2`

	deleteUserQuery = `DELETE FROM users WHERE provider = $1 AND provider_id = $2`

	insertDrawingQuery = `INSERT INTO drawings (id, project_id, name, paper_size, orientation, canvas_data, created_by, created, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	getDrawingQuery = `SELECT id, project_id, name, paper_size, orientation, canvas_data, created_by, created, updated
		FROM drawings WHERE id = $1 AND deleted IS NULL`

	listProjectDrawingsQuery = `SELECT id, project_id, name, paper_size, orientation, created_by, created, updated
		FROM drawings WHERE project_id = $1 AND deleted IS NULL ORDER BY created, id`

	softDeleteDrawingQuery = `UPDATE drawings SET deleted = $2, updated = $2 WHERE id = $1 AND deleted IS NULL`

	softDeleteProjectDrawingsQuery = `UPDATE drawings SET deleted = $2, updated = $2
		WHERE project_id = $1 AND deleted IS NULL RETURNING id`

	saveCanvasQuery = `UPDATE drawings SET canvas_data = $2, updated = $3 WHERE id = $1 AND deleted IS NULL`

	loadCanvasQuery = `SELECT canvas_data FROM drawings WHERE id = $1 AND deleted IS NULL`

	updatePaperFormatQuery = `UPDATE drawings SET paper_size = $2, orientation = $3, canvas_data = $4, updated = $5
		WHERE id = $1 AND deleted IS NULL`

	addProjectActivityQuery = `INSERT INTO project_activity (project_id, last_saved, save_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (project_id) DO UPDATE
		SET last_saved = GREATEST(project_activity.last_saved, EXCLUDED.last_saved),
		    save_count = project_activity.save_count + EXCLUDED.save_count`

	getProjectActivityQuery = `SELECT last_saved, save_count FROM project_activity WHERE project_id = $1`
)

type PostgresSurveyStore struct {
	db *sql.DB
}

// NewPostgresSurveyStore opens the database through the pgx driver and brings
// the schema up to date.
func NewPostgresSurveyStore(ctx context.Context, dsn string) (*PostgresSurveyStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	return NewPostgresSurveyStoreFromDB(db), nil
}

func NewPostgresSurveyStoreFromDB(db *sql.DB) *PostgresSurveyStore {
	return &PostgresSurveyStore{db: db}
}

// gooseUpContext is swapped in tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

func (s *PostgresSurveyStore) Close() error {
	return s.db.Close()
}

func (s *PostgresSurveyStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}

	out := user
	err = s.db.QueryRowContext(ctx, upsertUserQuery,
		userId.String(), user.Provider, user.ProviderId, user.Username, time.Now().Unix(),
	).Scan(&out.Id, &out.Username, &out.Created)
	if err != nil {
		return models.User{}, fmt.Errorf("upsert user: %w", err)
	}

	return out, nil
}

func (s *PostgresSurveyStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	user := models.User{Provider: provider, ProviderId: providerId}
	err := s.db.QueryRowContext(ctx, getUserQuery, provider, providerId).Scan(&user.Id, &user.Username, &user.Created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, store.ErrItemNotFound
		}
		return models.User{}, fmt.Errorf("get user: %w", err)
	}

	return user, nil
}

func (s *PostgresSurveyStore) DeleteUser(ctx context.Context, provider string, providerId string) error {
	res, err := s.db.ExecContext(ctx, deleteUserQuery, provider, providerId)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresSurveyStore) CreateDrawing(ctx context.Context, drawing models.Drawing) (models.Drawing, error) {
	res, err := s.db.ExecContext(ctx, insertDrawingQuery,
		drawing.Id, drawing.ProjectId, drawing.Name,
		string(drawing.PaperSize), string(drawing.Orientation), drawing.CanvasData,
		drawing.CreatedBy, drawing.Created, drawing.Updated,
	)
	if err != nil {
		return models.Drawing{}, fmt.Errorf("insert drawing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.Drawing{}, err
	}
	if n == 0 {
		return models.Drawing{}, fmt.Errorf("drawing %s already exists: %w", drawing.Id, store.ErrConditionFailed)
	}

	return drawing, nil
}

func (s *PostgresSurveyStore) GetDrawing(ctx context.Context, drawingId string) (models.Drawing, error) {
	var d models.Drawing
	var paperSize, orientation string
	err := s.db.QueryRowContext(ctx, getDrawingQuery, drawingId).Scan(
		&d.Id, &d.ProjectId, &d.Name, &paperSize, &orientation, &d.CanvasData,
		&d.CreatedBy, &d.Created, &d.Updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Drawing{}, store.ErrItemNotFound
		}
		return models.Drawing{}, fmt.Errorf("get drawing: %w", err)
	}
	d.PaperSize = canvas.PaperSize(paperSize)
	d.Orientation = canvas.Orientation(orientation)

	return d, nil
}

func (s *PostgresSurveyStore) ListProjectDrawings(ctx context.Context, projectId string) ([]models.Drawing, error) {
	rows, err := s.db.QueryContext(ctx, listProjectDrawingsQuery, projectId)
	if err != nil {
		return nil, fmt.Errorf("list drawings: %w", err)
	}
	defer rows.Close()

	drawings := []models.Drawing{}
	for rows.Next() {
		var d models.Drawing
		var paperSize, orientation string
		if err := rows.Scan(&d.Id, &d.ProjectId, &d.Name, &paperSize, &orientation, &d.CreatedBy, &d.Created, &d.Updated); err != nil {
			return nil, fmt.Errorf("scan drawing: %w", err)
		}
		d.PaperSize = canvas.PaperSize(paperSize)
		d.Orientation = canvas.Orientation(orientation)
		drawings = append(drawings, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drawings: %w", err)
	}

	return drawings, nil
}

func (s *PostgresSurveyStore) SoftDeleteDrawing(ctx context.Context, drawingId string, deletedAt int64) error {
	res, err := s.db.ExecContext(ctx, softDeleteDrawingQuery, drawingId, deletedAt)
	if err != nil {
		return fmt.Errorf("soft delete drawing: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresSurveyStore) SoftDeleteProjectDrawings(ctx context.Context, projectId string, deletedAt int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, softDeleteProjectDrawingsQuery, projectId, deletedAt)
	if err != nil {
		return nil, fmt.Errorf("soft delete project drawings: %w", err)
	}
	defer rows.Close()

	deleted := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}

	return deleted, rows.Err()
}

func (s *PostgresSurveyStore) SaveCanvas(ctx context.Context, drawingId string, canvasData []byte) error {
	res, err := s.db.ExecContext(ctx, saveCanvasQuery, drawingId, canvasData, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save canvas: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresSurveyStore) LoadCanvas(ctx context.Context, drawingId string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, loadCanvasQuery, drawingId).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrItemNotFound
		}
		return nil, fmt.Errorf("load canvas: %w", err)
	}
	if len(data) == 0 {
		return nil, store.ErrItemNotFound
	}

	return data, nil
}

func (s *PostgresSurveyStore) UpdatePaperFormat(ctx context.Context, drawingId string, format canvas.Format, canvasData []byte) error {
	res, err := s.db.ExecContext(ctx, updatePaperFormatQuery,
		drawingId, string(format.PaperSize), string(format.Orientation), canvasData, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("update paper format: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresSurveyStore) AddProjectActivity(ctx context.Context, projectId string, lastSaved int64, saves int) error {
	_, err := s.db.ExecContext(ctx, addProjectActivityQuery, projectId, lastSaved, saves)
	if err != nil {
		return fmt.Errorf("add project activity: %w", err)
	}
	return nil
}

func (s *PostgresSurveyStore) GetProjectActivity(ctx context.Context, projectId string) (models.ProjectActivity, error) {
	activity := models.ProjectActivity{ProjectId: projectId}
	err := s.db.QueryRowContext(ctx, getProjectActivityQuery, projectId).Scan(&activity.LastSaved, &activity.SaveCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ProjectActivity{}, store.ErrItemNotFound
		}
		return models.ProjectActivity{}, fmt.Errorf("get project activity: %w", err)
	}

	return activity, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrItemNotFound
	}
	return nil
}
