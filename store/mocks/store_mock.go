package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	args := m.Called(ctx, provider, providerId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) DeleteUser(ctx context.Context, provider string, providerId string) error {
	args := m.Called(ctx, provider, providerId)
	return args.Error(0)
}

func (m *MockStore) CreateDrawing(ctx context.Context, drawing models.Drawing) (models.Drawing, error) {
	args := m.Called(ctx, drawing)
	return args.Get(0).(models.Drawing), args.Error(1)
}

func (m *MockStore) GetDrawing(ctx context.Context, drawingId string) (models.Drawing, error) {
	args := m.Called(ctx, drawingId)
	return args.Get(0).(models.Drawing), args.Error(1)
}

func (m *MockStore) ListProjectDrawings(ctx context.Context, projectId string) ([]models.Drawing, error) {
	args := m.Called(ctx, projectId)
	return args.Get(0).([]models.Drawing), args.Error(1)
}

func (m *MockStore) SoftDeleteDrawing(ctx context.Context, drawingId string, deletedAt int64) error {
	args := m.Called(ctx, drawingId, deletedAt)
	return args.Error(0)
}

func (m *MockStore) SoftDeleteProjectDrawings(ctx context.Context, projectId string, deletedAt int64) ([]string, error) {
	args := m.Called(ctx, projectId, deletedAt)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) SaveCanvas(ctx context.Context, drawingId string, canvasData []byte) error {
	args := m.Called(ctx, drawingId, canvasData)
	return args.Error(0)
}

func (m *MockStore) LoadCanvas(ctx context.Context, drawingId string) ([]byte, error) {
	args := m.Called(ctx, drawingId)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockStore) UpdatePaperFormat(ctx context.Context, drawingId string, format canvas.Format, canvasData []byte) error {
	args := m.Called(ctx, drawingId, format, canvasData)
	return args.Error(0)
}

func (m *MockStore) AddProjectActivity(ctx context.Context, projectId string, lastSaved int64, saves int) error {
	args := m.Called(ctx, projectId, lastSaved, saves)
	return args.Error(0)
}

func (m *MockStore) GetProjectActivity(ctx context.Context, projectId string) (models.ProjectActivity, error) {
	args := m.Called(ctx, projectId)
	return args.Get(0).(models.ProjectActivity), args.Error(1)
}
