package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) GetCanvas(ctx context.Context, drawingId string) ([]byte, bool, error) {
	args := m.Called(ctx, drawingId)
	data, _ := args.Get(0).([]byte)
	return data, args.Bool(1), args.Error(2)
}

func (m *MockCache) SetCanvas(ctx context.Context, drawingId string, data []byte) error {
	args := m.Called(ctx, drawingId, data)
	return args.Error(0)
}

func (m *MockCache) SetCanvasIfAbsent(ctx context.Context, drawingId string, data []byte) error {
	args := m.Called(ctx, drawingId, data)
	return args.Error(0)
}

func (m *MockCache) InvalidateDrawings(ctx context.Context, drawingIds []string) error {
	args := m.Called(ctx, drawingIds)
	return args.Error(0)
}
