package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	cachemocks "github.com/zlnvch/surveycanvas/cache/mocks"
	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
	mqmocks "github.com/zlnvch/surveycanvas/mq/mocks"
	"github.com/zlnvch/surveycanvas/service"
	storemocks "github.com/zlnvch/surveycanvas/store/mocks"
	"github.com/zlnvch/surveycanvas/worker"
)

const (
	testProjectId = "018f3a4e-0000-7000-8000-00000000aaaa"
	testDrawingId = "018f3a4e-0000-7000-8000-00000000d001"
)

// Helper to setup the service with mocks
func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *mqmocks.MockMQ, *worker.ActivityBatcher) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockMQ)

	// Real batcher is used, never started; tests read its channel
	activityBatcher := worker.NewActivityBatcher(mockStore, 1000)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		mockMQ,
		activityBatcher,
		nil,
		[]byte("secret"),
	)
	assert.NoError(t, err)

	return svc, mockStore, mockCache, mockMQ, activityBatcher
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func waitFor(t *testing.T, done chan struct{}, what string) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for "+what)
	}
}

func testDrawing(size canvas.PaperSize, orientation canvas.Orientation) models.Drawing {
	return models.Drawing{
		Id:          testDrawingId,
		ProjectId:   testProjectId,
		Name:        "Ground floor",
		PaperSize:   size,
		Orientation: orientation,
		CreatedBy:   "user1",
		Created:     1700000000,
		Updated:     1700000000,
	}
}

func validStroke() canvas.Stroke {
	return canvas.Stroke{
		Points: []canvas.Point{{X: 10, Y: 10}, {X: 20, Y: 25}, {X: 30, Y: 45}},
		Color:  "#1a2b3c",
		Width:  3,
	}
}

func serializedDoc(t *testing.T, size canvas.PaperSize, orientation canvas.Orientation, strokes ...canvas.Stroke) []byte {
	t.Helper()
	doc, err := canvas.CreateEmpty(size, orientation)
	require.NoError(t, err)
	for _, s := range strokes {
		doc, err = canvas.AppendStroke(doc, s)
		require.NoError(t, err)
	}
	data, err := canvas.Serialize(doc)
	require.NoError(t, err)
	return data
}
