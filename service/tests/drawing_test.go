package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zlnvch/surveycanvas/cache"
	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
	"github.com/zlnvch/surveycanvas/service"
	"github.com/zlnvch/surveycanvas/store"
)

func TestCreateDrawing_Success(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	var stored models.Drawing
	mockStore.On("CreateDrawing", ctx, mock.AnythingOfType("models.Drawing")).
		Run(func(args mock.Arguments) { stored = args.Get(1).(models.Drawing) }).
		Return(models.Drawing{Id: testDrawingId, ProjectId: testProjectId}, nil)
	cached := wrapMockWithSignal(mockCache.On("SetCanvasIfAbsent", mock.Anything, testDrawingId, mock.Anything).Return(nil))

	drawing, err := svc.CreateDrawing(ctx, service.CreateDrawingParams{
		User:        models.User{Id: "user1"},
		ProjectId:   testProjectId,
		Name:        "  Roof plan ",
		PaperSize:   "A3",
		Orientation: "landscape",
	})
	require.NoError(t, err)
	assert.Equal(t, testDrawingId, drawing.Id)

	assert.Equal(t, "Roof plan", stored.Name)
	assert.Equal(t, canvas.PaperA3, stored.PaperSize)
	assert.Equal(t, canvas.Landscape, stored.Orientation)
	assert.Equal(t, "user1", stored.CreatedBy)
	assert.NotEmpty(t, stored.Id)

	doc, err := canvas.Deserialize(stored.CanvasData)
	require.NoError(t, err)
	assert.Empty(t, doc.Strokes)
	assert.Equal(t, canvas.Metadata{CanvasWidth: 1587, CanvasHeight: 1123, GridSize: canvas.GridSize}, doc.Metadata)

	waitFor(t, cached, "SetCanvasIfAbsent")
}

func TestCreateDrawing_DefaultsToA4Portrait(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	var stored models.Drawing
	mockStore.On("CreateDrawing", ctx, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(models.Drawing) }).
		Return(models.Drawing{Id: testDrawingId}, nil)
	cached := wrapMockWithSignal(mockCache.On("SetCanvasIfAbsent", mock.Anything, mock.Anything, mock.Anything).Return(nil))

	_, err := svc.CreateDrawing(ctx, service.CreateDrawingParams{ProjectId: testProjectId, Name: "Site"})
	require.NoError(t, err)
	assert.Equal(t, canvas.PaperA4, stored.PaperSize)
	assert.Equal(t, canvas.Portrait, stored.Orientation)

	waitFor(t, cached, "SetCanvasIfAbsent")
}

func TestCreateDrawing_Validation(t *testing.T) {
	tests := []struct {
		name    string
		params  service.CreateDrawingParams
		wantErr error
	}{
		{"Bad Project Id", service.CreateDrawingParams{ProjectId: "project-1", Name: "x"}, service.ErrInvalidInput},
		{"Empty Name", service.CreateDrawingParams{ProjectId: testProjectId, Name: "   "}, service.ErrInvalidInput},
		{"Long Name", service.CreateDrawingParams{ProjectId: testProjectId, Name: strings.Repeat("n", 256)}, service.ErrInvalidInput},
		{"Unknown Paper", service.CreateDrawingParams{ProjectId: testProjectId, Name: "x", PaperSize: "b4"}, canvas.ErrUnsupportedPaperSize},
		{"Unknown Orientation", service.CreateDrawingParams{ProjectId: testProjectId, Name: "x", Orientation: "diagonal"}, canvas.ErrUnsupportedOrientation},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, mockStore, _, _, _ := setupService(t)

			_, err := svc.CreateDrawing(context.Background(), tc.params)
			assert.ErrorIs(t, err, tc.wantErr)
			mockStore.AssertNotCalled(t, "CreateDrawing", mock.Anything, mock.Anything)
		})
	}
}

func TestGetDrawing_NotFound(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(models.Drawing{}, store.ErrItemNotFound)

	_, err := svc.GetDrawing(ctx, testDrawingId)
	assert.ErrorIs(t, err, service.ErrDrawingNotFound)
}

func TestLoadCanvas_CacheHit(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(serializedDoc(t, canvas.PaperA4, canvas.Portrait, validStroke()), true, nil)

	doc, err := svc.LoadCanvas(ctx, testDrawingId)
	require.NoError(t, err)
	require.Len(t, doc.Strokes, 1)
	assert.Len(t, doc.Strokes[0].Points, 3)

	mockStore.AssertNotCalled(t, "LoadCanvas", mock.Anything, mock.Anything)
}

func TestLoadCanvas_CacheMissBackfills(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	data := serializedDoc(t, canvas.PaperA4, canvas.Portrait, validStroke())

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(nil, false, nil)
	mockStore.On("LoadCanvas", ctx, testDrawingId).Return(data, nil)
	mockCache.On("SetCanvasIfAbsent", ctx, testDrawingId, data).Return(nil)

	doc, err := svc.LoadCanvas(ctx, testDrawingId)
	require.NoError(t, err)
	assert.Len(t, doc.Strokes, 1)
	mockCache.AssertExpectations(t)
}

func TestLoadCanvas_CacheErrorFallsBackToStore(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	data := serializedDoc(t, canvas.PaperA4, canvas.Portrait)

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(nil, false, errors.New("redis down"))
	mockStore.On("LoadCanvas", ctx, testDrawingId).Return(data, nil)
	mockCache.On("SetCanvasIfAbsent", ctx, testDrawingId, data).Return(errors.New("redis down"))

	_, err := svc.LoadCanvas(ctx, testDrawingId)
	assert.NoError(t, err)
}

func TestLoadCanvas_NeverSavedUsesDrawingFormat(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA3, canvas.Landscape), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(nil, false, nil)
	mockStore.On("LoadCanvas", ctx, testDrawingId).Return(nil, store.ErrItemNotFound)

	doc, err := svc.LoadCanvas(ctx, testDrawingId)
	require.NoError(t, err)
	assert.Empty(t, doc.Strokes)
	assert.Equal(t, 1587, doc.Metadata.CanvasWidth)
	assert.Equal(t, 1123, doc.Metadata.CanvasHeight)
}

func TestLoadCanvas_UnknownDrawingIsNotAnEmptyCanvas(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(models.Drawing{}, store.ErrItemNotFound)

	_, err := svc.LoadCanvas(ctx, testDrawingId)
	assert.ErrorIs(t, err, service.ErrDrawingNotFound)
	mockCache.AssertNotCalled(t, "GetCanvas", mock.Anything, mock.Anything)
}

func TestLoadCanvas_StaleMetadataRecomputed(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	// the drawing moved to letter but the cached document is still a4
	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperLetter, canvas.Portrait), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(serializedDoc(t, canvas.PaperA4, canvas.Portrait, validStroke()), true, nil)

	doc, err := svc.LoadCanvas(ctx, testDrawingId)
	require.NoError(t, err)
	assert.Equal(t, canvas.Metadata{CanvasWidth: 816, CanvasHeight: 1056, GridSize: 20}, doc.Metadata)
	assert.Len(t, doc.Strokes, 1)
}

func TestLoadCanvas_CorruptDocument(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return([]byte(`{"version":"1.0"}`), true, nil)

	_, err := svc.LoadCanvas(ctx, testDrawingId)
	assert.ErrorIs(t, err, canvas.ErrMalformedDocument)
}

func TestSaveCanvas_Success(t *testing.T) {
	svc, mockStore, mockCache, _, activityBatcher := setupService(t)
	ctx := context.Background()

	// client formatting is not what gets stored
	body := []byte(`{
		"version": "1.0",
		"metadata": {"canvas_width": 794, "canvas_height": 1123, "grid_size": 20},
		"strokes": [{"points": [[1,2],[3,4]], "color": "#ff0000", "width": 4, "tool": "pen"}]
	}`)

	var saved []byte
	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockStore.On("SaveCanvas", ctx, testDrawingId, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(2).([]byte) }).
		Return(nil)
	mockCache.On("SetCanvas", ctx, testDrawingId, mock.Anything).Return(nil)

	doc, err := svc.SaveCanvas(ctx, testDrawingId, body)
	require.NoError(t, err)
	require.Len(t, doc.Strokes, 1)

	stored, err := canvas.Deserialize(saved)
	require.NoError(t, err)
	assert.Equal(t, doc, stored)
	assert.NotContains(t, string(saved), "\n")
	assert.JSONEq(t, `"pen"`, string(stored.Strokes[0].Extra["tool"]))

	select {
	case update := <-activityBatcher.UpdateCh:
		assert.Equal(t, testProjectId, update.ProjectId)
		assert.Equal(t, 1, update.Saves)
	default:
		assert.Fail(t, "save was not recorded as project activity")
	}
}

func TestSaveCanvas_Rejected(t *testing.T) {
	a4 := `"metadata":{"canvas_width":794,"canvas_height":1123,"grid_size":20}`
	tests := []struct {
		name    string
		body    string
		wantErr error
	}{
		{"Malformed", `{"version":"1.0","strokes":[]}`, canvas.ErrMalformedDocument},
		{"Newer Version", `{"version":"2.0","strokes":[],` + a4 + `}`, canvas.ErrUnsupportedVersion},
		{"Wrong Paper Metadata", `{"version":"1.0","strokes":[],"metadata":{"canvas_width":1123,"canvas_height":794,"grid_size":20}}`, service.ErrInvalidInput},
		{"Bad Color", `{"version":"1.0",` + a4 + `,"strokes":[{"points":[[1,1]],"color":"red","width":2}]}`, canvas.ErrInvalidStroke},
		{"Width Too Large", `{"version":"1.0",` + a4 + `,"strokes":[{"points":[[1,1]],"color":"#000000","width":51}]}`, canvas.ErrInvalidStroke},
		{"No Points", `{"version":"1.0",` + a4 + `,"strokes":[{"points":[],"color":"#000000","width":2}]}`, canvas.ErrInvalidStroke},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, mockStore, _, _, _ := setupService(t)
			ctx := context.Background()
			mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)

			_, err := svc.SaveCanvas(ctx, testDrawingId, []byte(tc.body))
			assert.ErrorIs(t, err, tc.wantErr)
			mockStore.AssertNotCalled(t, "SaveCanvas", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestSaveCanvas_CacheWriteFailureDropsKey(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockStore.On("SaveCanvas", ctx, testDrawingId, mock.Anything).Return(nil)
	mockCache.On("SetCanvas", ctx, testDrawingId, mock.Anything).Return(errors.New("redis down"))
	mockCache.On("InvalidateDrawings", ctx, []string{testDrawingId}).Return(nil)

	_, err := svc.SaveCanvas(ctx, testDrawingId, serializedDoc(t, canvas.PaperA4, canvas.Portrait, validStroke()))
	assert.NoError(t, err)
	mockCache.AssertCalled(t, "InvalidateDrawings", ctx, []string{testDrawingId})
}

func TestSaveCanvas_StoreFailure(t *testing.T) {
	svc, mockStore, mockCache, _, activityBatcher := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockStore.On("SaveCanvas", ctx, testDrawingId, mock.Anything).Return(assert.AnError)

	_, err := svc.SaveCanvas(ctx, testDrawingId, serializedDoc(t, canvas.PaperA4, canvas.Portrait))
	assert.ErrorIs(t, err, assert.AnError)
	mockCache.AssertNotCalled(t, "SetCanvas", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, activityBatcher.UpdateCh)
}

func TestChangePaperFormat(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	format := canvas.Format{PaperSize: canvas.PaperA3, Orientation: canvas.Landscape}

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(serializedDoc(t, canvas.PaperA4, canvas.Portrait, validStroke()), true, nil)

	var written []byte
	mockStore.On("UpdatePaperFormat", ctx, testDrawingId, format, mock.Anything).
		Run(func(args mock.Arguments) { written = args.Get(3).([]byte) }).
		Return(nil)
	mockCache.On("SetCanvas", ctx, testDrawingId, mock.Anything).Return(nil)
	published := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, cache.DrawingFormatChangedChannel, []byte(testDrawingId)).Return(nil))

	drawing, err := svc.ChangePaperFormat(ctx, service.ChangePaperFormatParams{
		DrawingId:   testDrawingId,
		PaperSize:   "a3",
		Orientation: "landscape",
	})
	require.NoError(t, err)
	assert.Equal(t, format, drawing.Format())

	doc, err := canvas.Deserialize(written)
	require.NoError(t, err)
	assert.True(t, doc.MatchesFormat(format))
	assert.Len(t, doc.Strokes, 1, "strokes survive a paper change")

	waitFor(t, published, "Publish")
}

func TestChangePaperFormat_UnsupportedSize(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)

	_, err := svc.ChangePaperFormat(context.Background(), service.ChangePaperFormatParams{DrawingId: testDrawingId, PaperSize: "a7"})
	assert.ErrorIs(t, err, canvas.ErrUnsupportedPaperSize)
	mockStore.AssertNotCalled(t, "GetDrawing", mock.Anything, mock.Anything)
}

func TestDeleteDrawing_Success(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("SoftDeleteDrawing", ctx, testDrawingId, mock.AnythingOfType("int64")).Return(nil)
	mockCache.On("InvalidateDrawings", mock.Anything, []string{testDrawingId}).Return(nil)
	published := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, cache.DrawingDeletedChannel, []byte(testDrawingId)).Return(nil))

	assert.NoError(t, svc.DeleteDrawing(ctx, testDrawingId))
	waitFor(t, published, "Publish")
	mockCache.AssertCalled(t, "InvalidateDrawings", mock.Anything, []string{testDrawingId})
}

func TestDeleteDrawing_NotFound(t *testing.T) {
	svc, mockStore, _, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("SoftDeleteDrawing", ctx, testDrawingId, mock.AnythingOfType("int64")).Return(store.ErrItemNotFound)

	err := svc.DeleteDrawing(ctx, testDrawingId)
	assert.ErrorIs(t, err, service.ErrDrawingNotFound)
}

func TestOpenSession_EditAndSave(t *testing.T) {
	svc, mockStore, mockCache, _, activityBatcher := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(nil, false, nil)
	mockStore.On("LoadCanvas", ctx, testDrawingId).Return(nil, store.ErrItemNotFound)

	session, drawing, err := svc.OpenSession(ctx, testDrawingId)
	require.NoError(t, err)
	assert.Equal(t, testProjectId, drawing.ProjectId)
	assert.Equal(t, canvas.StateClean, session.State())
	assert.Empty(t, session.Document().Strokes)

	require.NoError(t, session.Append(validStroke()))
	assert.True(t, session.Dirty())

	mockStore.On("SaveCanvas", ctx, testDrawingId, mock.Anything).Return(nil)
	mockCache.On("SetCanvas", ctx, testDrawingId, mock.Anything).Return(nil)

	require.NoError(t, session.Save(ctx))
	assert.Equal(t, canvas.StateClean, session.State())
	assert.Len(t, activityBatcher.UpdateCh, 1)
}

func TestOpenSession_SaveOnDeletedDrawing(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperA4, canvas.Portrait), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(serializedDoc(t, canvas.PaperA4, canvas.Portrait), true, nil)

	session, _, err := svc.OpenSession(ctx, testDrawingId)
	require.NoError(t, err)
	require.NoError(t, session.Append(validStroke()))

	// deleted by someone else while the session was open
	mockStore.On("SaveCanvas", ctx, testDrawingId, mock.Anything).Return(store.ErrItemNotFound)

	err = session.Save(ctx)
	assert.ErrorIs(t, err, service.ErrDrawingNotFound)
	assert.True(t, session.Dirty())
	assert.Len(t, session.Document().Strokes, 1)
}

func TestOpenSession_StaleMetadataStartsDirty(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	mockStore.On("GetDrawing", ctx, testDrawingId).Return(testDrawing(canvas.PaperLegal, canvas.Landscape), nil)
	mockCache.On("GetCanvas", ctx, testDrawingId).Return(serializedDoc(t, canvas.PaperA4, canvas.Portrait), true, nil)

	session, _, err := svc.OpenSession(ctx, testDrawingId)
	require.NoError(t, err)
	assert.True(t, session.Dirty())
	assert.Equal(t, 1344, session.Document().Metadata.CanvasWidth)
	assert.Equal(t, 816, session.Document().Metadata.CanvasHeight)
}
