package ws

import (
	"encoding/json"
	"errors"
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
	"github.com/zlnvch/surveycanvas/store"
	storemocks "github.com/zlnvch/surveycanvas/store/mocks"
)

const testDrawingId = "018f3a4e-0000-7000-8000-00000000d001"

type wsResponse struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func setupHandler(t *testing.T) (*Handler, *Client, *storemocks.MockStore, *cachemocks.MockCache) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)

	svc, err := service.NewService(mockStore, mockCache, new(mqmocks.MockMQ), nil, nil, []byte("secret"))
	require.NoError(t, err)

	hub := NewHub(mockCache)
	handler := NewHandler(svc, hub)
	client := NewClient(hub, nil, models.User{Id: "user1"}, handler.HandleWsMessage)
	t.Cleanup(client.cancel)

	return handler, client, mockStore, mockCache
}

func expectOpenableDrawing(mockStore *storemocks.MockStore, mockCache *cachemocks.MockCache) {
	mockStore.On("GetDrawing", mock.Anything, testDrawingId).Return(models.Drawing{
		Id:          testDrawingId,
		ProjectId:   "018f3a4e-0000-7000-8000-00000000aaaa",
		Name:        "Ground floor",
		PaperSize:   canvas.PaperA4,
		Orientation: canvas.Portrait,
	}, nil)
	mockCache.On("GetCanvas", mock.Anything, testDrawingId).Return(nil, false, nil)
	mockStore.On("LoadCanvas", mock.Anything, testDrawingId).Return(nil, store.ErrItemNotFound)
}

func request(t *testing.T, h *Handler, client *Client, msgType string, data any) wsResponse {
	t.Helper()

	raw, err := json.Marshal(data)
	require.NoError(t, err)
	msgBytes, err := json.Marshal(message{Type: msgType, Data: raw})
	require.NoError(t, err)

	h.HandleWsMessage(client, 1, msgBytes)
	return nextResponse(t, client)
}

func nextResponse(t *testing.T, client *Client) wsResponse {
	t.Helper()

	select {
	case respBytes := <-client.Send:
		var resp wsResponse
		require.NoError(t, json.Unmarshal(respBytes, &resp))
		return resp
	case <-time.After(time.Second):
		require.Fail(t, "timed out waiting for a response")
		return wsResponse{}
	}
}

func validStrokeJSON() map[string]any {
	return map[string]any{
		"points": [][2]float64{{10, 10}, {20, 25}},
		"color":  "#1a2b3c",
		"width":  3,
	}
}

func TestHandleWsMessage_EditAndSaveCycle(t *testing.T) {
	h, client, mockStore, mockCache := setupHandler(t)
	expectOpenableDrawing(mockStore, mockCache)

	resp := request(t, h, client, "open", openMessage{DrawingId: testDrawingId})
	assert.Equal(t, "open_response", resp.Type)
	assert.Equal(t, true, resp.Data["success"])
	assert.Equal(t, false, resp.Data["dirty"])
	assert.Equal(t, "a4", resp.Data["paperSize"])
	require.Len(t, h.Hub.AttachCh, 1)
	assert.Equal(t, attachment{client: client, drawingId: testDrawingId}, <-h.Hub.AttachCh)

	resp = request(t, h, client, "append_stroke", map[string]any{"stroke": validStrokeJSON()})
	assert.Equal(t, "append_stroke_response", resp.Type)
	assert.Equal(t, true, resp.Data["success"])
	assert.Equal(t, true, resp.Data["dirty"])
	assert.Equal(t, float64(1), resp.Data["strokeCount"])

	resp = request(t, h, client, "state", nil)
	assert.Equal(t, "state_response", resp.Type)
	assert.Equal(t, "dirty", resp.Data["state"])
	assert.Equal(t, true, resp.Data["dirty"])

	var saved []byte
	mockStore.On("SaveCanvas", mock.Anything, testDrawingId, mock.Anything).
		Run(func(args mock.Arguments) { saved = args.Get(2).([]byte) }).
		Return(nil)
	mockCache.On("SetCanvas", mock.Anything, testDrawingId, mock.Anything).Return(nil)

	resp = request(t, h, client, "save", nil)
	assert.Equal(t, "save_response", resp.Type)
	assert.Equal(t, true, resp.Data["success"])
	assert.Equal(t, false, resp.Data["dirty"])

	doc, err := canvas.Deserialize(saved)
	require.NoError(t, err)
	assert.Len(t, doc.Strokes, 1)
}

func TestHandleWsMessage_RequiresOpenDrawing(t *testing.T) {
	h, client, _, _ := setupHandler(t)

	for _, msgType := range []string{"append_stroke", "clear", "save", "close"} {
		data := any(nil)
		if msgType == "append_stroke" {
			data = map[string]any{"stroke": validStrokeJSON()}
		}
		resp := request(t, h, client, msgType, data)
		assert.Equal(t, msgType+"_response", resp.Type)
		assert.Equal(t, false, resp.Data["success"], msgType)
		assert.Equal(t, errNoSession.Error(), resp.Data["error"], msgType)
		assert.Equal(t, false, resp.Data["dirty"], msgType)
	}

	resp := request(t, h, client, "state", nil)
	assert.Equal(t, false, resp.Data["open"])
}

func TestHandleWsMessage_RejectedStrokeKeepsSessionClean(t *testing.T) {
	h, client, mockStore, mockCache := setupHandler(t)
	expectOpenableDrawing(mockStore, mockCache)
	request(t, h, client, "open", openMessage{DrawingId: testDrawingId})

	stroke := validStrokeJSON()
	stroke["color"] = "red"
	resp := request(t, h, client, "append_stroke", map[string]any{"stroke": stroke})
	assert.Equal(t, false, resp.Data["success"])
	assert.Equal(t, false, resp.Data["dirty"])

	resp = request(t, h, client, "append_stroke", map[string]any{"stroke": map[string]any{"color": "#000000"}})
	assert.Equal(t, false, resp.Data["success"])
	assert.Equal(t, false, resp.Data["dirty"])
}

func TestHandleWsMessage_FailedSaveStaysDirty(t *testing.T) {
	h, client, mockStore, mockCache := setupHandler(t)
	expectOpenableDrawing(mockStore, mockCache)
	request(t, h, client, "open", openMessage{DrawingId: testDrawingId})
	request(t, h, client, "clear", nil)

	mockStore.On("SaveCanvas", mock.Anything, testDrawingId, mock.Anything).Return(errors.New("throttled"))

	resp := request(t, h, client, "save", nil)
	assert.Equal(t, false, resp.Data["success"])
	assert.Equal(t, true, resp.Data["dirty"])
	assert.Equal(t, testDrawingId, resp.Data["drawingId"])
}

func TestHandleWsMessage_OpenUnknownDrawing(t *testing.T) {
	h, client, mockStore, _ := setupHandler(t)
	mockStore.On("GetDrawing", mock.Anything, testDrawingId).Return(models.Drawing{}, store.ErrItemNotFound)

	resp := request(t, h, client, "open", openMessage{DrawingId: testDrawingId})
	assert.Equal(t, false, resp.Data["success"])
	assert.Contains(t, resp.Data["error"], "drawing not found")
	assert.Empty(t, h.Hub.AttachCh)
}

func TestStatePump_ClosesSessionOnHubEvent(t *testing.T) {
	h, client, mockStore, mockCache := setupHandler(t)
	expectOpenableDrawing(mockStore, mockCache)
	request(t, h, client, "open", openMessage{DrawingId: testDrawingId})
	request(t, h, client, "clear", nil)

	go client.StatePump()
	client.notifySessionClosed(testDrawingId, reasonDrawingDeleted)

	resp := nextResponse(t, client)
	assert.Equal(t, "session_closed", resp.Type)
	assert.Equal(t, testDrawingId, resp.Data["drawingId"])
	assert.Equal(t, reasonDrawingDeleted, resp.Data["reason"])
	assert.Equal(t, true, resp.Data["dirty"])

	resp = request(t, h, client, "state", nil)
	assert.Equal(t, false, resp.Data["open"])
}
