package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/service"
)

const (
	subprotocol = "surveycanvas-v1"

	// Bounds a single store round trip made on behalf of a client.
	requestTimeout = 15 * time.Second
)

var errNoSession = errors.New("no drawing open")

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{subprotocol},
	}
}

// ServeWS handles websocket requests from the peer. The token travels as the
// second Sec-WebSocket-Protocol entry since browsers cannot set headers on
// the handshake.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.HandleWsMessage)

	h.Hub.OpenCh <- client

	// Start pumps
	go client.ReadPump()
	go client.WritePump(shutdownCtx)
	go client.StatePump()
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type openMessage struct {
	DrawingId string `json:"drawingId"`
}

type appendStrokeMessage struct {
	Stroke canvas.Stroke `json:"stroke"`
}

type responseMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "open":
		var openMsg openMessage
		if err := json.Unmarshal(msg.Data, &openMsg); err != nil {
			log.Printf("Invalid open data: %v", err)
			return
		}
		resp = h.handleOpen(client, openMsg)

	case "append_stroke":
		var appendMsg appendStrokeMessage
		if err := json.Unmarshal(msg.Data, &appendMsg); err != nil {
			resp = errorResponse(client, "append_stroke_response", err)
			break
		}
		resp = h.handleAppendStroke(client, appendMsg)

	case "clear":
		resp = h.handleClear(client)

	case "save":
		resp = h.handleSave(client)

	case "state":
		resp = h.handleState(client)

	case "close":
		resp = h.handleClose(client)

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}

	if resp.Type != "" {
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.send(respBytes)
	}
}

// errorResponse reports a failed request along with the current session
// state, so the client always knows whether it has unsaved changes.
func errorResponse(client *Client, respType string, err error) responseMessage {
	data := map[string]any{"success": false, "error": err.Error(), "dirty": false}
	client.withSession(func(session *canvas.Session) {
		if session != nil {
			data["drawingId"] = session.DrawingId()
			data["dirty"] = session.Dirty()
		}
	})
	return responseMessage{Type: respType, Data: data}
}

func (h *Handler) handleOpen(client *Client, openMsg openMessage) responseMessage {
	resp := responseMessage{
		Type: "open_response",
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	session, drawing, err := h.Service.OpenSession(ctx, openMsg.DrawingId)
	if err != nil {
		log.Printf("OpenSession failed for %s: %v", openMsg.DrawingId, err)
		return errorResponse(client, resp.Type, err)
	}

	if previous := client.setSession(session); previous != nil {
		if previous.Dirty() {
			log.Warn().Str("userId", client.user.Id).Str("drawingId", previous.DrawingId()).Msg("discarding unsaved changes")
		}
		if previous.DrawingId() != session.DrawingId() {
			h.Hub.DetachCh <- attachment{client: client, drawingId: previous.DrawingId()}
		}
	}
	h.Hub.AttachCh <- attachment{client: client, drawingId: drawing.Id}

	resp.Data = map[string]any{
		"success":     true,
		"drawingId":   drawing.Id,
		"name":        drawing.Name,
		"paperSize":   drawing.PaperSize,
		"orientation": drawing.Orientation,
		"document":    session.Document(),
		"dirty":       session.Dirty(),
	}
	return resp
}

func (h *Handler) handleAppendStroke(client *Client, appendMsg appendStrokeMessage) responseMessage {
	resp := responseMessage{
		Type: "append_stroke_response",
	}

	var err error
	client.withSession(func(session *canvas.Session) {
		if session == nil {
			err = errNoSession
			return
		}
		if err = service.ValidateStrokeContent(appendMsg.Stroke); err != nil {
			return
		}
		if err = session.Append(appendMsg.Stroke); err != nil {
			return
		}
		resp.Data = map[string]any{
			"success":     true,
			"drawingId":   session.DrawingId(),
			"strokeCount": len(session.Document().Strokes),
			"dirty":       session.Dirty(),
		}
	})
	if err != nil {
		return errorResponse(client, resp.Type, err)
	}

	return resp
}

func (h *Handler) handleClear(client *Client) responseMessage {
	resp := responseMessage{
		Type: "clear_response",
	}

	var err error
	client.withSession(func(session *canvas.Session) {
		if session == nil {
			err = errNoSession
			return
		}
		session.Clear()
		resp.Data = map[string]any{
			"success":   true,
			"drawingId": session.DrawingId(),
			"dirty":     session.Dirty(),
		}
	})
	if err != nil {
		return errorResponse(client, resp.Type, err)
	}

	return resp
}

func (h *Handler) handleSave(client *Client) responseMessage {
	resp := responseMessage{
		Type: "save_response",
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	client.withSession(func(session *canvas.Session) {
		if session == nil {
			err = errNoSession
			return
		}
		if err = session.Save(ctx); err != nil {
			log.Error().Err(err).Str("drawingId", session.DrawingId()).Msg("save failed")
			return
		}
		resp.Data = map[string]any{
			"success":   true,
			"drawingId": session.DrawingId(),
			"dirty":     session.Dirty(),
		}
	})
	if err != nil {
		return errorResponse(client, resp.Type, err)
	}

	return resp
}

func (h *Handler) handleState(client *Client) responseMessage {
	data := map[string]any{"open": false, "dirty": false}
	client.withSession(func(session *canvas.Session) {
		if session != nil {
			data["open"] = true
			data["drawingId"] = session.DrawingId()
			data["state"] = session.State().String()
			data["dirty"] = session.Dirty()
			data["strokeCount"] = len(session.Document().Strokes)
		}
	})

	return responseMessage{Type: "state_response", Data: data}
}

func (h *Handler) handleClose(client *Client) responseMessage {
	resp := responseMessage{
		Type: "close_response",
	}

	previous := client.setSession(nil)
	if previous == nil {
		return errorResponse(client, resp.Type, errNoSession)
	}
	h.Hub.DetachCh <- attachment{client: client, drawingId: previous.DrawingId()}

	// closing never saves; dirty tells the client what it just gave up
	resp.Data = map[string]any{
		"success":   true,
		"drawingId": previous.DrawingId(),
		"dirty":     previous.Dirty(),
	}
	return resp
}
