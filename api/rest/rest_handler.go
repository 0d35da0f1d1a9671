package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
	"github.com/zlnvch/surveycanvas/service"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type loginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type loginResponse struct {
	Username string `json:"username"`
	Id       string `json:"id"`
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Provider, req.Code)
	if err != nil {
		log.Printf("Login failed: %v", err)
		if errors.Is(err, service.ErrInvalidInput) {
			http.Error(w, "unsupported provider", http.StatusBadRequest)
			return
		}
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	resp := loginResponse{
		Username: user.Username,
		Id:       user.Id,
		Provider: user.Provider,
		Token:    token,
	}
	h.sendResponse(w, http.StatusOK, resp)
}

type getUserResponse struct {
	Username string `json:"username"`
	Id       string `json:"id"`
	Provider string `json:"provider"`
	Created  int64  `json:"created"`
}

func (h *Handler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	resp := getUserResponse{
		Username: user.Username,
		Id:       user.Id,
		Provider: user.Provider,
		Created:  user.Created,
	}
	h.sendResponse(w, http.StatusOK, resp)
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) HandleDeleteMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteUser(r.Context(), user); err != nil {
		h.sendError(w, err, "delete user")
		return
	}

	h.sendResponse(w, http.StatusOK, successResponse{Success: true})
}

type paperSizeResponse struct {
	PaperSize canvas.PaperSize  `json:"paperSize"`
	Portrait  canvas.Dimensions `json:"portrait"`
	Landscape canvas.Dimensions `json:"landscape"`
}

func (h *Handler) HandlePaperSizes(w http.ResponseWriter, r *http.Request) {
	resp := make([]paperSizeResponse, 0, len(canvas.PaperSizes))
	for _, size := range canvas.PaperSizes {
		portrait, err := canvas.Resolve(size, canvas.Portrait)
		if err != nil {
			h.sendError(w, err, "resolve paper size")
			return
		}
		landscape, err := canvas.Resolve(size, canvas.Landscape)
		if err != nil {
			h.sendError(w, err, "resolve paper size")
			return
		}
		resp = append(resp, paperSizeResponse{PaperSize: size, Portrait: portrait, Landscape: landscape})
	}

	h.sendResponse(w, http.StatusOK, resp)
}

type createDrawingRequest struct {
	Name        string `json:"name"`
	PaperSize   string `json:"paperSize"`
	Orientation string `json:"orientation"`
}

type drawingResponse struct {
	Id          string             `json:"id"`
	ProjectId   string             `json:"projectId"`
	Name        string             `json:"name"`
	PaperSize   canvas.PaperSize   `json:"paperSize"`
	Orientation canvas.Orientation `json:"orientation"`
	Width       int                `json:"width"`
	Height      int                `json:"height"`
	CreatedBy   string             `json:"createdBy"`
	Created     int64              `json:"created"`
	Updated     int64              `json:"updated"`
}

func toDrawingResponse(d models.Drawing) drawingResponse {
	resp := drawingResponse{
		Id:          d.Id,
		ProjectId:   d.ProjectId,
		Name:        d.Name,
		PaperSize:   d.PaperSize,
		Orientation: d.Orientation,
		CreatedBy:   d.CreatedBy,
		Created:     d.Created,
		Updated:     d.Updated,
	}
	if dims, err := d.Format().Resolve(); err == nil {
		resp.Width = dims.Width
		resp.Height = dims.Height
	}
	return resp
}

func (h *Handler) HandleCreateDrawing(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req createDrawingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	drawing, err := h.Service.CreateDrawing(r.Context(), service.CreateDrawingParams{
		User:        user,
		ProjectId:   r.PathValue("projectId"),
		Name:        req.Name,
		PaperSize:   req.PaperSize,
		Orientation: req.Orientation,
	})
	if err != nil {
		h.sendError(w, err, "create drawing")
		return
	}

	h.sendResponse(w, http.StatusCreated, toDrawingResponse(drawing))
}

func (h *Handler) HandleListDrawings(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	drawings, err := h.Service.ListDrawings(r.Context(), r.PathValue("projectId"))
	if err != nil {
		h.sendError(w, err, "list drawings")
		return
	}

	resp := make([]drawingResponse, 0, len(drawings))
	for _, d := range drawings {
		resp = append(resp, toDrawingResponse(d))
	}
	h.sendResponse(w, http.StatusOK, resp)
}

func (h *Handler) HandleDeleteProject(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteProject(r.Context(), user, r.PathValue("projectId")); err != nil {
		h.sendError(w, err, "delete project")
		return
	}

	// drawings go away once the queued job has run
	h.sendResponse(w, http.StatusAccepted, successResponse{Success: true})
}

type activityResponse struct {
	ProjectId string `json:"projectId"`
	LastSaved int64  `json:"lastSaved"`
	SaveCount int    `json:"saveCount"`
}

func (h *Handler) HandleProjectActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	activity, err := h.Service.GetProjectActivity(r.Context(), r.PathValue("projectId"))
	if err != nil {
		h.sendError(w, err, "get project activity")
		return
	}

	h.sendResponse(w, http.StatusOK, activityResponse{
		ProjectId: activity.ProjectId,
		LastSaved: activity.LastSaved,
		SaveCount: activity.SaveCount,
	})
}

func (h *Handler) HandleGetDrawing(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	drawing, err := h.Service.GetDrawing(r.Context(), r.PathValue("drawingId"))
	if err != nil {
		h.sendError(w, err, "get drawing")
		return
	}

	h.sendResponse(w, http.StatusOK, toDrawingResponse(drawing))
}

func (h *Handler) HandleDeleteDrawing(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	if err := h.Service.DeleteDrawing(r.Context(), r.PathValue("drawingId")); err != nil {
		h.sendError(w, err, "delete drawing")
		return
	}

	h.sendResponse(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) HandleGetCanvas(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	doc, err := h.Service.LoadCanvas(r.Context(), r.PathValue("drawingId"))
	if err != nil {
		h.sendError(w, err, "load canvas")
		return
	}

	h.sendDocument(w, doc)
}

func (h *Handler) HandlePutCanvas(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, service.MaxCanvasBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "canvas too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	doc, err := h.Service.SaveCanvas(r.Context(), r.PathValue("drawingId"), body)
	if err != nil {
		h.sendError(w, err, "save canvas")
		return
	}

	h.sendDocument(w, doc)
}

type changeFormatRequest struct {
	PaperSize   string `json:"paperSize"`
	Orientation string `json:"orientation"`
}

func (h *Handler) HandleChangeFormat(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	var req changeFormatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	drawing, err := h.Service.ChangePaperFormat(r.Context(), service.ChangePaperFormatParams{
		DrawingId:   r.PathValue("drawingId"),
		PaperSize:   req.PaperSize,
		Orientation: req.Orientation,
	})
	if err != nil {
		h.sendError(w, err, "change paper format")
		return
	}

	h.sendResponse(w, http.StatusOK, toDrawingResponse(drawing))
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	user, err := h.Service.AuthenticateToken(r.Context(), h.getTokenFromAuthHeader(r))
	if err != nil {
		if !errors.Is(err, service.ErrUnauthorized) {
			log.Error().Err(err).Msg("authentication lookup failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return models.User{}, false
		}
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return models.User{}, false
	}
	return user, true
}

// statusFor maps service and canvas errors to HTTP status codes. Anything
// unrecognised is a server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrDrawingNotFound):
		return http.StatusNotFound
	case errors.Is(err, canvas.ErrUnsupportedVersion):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, canvas.ErrInvalidStroke),
		errors.Is(err, canvas.ErrMalformedDocument),
		errors.Is(err, canvas.ErrUnsupportedPaperSize),
		errors.Is(err, canvas.ErrUnsupportedOrientation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) sendError(w http.ResponseWriter, err error, action string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("action", action).Msg("request failed")
		h.sendResponse(w, status, errorResponse{Error: action + " failed"})
		return
	}
	h.sendResponse(w, status, errorResponse{Error: err.Error()})
}

// sendDocument writes the canonical serialized form of doc.
func (h *Handler) sendDocument(w http.ResponseWriter, doc canvas.Document) {
	data, err := canvas.Serialize(doc)
	if err != nil {
		h.sendError(w, err, "serialize canvas")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) sendResponse(w http.ResponseWriter, status int, resp any) {
	body, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}
