package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/zlnvch/surveycanvas/api/rest"
	"github.com/zlnvch/surveycanvas/api/ws"
	"github.com/zlnvch/surveycanvas/cache"
	"github.com/zlnvch/surveycanvas/mq"
	"github.com/zlnvch/surveycanvas/service"
	"github.com/zlnvch/surveycanvas/store"
	"github.com/zlnvch/surveycanvas/worker"
)

// Project activity is written at most once a minute per project.
const activityFlushMilliseconds = 60000

type SurveyAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	wsUpgrader  websocket.Upgrader
	shutdownCtx context.Context
	workers     sync.WaitGroup
}

func NewSurveyAPI(
	surveyStore store.SurveyStore,
	deleteProjectQueue mq.MessageQueue,
	surveyCache cache.SurveyCache,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	shutdownCtx context.Context,
) (*SurveyAPI, error) {
	wsHub := ws.NewHub(surveyCache)
	err := wsHub.InitSubscriptions(shutdownCtx)
	if err != nil {
		log.Printf("Failed to start WS Hub subscriptions service: %v", err)
		return nil, err
	}

	svc, err := service.NewService(
		surveyStore,
		surveyCache,
		deleteProjectQueue,
		worker.NewActivityBatcher(surveyStore, activityFlushMilliseconds),
		oauthConfigs,
		jwtSecret,
	)
	if err != nil {
		log.Printf("Failed to create service: %v", err)
		return nil, err
	}

	surveyAPI := &SurveyAPI{
		restHandler: rest.NewHandler(svc),
		wsHandler:   ws.NewHandler(svc, wsHub),
		shutdownCtx: shutdownCtx,
	}

	go wsHub.Run(shutdownCtx)

	mqConsumer := worker.NewMQConsumer(deleteProjectQueue, surveyStore, surveyCache)
	surveyAPI.workers.Add(2)
	go func() {
		defer surveyAPI.workers.Done()
		svc.ActivityBatcher.Run(shutdownCtx)
	}()
	go func() {
		defer surveyAPI.workers.Done()
		mqConsumer.Run(shutdownCtx)
	}()

	return surveyAPI, nil
}

// Wait blocks until the background workers have finished their final flush
// after shutdown.
func (surveyAPI *SurveyAPI) Wait() {
	surveyAPI.workers.Wait()
}

func (surveyAPI *SurveyAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	h := surveyAPI.restHandler

	// Health check endpoint (no auth required)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /login", h.HandleLogin)
	mux.HandleFunc("GET /me", h.HandleGetMe)
	mux.HandleFunc("DELETE /me", h.HandleDeleteMe)
	mux.HandleFunc("GET /paper-sizes", h.HandlePaperSizes)

	mux.HandleFunc("POST /projects/{projectId}/drawings", h.HandleCreateDrawing)
	mux.HandleFunc("GET /projects/{projectId}/drawings", h.HandleListDrawings)
	mux.HandleFunc("GET /projects/{projectId}/activity", h.HandleProjectActivity)
	mux.HandleFunc("DELETE /projects/{projectId}", h.HandleDeleteProject)

	mux.HandleFunc("GET /drawings/{drawingId}", h.HandleGetDrawing)
	mux.HandleFunc("DELETE /drawings/{drawingId}", h.HandleDeleteDrawing)
	mux.HandleFunc("GET /drawings/{drawingId}/canvas", h.HandleGetCanvas)
	mux.HandleFunc("PUT /drawings/{drawingId}/canvas", h.HandlePutCanvas)
	mux.HandleFunc("PUT /drawings/{drawingId}/format", h.HandleChangeFormat)

	surveyAPI.wsUpgrader = surveyAPI.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		surveyAPI.wsHandler.ServeWS(surveyAPI.wsUpgrader, w, r, surveyAPI.shutdownCtx)
	})
}
