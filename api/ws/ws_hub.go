package ws

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/zlnvch/surveycanvas/cache"
	"github.com/zlnvch/surveycanvas/service"
)

// Reasons reported to a client whose editing session was closed under it.
const (
	reasonDrawingDeleted  = "drawing_deleted"
	reasonFormatChanged   = "format_changed"
	reasonOpenedElsewhere = "opened_elsewhere"
)

type attachment struct {
	client    *Client
	drawingId string
}

type drawingEvent struct {
	drawingId string
	reason    string
}

// Hub maintains the set of active clients and which drawing each one is
// editing. A drawing has at most one editing client on this instance.
type Hub struct {
	surveyCache     cache.SurveyCache
	OpenCh          chan *Client
	CloseCh         chan *Client
	AttachCh        chan attachment
	DetachCh        chan attachment
	UserDeletedCh   chan string
	DrawingClosedCh chan drawingEvent
	userToClients   map[string]map[*Client]struct{}
	drawingToClient map[string]*Client
	clientToDrawing map[*Client]string
}

func NewHub(surveyCache cache.SurveyCache) *Hub {
	return &Hub{
		surveyCache:     surveyCache,
		OpenCh:          make(chan *Client, 256),
		CloseCh:         make(chan *Client, 256),
		AttachCh:        make(chan attachment, 256),
		DetachCh:        make(chan attachment, 256),
		UserDeletedCh:   make(chan string, 64),
		DrawingClosedCh: make(chan drawingEvent, 256),
		userToClients:   make(map[string]map[*Client]struct{}),
		drawingToClient: make(map[string]*Client),
		clientToDrawing: make(map[*Client]string),
	}
}

const maxConnectionsPerUser = 3

func (h *Hub) Run(shutdownCtx context.Context) {
	for {
		select {
		case client := <-h.OpenCh:
			h.open(client)

		case client := <-h.CloseCh:
			h.close(client)

		case a := <-h.AttachCh:
			h.attach(a)

		case a := <-h.DetachCh:
			if h.clientToDrawing[a.client] == a.drawingId {
				h.detach(a.client)
			}

		case userId := <-h.UserDeletedCh:
			h.userDeleted(userId)

		case event := <-h.DrawingClosedCh:
			h.drawingClosed(event)

		case <-shutdownCtx.Done():
			return
		}
	}
}

func (h *Hub) open(client *Client) {
	// the connection may have gone before the hub saw it open
	if client.isClosed() {
		return
	}

	if _, ok := h.userToClients[client.user.Id]; !ok {
		h.userToClients[client.user.Id] = make(map[*Client]struct{})
	}

	if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
		log.Printf("User %s reached max connections (%d)", client.user.Id, maxConnectionsPerUser)
		client.closeSend()
		return
	}

	h.userToClients[client.user.Id][client] = struct{}{}
}

func (h *Hub) close(client *Client) {
	h.detach(client)
	client.closeSend()
	delete(h.userToClients[client.user.Id], client)
	if len(h.userToClients[client.user.Id]) == 0 {
		delete(h.userToClients, client.user.Id)
	}
}

// attach makes client the editor of a drawing, taking it over from whoever
// had it open before.
func (h *Hub) attach(a attachment) {
	if a.client.isClosed() {
		return
	}
	h.detach(a.client)
	if previous, ok := h.drawingToClient[a.drawingId]; ok {
		delete(h.clientToDrawing, previous)
		previous.notifySessionClosed(a.drawingId, reasonOpenedElsewhere)
	}
	h.drawingToClient[a.drawingId] = a.client
	h.clientToDrawing[a.client] = a.drawingId
}

func (h *Hub) userDeleted(userId string) {
	for client := range h.userToClients[userId] {
		h.detach(client)
		client.closeSend()
	}
	delete(h.userToClients, userId)
}

func (h *Hub) drawingClosed(event drawingEvent) {
	if client, ok := h.drawingToClient[event.drawingId]; ok {
		h.detach(client)
		client.notifySessionClosed(event.drawingId, event.reason)
	}
}

func (h *Hub) detach(client *Client) {
	drawingId, ok := h.clientToDrawing[client]
	if !ok {
		return
	}
	delete(h.clientToDrawing, client)
	if h.drawingToClient[drawingId] == client {
		delete(h.drawingToClient, drawingId)
	}
}

func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.surveyCache.Subscribe(shutdownCtx, cache.UserDeletedChannel, func(message []byte) {
		var userDeletedMsg service.UserDeletedMessage
		if err := json.Unmarshal(message, &userDeletedMsg); err == nil {
			h.UserDeletedCh <- userDeletedMsg.UserId
		} else {
			log.Printf("Failed to unmarshal user-deleted message: %v", err)
		}
	})
	if err != nil {
		log.Printf("WS hub failed to subscribe to %s: %v", cache.UserDeletedChannel, err)
		return err
	}

	drawingChannels := map[string]string{
		cache.DrawingDeletedChannel:       reasonDrawingDeleted,
		cache.DrawingFormatChangedChannel: reasonFormatChanged,
	}
	for channel, reason := range drawingChannels {
		err := h.surveyCache.Subscribe(shutdownCtx, channel, func(message []byte) {
			h.DrawingClosedCh <- drawingEvent{drawingId: string(message), reason: reason}
		})
		if err != nil {
			log.Printf("WS hub failed to subscribe to %s: %v", channel, err)
			return err
		}
	}

	return nil
}
