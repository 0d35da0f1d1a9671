package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/zlnvch/surveycanvas/canvas"
	"github.com/zlnvch/surveycanvas/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. A stroke at the point limit
	// is roughly 100 KiB of JSON.
	maxMessageSize = 1024 * 256

	// Rate limiting: 20 messages per second with a burst of 30
	messagesPerSecond = 20
	burstLimit        = 30
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

func NewClient(hub *Hub, conn *websocket.Conn, user models.User, handler MessageHandler) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:           hub,
		conn:          conn,
		user:          user,
		handler:       handler,
		Send:          make(chan []byte, 128),
		sessionClosed: make(chan drawingEvent, 8),
		ctx:           ctx,
		cancel:        cancel,
		limiter:       rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// Client is a middleman between the websocket connection and the hub. It
// owns at most one editing session at a time.
type Client struct {
	hub           *Hub
	conn          *websocket.Conn
	user          models.User
	handler       MessageHandler
	Send          chan []byte // Buffered channel of outbound messages.
	sendMu        sync.Mutex
	sendClosed    bool
	sessionMu     sync.Mutex
	session       *canvas.Session
	sessionClosed chan drawingEvent
	ctx           context.Context
	cancel        context.CancelFunc
	limiter       *rate.Limiter
}

// send queues an outbound message. A client too slow to drain its buffer is
// disconnected.
func (c *Client) send(message []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return
	}
	select {
	case c.Send <- message:
	default:
		log.Warn().Str("userId", c.user.Id).Msg("ws send buffer full, closing connection")
		c.conn.Close()
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

func (c *Client) isClosed() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendClosed
}

func (c *Client) notifySessionClosed(drawingId string, reason string) {
	select {
	case c.sessionClosed <- drawingEvent{drawingId: drawingId, reason: reason}:
	default:
		log.Printf("Dropping session close for %s: client %s is not keeping up", drawingId, c.user.Id)
	}
}

// withSession runs fn with the current session, which may be nil.
func (c *Client) withSession(fn func(session *canvas.Session)) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	fn(c.session)
}

func (c *Client) setSession(session *canvas.Session) (previous *canvas.Session) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	previous, c.session = c.session, session
	return previous
}

func (c *Client) ReadPump() {
	defer func() {
		if session := c.setSession(nil); session != nil && session.Dirty() {
			log.Warn().Str("userId", c.user.Id).Str("drawingId", session.DrawingId()).Msg("connection closed with unsaved changes")
		}
		c.hub.CloseCh <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WS close error: %v", err)
			}
			break
		}

		if !c.limiter.Allow() {
			log.Printf("Closing connection for user %s: message rate limit exceeded", c.user.Id)
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.cancel()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WS send error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Websocket service shutting down"),
			)
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

type sessionClosedData struct {
	DrawingId string `json:"drawingId"`
	Reason    string `json:"reason"`
	Dirty     bool   `json:"dirty"`
}

// StatePump applies session changes pushed by the hub.
func (c *Client) StatePump() {
	for {
		select {
		case event := <-c.sessionClosed:
			dropped := false
			dirty := false
			c.withSession(func(session *canvas.Session) {
				if session != nil && session.DrawingId() == event.drawingId {
					dropped = true
					dirty = session.Dirty()
					c.session = nil
				}
			})
			if !dropped {
				continue
			}
			if dirty {
				log.Warn().Str("userId", c.user.Id).Str("drawingId", event.drawingId).Str("reason", event.reason).Msg("discarding unsaved changes")
			}

			msg := responseMessage{
				Type: "session_closed",
				Data: sessionClosedData{DrawingId: event.drawingId, Reason: event.reason, Dirty: dirty},
			}
			if msgBytes, err := json.Marshal(msg); err == nil {
				c.send(msgBytes)
			}

		case <-c.ctx.Done():
			return
		}
	}
}
