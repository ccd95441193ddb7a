package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// outFrame is the wire format for outbound prompts.
type outFrame struct {
	MessageID string   `json:"message_id"`
	UserID    string   `json:"user_id"`
	Text      string   `json:"text"`
	Buttons   []Button `json:"buttons,omitempty"`
}

// Gateway is a websocket chat transport. A single upgraded connection
// carries JSON frames for many users; inbound frames decode to Events and
// are handed to the Handler one goroutine per event, outbound prompts are
// serialized through a per-connection write pump.
type Gateway struct {
	handler  Handler
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

type conn struct {
	ws   *websocket.Conn
	send chan outFrame
}

// NewGateway creates a websocket gateway dispatching to handler.
func NewGateway(handler Handler, logger *slog.Logger) *Gateway {
	return &Gateway{
		handler: handler,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The host application fronts this endpoint; origin policy
			// is enforced there.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: map[*conn]struct{}{},
	}
}

// ServeHTTP upgrades the request and runs the read/write pumps until the
// peer disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &conn{ws: ws, send: make(chan outFrame, 64)}
	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()
	g.logger.Info("chat connection opened", "remote", r.RemoteAddr)

	go g.writePump(c)
	g.readPump(r.Context(), c)

	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
	close(c.send)
	g.logger.Info("chat connection closed", "remote", r.RemoteAddr)
}

func (g *Gateway) readPump(ctx context.Context, c *conn) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			g.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if ev.UserID == "" || ev.Kind == "" {
			g.logger.Warn("dropping frame without user_id/kind")
			continue
		}

		// One goroutine per event: no event handling may block the stream.
		go g.handler.HandleEvent(context.WithoutCancel(ctx), ev)
	}
}

func (g *Gateway) writePump(c *conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(frame); err != nil {
				g.logger.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendPrompt broadcasts the prompt frame to every connection; the client
// side routes it to the addressed user. Returns an error if no connection
// is attached or all send buffers are full.
func (g *Gateway) SendPrompt(ctx context.Context, userID, text string, buttons []Button) (MessageRef, error) {
	frame := outFrame{
		MessageID: uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Buttons:   buttons,
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.conns) == 0 {
		return MessageRef{}, fmt.Errorf("send prompt: no chat connection")
	}

	delivered := 0
	for c := range g.conns {
		select {
		case c.send <- frame:
			delivered++
		default:
			g.logger.Warn("dropping prompt, send buffer full", "user_id", userID)
		}
	}
	if delivered == 0 {
		return MessageRef{}, fmt.Errorf("send prompt: all send buffers full")
	}
	return MessageRef{ID: frame.MessageID}, nil
}
