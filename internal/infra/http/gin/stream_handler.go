package ginserver

import (
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"marketchat/internal/infra/bus"
)

const (
	writeWait      = 10 * time.Second
	defaultPing    = 25 * time.Second
	maxFrameLength = 512
)

// StreamHandler pushes change hints to connected clients over a websocket.
// Frames carry no message content; a client that receives one refetches the
// affected conversation through the regular queries.
type StreamHandler struct {
	Hub          *bus.Hub
	PingInterval time.Duration
	Logger       *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (h StreamHandler) Stream(c *gin.Context) {
	p, ok := requirePrincipal(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "error", err, "user_id", p.ID)
		}
		return
	}
	sub := h.Hub.Subscribe(p.ID)
	defer sub.Close()
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(maxFrameLength)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := h.PingInterval
	if ping <= 0 {
		ping = defaultPing
	}
	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case event, open := <-sub.C:
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
