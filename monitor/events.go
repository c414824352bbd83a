package monitor

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// handleEvents streams every published event as a JSON text frame until the
// client disconnects or the broker closes.
func (s *Server) handleEvents(c *gin.Context) {
	if s.opts.Broker == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event stream not configured", Code: "NO_EVENT_STREAM"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	events, cancel := s.opts.Broker.Subscribe(c.Request.Context())
	defer cancel()
	s.logger.Debug("event subscriber connected", "remote", c.ClientIP())

	// The read loop only exists to notice disconnects and answer pings.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		ws.SetReadLimit(512)
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-gone:
			return
		case e, ok := <-events:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"))
				return
			}
			if err := ws.WriteJSON(e); err != nil {
				s.logger.Debug("event subscriber write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
