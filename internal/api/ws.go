package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The host binds to operator-controlled interfaces; origin checks
		// belong to the deployment's proxy.
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pingPeriod = 54 * time.Second
)

// handleTelemetry streams output samples over a websocket. The optional
// ?instance=N query narrows the stream to one instance; 0 or absent means
// every instance.
func (s *Server) handleTelemetry(c *gin.Context) {
	if s.telemetry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "telemetry stream not enabled"})
		return
	}

	instanceID := uint64(0)
	if raw := c.Query("instance"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid instance id"})
			return
		}
		instanceID = id
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	samples := s.telemetry.Subscribe(instanceID)
	defer s.telemetry.Unsubscribe(samples)

	// Drain the read side so close frames and ping replies are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return

		case sample, ok := <-samples:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(sample); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
