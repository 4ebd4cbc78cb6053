package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"drover/internal/async"
)

const (
	wsPingInterval = 30 * time.Second
	wsWriteWait    = 5 * time.Second
)

// handleWebSocket streams run events to the client. ?run_id= narrows
// the stream to one run; ?replay=true sends the retained history first
// so late dashboards catch up.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	runID := c.Query("run_id")
	events, cancel := s.events.Subscribe(64)
	defer cancel()

	if c.Query("replay") == "true" {
		for _, event := range s.events.History(runID) {
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}

	// The read pump exists to notice the client going away.
	closed := make(chan struct{})
	async.Go(s.logger, "ws-read-pump", func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(wsWriteWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if runID != "" && event.RunID != runID {
				continue
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
