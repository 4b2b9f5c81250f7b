package bridge

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Ping/pong timings mirror orchestrator/streaming/client.go's read/write
// pump pair, reused here for the UE bridge's per-client connection.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// readPump decodes each incoming text frame as a BridgeEvent and hands it to
// onEvent. Close frames and read errors terminate the pump; the caller is
// responsible for deregistering the client once readPump returns.
func (s *Server) readPump(c *UEClient, onEvent func(BridgeEvent)) {
	defer c.closeSend()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warn("ue client read error", zap.String("session_id", c.SessionID), zap.Error(err))
			}
			return
		}

		var event BridgeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.log.Warn("malformed bridge event", zap.String("session_id", c.SessionID), zap.Error(err))
			continue
		}
		onEvent(event)
	}
}

// writePump drains the client's bounded outbound queue, sending a ping on
// idle periods. Returns when the queue is closed or a write fails.
func (s *Server) writePump(c *UEClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
