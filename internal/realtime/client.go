package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"codebattle/internal/events"
)

// client is one websocket connection. Room membership is not stored here;
// the hub keeps it in its session map.
type client struct {
	id     uuid.UUID
	userID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub

	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// reply queues a message for this connection only.
func (c *client) reply(msg events.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.hub.logger.Error("failed to encode event", "type", msg.Type, "error", err)
		return
	}
	c.hub.deliver(c, data)
}

// readPump decodes client events until the connection fails.
func (c *client) readPump() {
	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket closed unexpectedly", "conn_id", c.id, "user_id", c.userID, "error", err)
			}
			return
		}

		var env events.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.reply(events.New(events.Error, "", events.ErrorPayload{Message: "malformed message"}))
			continue
		}
		c.hub.handle(c, env)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
