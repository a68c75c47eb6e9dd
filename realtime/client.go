package realtime

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 32
)

// Client is one live websocket connection bound to an authenticated user.
// A client belongs to at most one session group at a time.
type Client struct {
	ID     string
	UserID string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// sessionID is the group this connection currently belongs to, guarded
	// by hub.mu.
	sessionID string
}

// readPump reads frames until the connection drops, routing each one through
// the hub. The deferred unregister drives the disconnect status path.
func (c *Client) readPump() {
	defer c.hub.unregister(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Println("WebSocket read error:", err)
			return
		}
		c.hub.route(c, data)
	}
}

// writePump drains the send channel into the socket. Every client writes on
// its own goroutine, so one slow or dead connection never stalls delivery to
// the rest of a group.
func (c *Client) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Println("WebSocket write error:", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
