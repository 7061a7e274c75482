package services

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pingInterval   = 10 * time.Second // ping cadence
	pongTimeout    = 15 * time.Second // read deadline; missed pongs drop the connection
	writeTimeout   = 5 * time.Second
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades the connection and runs it until disconnect.
// The user identity was authenticated before this point; presence starts
// when the client sends its register event.
func (r *Relay) HandleWebSocket(ctx *gin.Context, userID string) {
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Upgrade already replied to the client; nothing left to write.
		r.log.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	client := NewClient(userID, conn)
	go r.writeMessages(client)
	go r.readMessages(client)
}

// readMessages is the connection's task: one inbound frame at a time, in
// order. The deferred cleanup must run even on an abrupt disconnect so no
// presence entry or call session is left dangling.
func (r *Relay) readMessages(c *Client) {
	defer func() {
		r.HandleDisconnect(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.log.Warn("unclean disconnect", zap.String("user_id", c.UserID), zap.Error(err))
			}
			return
		}
		r.HandleEvent(c, raw)
	}
}

func (r *Relay) writeMessages(c *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
