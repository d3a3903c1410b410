package chat

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ageniuscoder/mmchat/convsync/internal/auth"
	"github.com/ageniuscoder/mmchat/convsync/internal/httpx"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Tokens, not cookies, authenticate the socket, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterWS mounts GET /ws. The session token comes from the
// Authorization header or the token query parameter, since browsers cannot
// set headers on a websocket handshake.
func RegisterWS(rg gin.IRoutes, hub *Hub, jwtSecret string) {
	rg.GET("/ws", func(c *gin.Context) {
		token := auth.BearerToken(c)
		if token == "" {
			httpx.Err(c, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := auth.ParseToken(jwtSecret, token)
		if err != nil {
			httpx.Err(c, http.StatusUnauthorized, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			hub.logger.Debug("websocket upgrade failed", "user_id", claims.UserID, "error", err)
			return
		}

		client := newClient(hub, conn, claims.UserID)
		if !hub.add(client) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			conn.Close()
			return
		}
		client.start()
	})
}
