// Package server assembles the HTTP surface: the event-stream endpoint and
// the authenticated JSON API.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ageniuscoder/mmchat/convsync/internal/auth"
	"github.com/ageniuscoder/mmchat/convsync/internal/chat"
	"github.com/ageniuscoder/mmchat/convsync/internal/conversations"
	"github.com/ageniuscoder/mmchat/convsync/internal/messages"
	"github.com/ageniuscoder/mmchat/convsync/internal/profile"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
)

type Deps struct {
	Store     *storage.Store
	Hub       *chat.Hub
	JWTSecret string
	Logger    *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		if err := d.Store.DB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	chat.RegisterWS(r, d.Hub, d.JWTSecret)

	api := r.Group("/api", auth.JWTMiddleware(d.JWTSecret))
	conversations.Register(api, d.Store, d.Logger)
	messages.Register(api, d.Store, d.Logger)
	profile.Register(api, d.Store, d.Logger)
	return r
}
