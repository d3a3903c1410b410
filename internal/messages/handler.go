package messages

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ageniuscoder/mmchat/convsync/internal/auth"
	"github.com/ageniuscoder/mmchat/convsync/internal/httpx"
	"github.com/ageniuscoder/mmchat/convsync/internal/model"
	"github.com/ageniuscoder/mmchat/convsync/internal/storage"
)

type Store interface {
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	InsertMessage(ctx context.Context, conversationID, senderID, content string) (model.InsertedMessage, error)
	Messages(ctx context.Context, conversationID string, limit, offset int) ([]model.InsertedMessage, error)
	MarkRead(ctx context.Context, conversationID, userID string) error
}

// Service stores messages. Pushes to other participants are driven by the
// store's change feed, not by this handler.
type Service struct {
	Store  Store
	Logger *slog.Logger
}

type sendReq struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	Content        string `json:"content" binding:"required,max=4000"`
}

type pageReq struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func Register(rg gin.IRoutes, store Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s := Service{
		Store:  store,
		Logger: logger.With("component", "messages"),
	}
	rg.POST("/messages", s.send)
	rg.GET("/conversations/:id/messages", s.list)
	rg.POST("/conversations/:id/read", s.markRead)
}

func (s Service) send(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	ctx := c.Request.Context()

	// authorize participant
	if ok, err := s.Store.IsMember(ctx, req.ConversationID, uid); err != nil || !ok {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}

	msg, err := s.Store.InsertMessage(ctx, req.ConversationID, uid, req.Content)
	if err != nil {
		s.Logger.Error("insert failed", "conversation_id", req.ConversationID, "error", err)
		httpx.Err(c, http.StatusInternalServerError, "insert failed")
		return
	}
	httpx.Created(c, msg)
}

func (s Service) list(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid := c.Param("id")
	ctx := c.Request.Context()

	if ok, err := s.Store.IsMember(ctx, cid, uid); err != nil || !ok {
		httpx.Err(c, http.StatusForbidden, "not a participant")
		return
	}

	var q pageReq
	if err := c.ShouldBindQuery(&q); err != nil {
		httpx.Err(c, http.StatusBadRequest, err.Error())
		return
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	list, err := s.Store.Messages(ctx, cid, q.Limit, q.Offset)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	httpx.OK(c, gin.H{"messages": list})
}

func (s Service) markRead(c *gin.Context) {
	uid := auth.MustUserID(c)
	err := s.Store.MarkRead(c.Request.Context(), c.Param("id"), uid)
	switch {
	case errors.Is(err, storage.ErrNotMember):
		httpx.Err(c, http.StatusForbidden, "not a participant")
	case err != nil:
		httpx.Err(c, http.StatusInternalServerError, "db error")
	default:
		httpx.OK(c, gin.H{"ok": true})
	}
}
