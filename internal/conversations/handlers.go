package conversations

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
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	ConversationByID(ctx context.Context, id string) (model.Conversation, error)
	FindPrivate(ctx context.Context, a, b string) (string, error)
	CreateConversation(ctx context.Context, name string, isGroup bool, avatar *string, adminID string, members []string) (string, error)
	User(ctx context.Context, id string) (model.Participant, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	IsAdmin(ctx context.Context, conversationID, userID string) (bool, error)
	AddParticipant(ctx context.Context, conversationID, userID string, admin bool) error
	LeaveConversation(ctx context.Context, conversationID, userID string) error
}

type Service struct {
	Store  Store
	Logger *slog.Logger
}

type privateReq struct {
	OtherUserID string `json:"other_user_id" binding:"required"`
}

type groupReq struct {
	Name      string   `json:"name" binding:"required,max=100"`
	MemberIDs []string `json:"member_ids" binding:"required,min=1,dive,required"`
	Avatar    *string  `json:"avatar"`
}

type addReq struct {
	UserID string `json:"user_id" binding:"required"`
}

func Register(rg gin.IRoutes, store Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s := Service{
		Store:  store,
		Logger: logger.With("component", "conversations"),
	}
	rg.GET("/conversations", s.listMine)
	rg.GET("/conversations/:id", s.get)
	rg.POST("/conversations/private", s.createOrGetPrivate)
	rg.POST("/conversations/group", s.createGroup)
	rg.POST("/conversations/:id/participants", s.addParticipant)
	rg.DELETE("/conversations/:id", s.leave)
}

// listMine returns the caller's conversation-list snapshot.
func (s Service) listMine(c *gin.Context) {
	uid := auth.MustUserID(c)
	list, err := s.Store.ListConversations(c.Request.Context(), uid)
	if err != nil {
		s.Logger.Error("listing conversations", "user_id", uid, "error", err)
		httpx.Err(c, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}
	httpx.OK(c, list)
}

func (s Service) get(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid := c.Param("id")
	ok, err := s.Store.IsMember(c.Request.Context(), cid, uid)
	if err != nil {
		httpx.Err(c, http.StatusInternalServerError, "db error")
		return
	}
	if !ok {
		httpx.Err(c, http.StatusNotFound, "conversation not found")
		return
	}
	conv, err := s.Store.ConversationByID(c.Request.Context(), cid)
	if err != nil {
		httpx.Err(c, http.StatusNotFound, "conversation not found")
		return
	}
	httpx.OK(c, conv)
}

func (s Service) createOrGetPrivate(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req privateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	if req.OtherUserID == uid {
		httpx.Err(c, http.StatusBadRequest, "cannot start a conversation with yourself")
		return
	}
	ctx := c.Request.Context()

	if id, err := s.Store.FindPrivate(ctx, uid, req.OtherUserID); err == nil {
		httpx.OK(c, gin.H{"conversation_id": id, "is_group": false})
		return
	}
	if _, err := s.Store.User(ctx, req.OtherUserID); err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid user id")
		return
	}

	id, err := s.Store.CreateConversation(ctx, "", false, nil, "", []string{uid, req.OtherUserID})
	if err != nil {
		s.Logger.Error("creating private conversation", "error", err)
		httpx.Err(c, http.StatusInternalServerError, "create conversation failed")
		return
	}
	httpx.Created(c, gin.H{"conversation_id": id, "is_group": false})
}

func (s Service) createGroup(c *gin.Context) {
	uid := auth.MustUserID(c)
	var req groupReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	ctx := c.Request.Context()
	for _, mid := range req.MemberIDs {
		if _, err := s.Store.User(ctx, mid); err != nil {
			httpx.Err(c, http.StatusBadRequest, "invalid user id: "+mid)
			return
		}
	}

	cid, err := s.Store.CreateConversation(ctx, req.Name, true, req.Avatar, uid, req.MemberIDs)
	if err != nil {
		s.Logger.Error("creating group", "error", err)
		httpx.Err(c, http.StatusInternalServerError, "create group failed")
		return
	}
	httpx.Created(c, gin.H{"conversation_id": cid, "is_group": true})
}

func (s Service) addParticipant(c *gin.Context) {
	uid := auth.MustUserID(c)
	cid := c.Param("id")
	ctx := c.Request.Context()

	//ensure uid is admin
	if admin, err := s.Store.IsAdmin(ctx, cid, uid); err != nil || !admin {
		httpx.Err(c, http.StatusForbidden, "only admin can add participants")
		return
	}

	var req addReq
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.BindErr(c, err)
		return
	}
	if _, err := s.Store.User(ctx, req.UserID); err != nil {
		httpx.Err(c, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := s.Store.AddParticipant(ctx, cid, req.UserID, false); err != nil {
		httpx.Err(c, http.StatusBadRequest, "add failed")
		return
	}
	httpx.OK(c, gin.H{"ok": true})
}

// leave deletes the conversation for the caller only.
func (s Service) leave(c *gin.Context) {
	uid := auth.MustUserID(c)
	err := s.Store.LeaveConversation(c.Request.Context(), c.Param("id"), uid)
	switch {
	case errors.Is(err, storage.ErrNotMember):
		httpx.Err(c, http.StatusNotFound, "conversation not found")
	case err != nil:
		httpx.Err(c, http.StatusInternalServerError, "delete failed")
	default:
		httpx.OK(c, gin.H{"ok": true})
	}
}
