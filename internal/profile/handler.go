package profile

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
	User(ctx context.Context, id string) (model.Participant, error)
}

// Service tells a client who its token belongs to, which is all it needs
// to derive its room key.
type Service struct {
	Store  Store
	Logger *slog.Logger
}

func Register(rg gin.IRoutes, store Store, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s := Service{
		Store:  store,
		Logger: logger.With("component", "profile"),
	}
	rg.GET("/me", s.getMe)
}

func (s Service) getMe(c *gin.Context) {
	uid := auth.MustUserID(c)
	if uid == "" {
		httpx.Err(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := s.Store.User(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httpx.Err(c, http.StatusNotFound, "user not found")
		} else {
			s.Logger.Error("loading user", "user_id", uid, "error", err)
			httpx.Err(c, http.StatusInternalServerError, "database error")
		}
		return
	}
	httpx.OK(c, u)
}
