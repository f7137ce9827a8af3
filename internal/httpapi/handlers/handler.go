package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-relay/internal/ai"
	"github.com/suPer8Hu/ai-relay/internal/auth"
	"github.com/suPer8Hu/ai-relay/internal/chatlog"
	"github.com/suPer8Hu/ai-relay/internal/codec"
	"github.com/suPer8Hu/ai-relay/internal/common"
	"github.com/suPer8Hu/ai-relay/internal/relay"
	"github.com/suPer8Hu/ai-relay/internal/sessioncache"
)

type Handler struct {
	Relay      *relay.Manager
	Providers  *ai.Router
	Cache      *sessioncache.Cache
	Compressor codec.Compressor
	// Logs may be nil when logs go to the queue and no db is reachable.
	Logs *chatlog.Repo
	Auth *auth.Issuer

	AdminUser         string
	AdminPasswordHash string
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

type loginReq struct {
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Username != "" && req.Username != h.AdminUser {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}
	token, exp, err := h.Auth.Login(h.AdminUser, req.Password, h.AdminPasswordHash)
	if err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "invalid credentials")
		return
	}
	common.OK(c, gin.H{
		"token":      token,
		"expires_at": exp,
	})
}
