package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-relay/internal/ai"
	"github.com/suPer8Hu/ai-relay/internal/common"
	"github.com/suPer8Hu/ai-relay/internal/history"
)

func (h *Handler) ListProviders(c *gin.Context) {
	cfgs := h.Providers.List()
	out := make([]ai.ProviderView, 0, len(cfgs))
	for _, cfg := range cfgs {
		out = append(out, cfg.View())
	}
	common.OK(c, gin.H{"providers": out})
}

func (h *Handler) UpdateProvider(c *gin.Context) {
	kind, err := ai.ParseKind(c.Param("name"))
	if err != nil {
		common.Fail(c, http.StatusNotFound, 40410, "unknown provider")
		return
	}
	var upd ai.ProviderUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	cfg, err := h.Providers.Update(kind, upd)
	if err != nil {
		switch {
		case errors.Is(err, ai.ErrUnknownProvider):
			common.Fail(c, http.StatusNotFound, 40411, "provider not configured")
		case errors.Is(err, ai.ErrInvalidConfig):
			common.Fail(c, http.StatusBadRequest, 10010, err.Error())
		default:
			log.Printf("[Admin] provider update failed name=%s err=%v", kind, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}
	common.OK(c, gin.H{"provider": cfg.View()})
}

func (h *Handler) CacheStats(c *gin.Context) {
	st := h.Cache.Stats()
	common.OK(c, gin.H{
		"cache_size":            st.Size,
		"cache_max":             st.Capacity,
		"cache_ttl":             st.TTLSeconds,
		"redis_enabled":         st.RemoteEnabled,
		"compression_threshold": h.Compressor.Threshold,
		"compression_algorithm": h.Compressor.Algorithm.String(),
	})
}

type sessionView struct {
	SessionKey  string            `json:"session_key"`
	UserID      string            `json:"user_id"`
	ContextType string            `json:"context_type"`
	ProductID   string            `json:"product_id,omitempty"`
	History     history.History   `json:"history"`
	UsedTokens  int               `json:"used_tokens"`
	Tokenizer   string            `json:"tokenizer,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (h *Handler) GetSession(c *gin.Context) {
	key := c.Param("key")
	st, found := h.Relay.Session(c.Request.Context(), key)
	if !found {
		common.Fail(c, http.StatusNotFound, 40420, "session not found")
		return
	}
	common.OK(c, sessionView{
		SessionKey:  key,
		UserID:      st.UserID,
		ContextType: st.ContextType,
		ProductID:   st.ProductID,
		History:     history.FromTurns(st.Turns),
		UsedTokens:  st.UsedTokens,
		Tokenizer:   st.Tokenizer,
		Metadata:    st.Metadata,
		CreatedAt:   time.Unix(st.CreatedUnix, 0).UTC(),
		UpdatedAt:   time.Unix(st.UpdatedUnix, 0).UTC(),
	})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	h.Relay.DeleteSession(c.Request.Context(), c.Param("key"))
	common.OK(c, gin.H{"deleted": true})
}

func (h *Handler) ListLogs(c *gin.Context) {
	if h.Logs == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50301, "message log store not configured")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	logs, err := h.Logs.List(c.Request.Context(), limit, c.Query("provider"))
	if err != nil {
		log.Printf("[Admin] list logs failed err=%v", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list logs")
		return
	}
	common.OK(c, gin.H{"logs": logs})
}
