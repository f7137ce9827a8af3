package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-relay/internal/ai"
	"github.com/suPer8Hu/ai-relay/internal/common"
	"github.com/suPer8Hu/ai-relay/internal/history"
	"github.com/suPer8Hu/ai-relay/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-relay/internal/relay"
)

type chatReq struct {
	Message            string          `json:"message"`
	History            json.RawMessage `json:"history"`
	SessionKey         string          `json:"session_key"`
	UsedTokens         int             `json:"used_tokens"`
	ProviderPreference string          `json:"provider_preference"`
	UserID             string          `json:"user_id"`
	ContextType        string          `json:"context_type"`
	ProductID          string          `json:"product_id"`
	NewConversation    bool            `json:"new_conversation"`
	Context            map[string]any  `json:"context"`
}

type chatResp struct {
	Response         string           `json:"response"`
	UsedTokens       int              `json:"used_tokens"`
	SessionKey       string           `json:"session_key"`
	TruncatedHistory *history.History `json:"truncated_history,omitempty"`
	BudgetExceeded   bool             `json:"budget_exceeded,omitempty"`
	Provider         string           `json:"provider"`
	Model            string           `json:"model"`
}

func (h *Handler) Chatbot(c *gin.Context) {
	var req chatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.UsedTokens < 0 {
		common.Fail(c, http.StatusBadRequest, 10003, "used_tokens must not be negative")
		return
	}

	res, err := h.Relay.HandleRequest(c.Request.Context(), relay.Request{
		Message:            req.Message,
		History:            parseHistory(c, req.History),
		SessionKey:         req.SessionKey,
		UsedTokens:         req.UsedTokens,
		ProviderPreference: req.ProviderPreference,
		UserID:             req.UserID,
		ContextType:        req.ContextType,
		ProductID:          req.ProductID,
		NewConversation:    req.NewConversation,
		Context:            req.Context,
	})
	if err != nil {
		h.chatError(c, err)
		return
	}

	common.OK(c, chatResp{
		Response:         res.Response,
		UsedTokens:       res.UsedTokens,
		SessionKey:       res.SessionKey,
		TruncatedHistory: res.TruncatedHistory,
		BudgetExceeded:   res.BudgetExceeded,
		Provider:         res.Provider,
		Model:            res.Model,
	})
}

// parseHistory reads the client's history leniently: a missing or malformed
// value means no history rather than a rejected request.
func parseHistory(c *gin.Context, raw json.RawMessage) *history.History {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var hist history.History
	if err := json.Unmarshal(raw, &hist); err != nil {
		log.Printf("[Chatbot] WARN ignoring malformed history request_id=%s err=%v", c.GetString(middleware.RequestIDKey), err)
		return nil
	}
	return &hist
}

func (h *Handler) chatError(c *gin.Context, err error) {
	rid := c.GetString(middleware.RequestIDKey)
	var exhausted *ai.ExhaustedError
	switch {
	case errors.Is(err, relay.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10002, "message is required")
	case errors.Is(err, relay.ErrConfiguration):
		log.Printf("[Chatbot] configuration error request_id=%s err=%v", rid, err)
		common.Fail(c, http.StatusInternalServerError, 50010, "relay is misconfigured")
	case errors.As(err, &exhausted):
		log.Printf("[Chatbot] providers exhausted request_id=%s err=%v", rid, err)
		common.Fail(c, http.StatusBadGateway, 50201, "all ai providers failed")
	case c.Request.Context().Err() != nil:
		// client went away; nobody reads this
		c.Abort()
	default:
		log.Printf("[Chatbot] failed request_id=%s err=%v", rid, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
