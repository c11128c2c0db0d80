// Agent configuration HTTP handlers.
//
//   - PUT /instances/{id}/agent  (create or replace the reply policy)
//   - GET /instances/{id}/agent  (fetch)
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rfdias/zapagent/internal/domain"
)

// AgentConfigRequest is the JSON payload for configuring the agent. Zero
// values for the numeric knobs select the persisted defaults.
type AgentConfigRequest struct {
	Active      bool    `json:"active"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens" binding:"omitempty,min=1,max=8192"`
	Temperature float64 `json:"temperature" binding:"omitempty,min=0,max=2"`

	MaxPerMinute    int `json:"max_per_minute" binding:"omitempty,min=1,max=60"`
	MaxConsecutive  int `json:"max_consecutive" binding:"omitempty,min=1,max=100"`
	CooldownMinutes int `json:"cooldown_minutes" binding:"omitempty,min=1,max=1440"`

	FallbackText string `json:"fallback_text"`
	WaitText     string `json:"wait_text"`
	SystemPrompt string `json:"system_prompt"`

	Company  string `json:"company"`
	Product  string `json:"product"`
	Goal     string `json:"goal"`
	Audience string `json:"audience"`
	Tone     string `json:"tone"`
	Locale   string `json:"locale"`
}

// SaveAgent handles PUT /instances/:id/agent.
func (h *Handlers) SaveAgent(c *gin.Context) {
	var req AgentConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	ac := &domain.AgentConfig{
		Active:          req.Active,
		Model:           strings.TrimSpace(req.Model),
		MaxTokens:       req.MaxTokens,
		Temperature:     req.Temperature,
		MaxPerMinute:    req.MaxPerMinute,
		MaxConsecutive:  req.MaxConsecutive,
		CooldownMinutes: req.CooldownMinutes,
		FallbackText:    req.FallbackText,
		WaitText:        req.WaitText,
		SystemPrompt:    req.SystemPrompt,
		Company:         req.Company,
		Product:         req.Product,
		Goal:            req.Goal,
		Audience:        req.Audience,
		Tone:            req.Tone,
		Locale:          req.Locale,
	}

	saved, err := h.svc.SaveAgent(c.Request.Context(), c.Param("id"), ac)
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, saved)
}

// GetAgent handles GET /instances/:id/agent.
func (h *Handlers) GetAgent(c *gin.Context) {
	ac, err := h.svc.GetAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		failInstance(c, err)
		return
	}
	ok(c, http.StatusOK, ac)
}
