package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"agentdesk/internal/diagnostics"
	"agentdesk/internal/logger"
	"agentdesk/internal/models"
	"agentdesk/internal/reports"
	"agentdesk/internal/service/agent"
	"agentdesk/internal/service/conversation"
)

func (h *Handler) listConversations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	status := models.ConversationStatus(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": conversation.ErrInvalidStatus.Error()})
		return
	}
	list, err := h.Conversations.List(c.Request.Context(), conversation.ListFilter{
		OrganizationID: c.Param("org_id"),
		AgentID:        c.Query("agent_id"),
		Status:         status,
		Limit:          limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []models.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": list})
}

func (h *Handler) getConversation(c *gin.Context) {
	conv, msgs, err := h.Conversations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeConversationError(c, err)
		return
	}
	if !canAccess(c, conv.OrganizationID) {
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": msgs})
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateConversationStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	ctx := c.Request.Context()
	conv, _, err := h.Conversations.Get(ctx, c.Param("id"))
	if err != nil {
		writeConversationError(c, err)
		return
	}
	if !canAccess(c, conv.OrganizationID) {
		return
	}
	updated, err := h.Conversations.UpdateStatus(ctx, conv.ID, models.ConversationStatus(req.Status))
	if err != nil {
		writeConversationError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func writeConversationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, conversation.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, conversation.ErrActiveExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) usageStatus(c *gin.Context) {
	status, err := h.Usage.Status(c.Request.Context(), c.Param("org_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

type connectionRequest struct {
	InstanceName string `json:"instanceName"`
	BaseURL      string `json:"baseUrl"`
	APIKey       string `json:"apiKey"`
}

func (h *Handler) putConnection(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.InstanceName == "" || req.BaseURL == "" || req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instanceName, baseUrl and apiKey are required"})
		return
	}
	ctx := c.Request.Context()
	ag, err := h.Agents.Get(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !canAccess(c, ag.OrganizationID) {
		return
	}
	blob, err := h.Credentials.Seal(req.BaseURL, req.APIKey)
	if err != nil {
		logger.From(ctx, h.Logger).ErrorContext(ctx, "seal gateway credentials failed", "category", "auth", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encrypt credentials"})
		return
	}
	conn, err := h.Agents.UpsertConnection(ctx, models.Connection{
		AgentID:              ag.ID,
		InstanceName:         req.InstanceName,
		CredentialsEncrypted: blob,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":             conn.ID,
		"agentId":        conn.AgentID,
		"connectionType": conn.ConnectionType,
		"instanceName":   conn.InstanceName,
		"isActive":       conn.IsActive,
		"createdAt":      conn.CreatedAt,
	})
}

func (h *Handler) listReports(c *gin.Context) {
	list, err := h.Reports.List(c.Request.Context(), c.Param("org_id"), c.Query("from"), c.Query("to"))
	if err != nil {
		if errors.Is(err, reports.ErrInvalidDate) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*models.DailyReport{}
	}
	c.JSON(http.StatusOK, gin.H{"reports": list})
}

func (h *Handler) runDailyReports(c *gin.Context) {
	summary, err := h.Reports.GenerateYesterday(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) listDiagnostics(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries := h.Diagnostics.Query(diagnostics.Filter{
		Type:     c.Query("level"),
		Category: c.Query("category"),
		Limit:    limit,
	})
	if entries == nil {
		entries = []diagnostics.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": h.Diagnostics.Len()})
}

func (h *Handler) flushDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flushed": h.Diagnostics.Flush()})
}
