package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"agentdesk/internal/logger"
	"agentdesk/internal/pipeline"
)

// evolutionWebhook runs one gateway callback through the reply pipeline.
func (h *Handler) evolutionWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	evt, err := pipeline.ParseEvent(body)
	if err != nil {
		logger.From(ctx, h.Logger).ErrorContext(ctx, "webhook payload rejected", "category", "api", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !h.limiter.Allow(h.limiterKey(ctx, evt.Instance)) {
		logger.From(ctx, h.Logger).WarnContext(ctx, "webhook rate limited", "category", "api", "instance", evt.Instance)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
		return
	}
	ack := h.Pipeline.Process(ctx, evt)
	c.JSON(ack.Status, ack.Body)
}

// unknownInstanceKey is the bucket shared by instances without a connection.
const unknownInstanceKey = ""

// limiterKey maps an instance to its bucket so the limiter only tracks
// instances that own a connection.
func (h *Handler) limiterKey(ctx context.Context, instance string) string {
	if !h.limiter.Enabled() || h.Agents == nil {
		return instance
	}
	if _, err := h.Agents.ConnectionByInstance(ctx, instance); err != nil {
		return unknownInstanceKey
	}
	return instance
}
