package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"agentdesk/internal/auth"
	"agentdesk/internal/credentials"
	"agentdesk/internal/diagnostics"
	"agentdesk/internal/metrics"
	"agentdesk/internal/pipeline"
	"agentdesk/internal/reports"
	"agentdesk/internal/service/agent"
	"agentdesk/internal/service/conversation"
	"agentdesk/internal/service/usage"
)

// Deps are the services behind the HTTP routes.
type Deps struct {
	Pipeline      *pipeline.Processor
	Agents        *agent.Service
	Conversations *conversation.Service
	Usage         *usage.Service
	Reports       *reports.Service
	Credentials   *credentials.Accessor
	Authorizer    *auth.Authorizer
	Diagnostics   *diagnostics.Ring
	CronSecret    string
	// RateLimit is webhook requests per second per instance; 0 disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

// Handler wires HTTP routes to the pipeline and the admin services.
type Handler struct {
	Deps
	limiter *instanceLimiter
}

// NewHandler constructs a Handler instance.
func NewHandler(deps Deps) *Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Handler{
		Deps:    deps,
		limiter: newInstanceLimiter(rate.Limit(deps.RateLimit), deps.RateBurst),
	}
}

// NewRouter builds the gin engine with the common middleware and all routes.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.CustomRecovery(recoverJSON), requestID(), metrics.Middleware(), accessLog(h.Logger))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	webhook := router.Group("/webhooks/evolution", cors())
	webhook.OPTIONS("", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	webhook.POST("", h.evolutionWebhook)

	router.POST("/jobs/daily-reports", auth.CronGuard(h.CronSecret), h.runDailyReports)

	api := router.Group("/api", h.Authorizer.Middleware())
	org := api.Group("/organizations/:org_id", auth.RequireOrganization("org_id"))
	org.GET("/conversations", h.listConversations)
	org.GET("/usage", h.usageStatus)
	org.GET("/reports", h.listReports)

	api.GET("/conversations/:id", h.getConversation)
	api.PATCH("/conversations/:id/status", h.updateConversationStatus)
	api.PUT("/agents/:id/connection", h.putConnection)

	admin := api.Group("/admin", auth.RequireSuperAdmin())
	admin.GET("/diagnostics", h.listDiagnostics)
	admin.DELETE("/diagnostics", h.flushDiagnostics)
}

// canAccess aborts with 403 unless the caller may act on orgID.
func canAccess(c *gin.Context, orgID string) bool {
	caps, ok := auth.CapabilitiesFromContext(c)
	if !ok || !caps.CanAccess(orgID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}
