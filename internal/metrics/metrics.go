package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentdesk_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	pipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_pipeline_outcomes_total",
			Help: "Webhook deliveries by last pipeline state reached",
		},
		[]string{"state"},
	)

	completionFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_completion_failures_total",
			Help: "Completion calls that failed and were replaced or propagated",
		},
		[]string{"provider", "policy"},
	)

	relayResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_relay_results_total",
			Help: "Outbound gateway sends by result",
		},
		[]string{"result"},
	)

	quotaDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_quota_decisions_total",
			Help: "Quota checks by decision",
		},
		[]string{"allowed"},
	)

	reportRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentdesk_report_runs_total",
			Help: "Daily report aggregation runs per organization",
		},
		[]string{"status"},
	)
)

func RecordPipelineOutcome(state string) {
	pipelineOutcomes.WithLabelValues(state).Inc()
}

func RecordCompletionFailure(provider, policy string) {
	completionFailures.WithLabelValues(provider, policy).Inc()
}

func RecordRelay(success bool) {
	result := "failed"
	if success {
		result = "sent"
	}
	relayResults.WithLabelValues(result).Inc()
}

func RecordQuotaDecision(allowed bool) {
	quotaDecisions.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

func RecordReport(ok bool) {
	status := "error"
	if ok {
		status = "ok"
	}
	reportRuns.WithLabelValues(status).Inc()
}

// Middleware observes request duration per matched gin route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
