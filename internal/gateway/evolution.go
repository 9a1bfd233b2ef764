package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"agentdesk/internal/credentials"
	"agentdesk/internal/metrics"
)

// SendResult is the outcome of one send; failures are data, not errors.
type SendResult struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"message_id,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Client relays text messages through an Evolution-compatible gateway.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

// NewClient returns a client whose requests time out after timeout; zero disables it.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: &http.Client{Timeout: timeout}, logger: logger}
}

type sendTextRequest struct {
	Number      string      `json:"number"`
	TextMessage textMessage `json:"textMessage"`
}

type textMessage struct {
	Text string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

type errorResponse struct {
	Message any `json:"message"`
}

// SendText posts text to number via the instance described by cfg. It makes exactly
// one attempt.
func (c *Client) SendText(ctx context.Context, cfg credentials.GatewayConfig, number, text string) SendResult {
	res := c.sendText(ctx, cfg, number, text)
	metrics.RecordRelay(res.Success)
	if !res.Success {
		c.logger.WarnContext(ctx, "gateway send failed", "category", "network", "instance", cfg.InstanceName, "error", res.Error)
	}
	return res
}

func (c *Client) sendText(ctx context.Context, cfg credentials.GatewayConfig, number, text string) SendResult {
	if cfg.BaseURL == "" {
		return SendResult{Error: "gateway base url not configured"}
	}
	endpoint := strings.TrimRight(cfg.BaseURL, "/") + "/message/sendText/" + url.PathEscape(cfg.InstanceName)
	body, err := json.Marshal(sendTextRequest{Number: number, TextMessage: textMessage{Text: text}})
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return SendResult{Error: err.Error()}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return SendResult{Error: failureMessage(resp.StatusCode, raw)}
	}
	var decoded sendTextResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return SendResult{Error: fmt.Sprintf("decode gateway response: %v", err)}
	}
	return SendResult{Success: true, ProviderMessageID: decoded.Key.ID}
}

// failureMessage prefers the gateway's own message field over the status code.
func failureMessage(status int, raw []byte) string {
	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil {
		switch m := decoded.Message.(type) {
		case string:
			if m != "" {
				return m
			}
		case []any:
			parts := make([]string, 0, len(m))
			for _, p := range m {
				parts = append(parts, fmt.Sprint(p))
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}
