package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/metrics"
	"agentdesk/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

const (
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1000
	DefaultHistoryLimit = 10
)

// ErrEmptyCompletion is returned when the provider answers without any text.
var ErrEmptyCompletion = errors.New("empty completion")

// NewChatModel builds the eino chat model for the named provider.
func NewChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig, timeout time.Duration) (model.BaseChatModel, error) {
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s: api key not configured", provider)
	}
	switch provider {
	case "openai":
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
			Timeout: timeout,
		})
	case "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey: provCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: DefaultMaxTokens,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
}

// Request is one single-turn completion.
type Request struct {
	Prompt       string
	SystemPrompt string
	// Temperature and MaxTokens fall back to the defaults when nil.
	Temperature *float64
	MaxTokens   *int
	History     []*models.Message
}

type Options struct {
	Provider            string
	FailurePolicy       string
	FallbackReply       string
	DefaultSystemPrompt string
	HistoryLimit        int
	Logger              *slog.Logger
}

// Client calls the completion endpoint and applies the failure policy.
type Client struct {
	chat          model.BaseChatModel
	provider      string
	propagate     bool
	fallback      string
	defaultPrompt string
	historyLimit  int
	logger        *slog.Logger
}

func NewClient(chat model.BaseChatModel, opts Options) *Client {
	c := &Client{
		chat:          chat,
		provider:      opts.Provider,
		propagate:     opts.FailurePolicy == config.CompletionPropagate,
		fallback:      opts.FallbackReply,
		defaultPrompt: opts.DefaultSystemPrompt,
		historyLimit:  opts.HistoryLimit,
		logger:        opts.Logger,
	}
	if c.historyLimit <= 0 || c.historyLimit > DefaultHistoryLimit {
		c.historyLimit = DefaultHistoryLimit
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// HistoryLimit is the number of prior messages sent with each prompt.
func (c *Client) HistoryLimit() int { return c.historyLimit }

// Generate returns the model's reply. On failure it returns the fallback text with a
// nil error, unless the client was configured to propagate errors.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	reply, err := c.generate(ctx, req)
	if err == nil {
		return reply, nil
	}
	policy := config.CompletionFallbackText
	if c.propagate {
		policy = config.CompletionPropagate
	}
	metrics.RecordCompletionFailure(c.provider, policy)
	c.logger.ErrorContext(ctx, "completion failed", "category", "api", "provider", c.provider, "policy", policy, "error", err)
	if c.propagate {
		return "", fmt.Errorf("completion: %w", err)
	}
	return c.fallback, nil
}

func (c *Client) generate(ctx context.Context, req Request) (string, error) {
	if c.chat == nil {
		return "", errors.New("chat model not configured")
	}
	temperature := DefaultTemperature
	if req.Temperature != nil {
		temperature = clamp(*req.Temperature, 0, 1)
	}
	maxTokens := DefaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	out, err := c.chat.Generate(ctx, c.BuildMessages(req),
		model.WithTemperature(float32(temperature)),
		model.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", err
	}
	if out == nil || strings.TrimSpace(out.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return out.Content, nil
}

// BuildMessages assembles system prompt, history window and the new user prompt.
func (c *Client) BuildMessages(req Request) []*schema.Message {
	system := strings.TrimSpace(req.SystemPrompt)
	if system == "" {
		system = c.defaultPrompt
	}
	history := BuildHistory(req.History, c.historyLimit)
	messages := make([]*schema.Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	messages = append(messages, history...)
	return append(messages, schema.UserMessage(req.Prompt))
}

// BuildHistory keeps the last limit messages and maps inbound to user and outbound
// to assistant. Input is expected oldest first.
func BuildHistory(msgs []*models.Message, limit int) []*schema.Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		if m.Direction == models.DirectionOutbound {
			out = append(out, schema.AssistantMessage(m.Content, nil))
		} else {
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
