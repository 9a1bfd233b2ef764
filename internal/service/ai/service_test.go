package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/models"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const fallbackText = "Desculpe, ocorreu um erro ao processar sua mensagem. Por favor, tente novamente mais tarde."

type fakeChatModel struct {
	reply    string
	err      error
	calls    int
	lastIn   []*schema.Message
	lastOpts *model.Options
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.calls++
	f.lastIn = input
	f.lastOpts = model.GetCommonOptions(&model.Options{}, opts...)
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func newTestClient(chat model.BaseChatModel, policy string) *Client {
	return NewClient(chat, Options{
		Provider:            "openai",
		FailurePolicy:       policy,
		FallbackReply:       fallbackText,
		DefaultSystemPrompt: "Você é um assistente útil e prestativo.",
	})
}

func history(n int) []*models.Message {
	out := make([]*models.Message, 0, n)
	for i := 0; i < n; i++ {
		dir := models.DirectionInbound
		if i%2 == 1 {
			dir = models.DirectionOutbound
		}
		out = append(out, &models.Message{Content: fmt.Sprintf("m%d", i), Direction: dir})
	}
	return out
}

func TestBuildHistoryKeepsLastTenOldestFirst(t *testing.T) {
	got := BuildHistory(history(15), 10)
	if len(got) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(got))
	}
	for i, m := range got {
		want := fmt.Sprintf("m%d", i+5)
		if m.Content != want {
			t.Fatalf("position %d: got %s want %s", i, m.Content, want)
		}
		wantRole := schema.User
		if (i+5)%2 == 1 {
			wantRole = schema.Assistant
		}
		if m.Role != wantRole {
			t.Fatalf("position %d: role %s want %s", i, m.Role, wantRole)
		}
	}
}

func TestNewClientCapsHistoryLimit(t *testing.T) {
	for _, limit := range []int{0, -3, 25} {
		c := NewClient(&fakeChatModel{}, Options{HistoryLimit: limit})
		if c.HistoryLimit() != DefaultHistoryLimit {
			t.Fatalf("limit %d: got %d", limit, c.HistoryLimit())
		}
	}
	if c := NewClient(&fakeChatModel{}, Options{HistoryLimit: 4}); c.HistoryLimit() != 4 {
		t.Fatalf("expected 4, got %d", c.HistoryLimit())
	}
}

func TestGenerateUsesDefaults(t *testing.T) {
	fake := &fakeChatModel{reply: "olá"}
	c := newTestClient(fake, config.CompletionFallbackText)

	reply, err := c.Generate(context.Background(), Request{Prompt: "oi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != "olá" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(fake.lastIn) != 2 || fake.lastIn[0].Role != schema.System || fake.lastIn[0].Content != "Você é um assistente útil e prestativo." {
		t.Fatalf("unexpected messages %+v", fake.lastIn)
	}
	if fake.lastIn[1].Role != schema.User || fake.lastIn[1].Content != "oi" {
		t.Fatalf("prompt must be the last user message: %+v", fake.lastIn[1])
	}
	if fake.lastOpts.Temperature == nil || *fake.lastOpts.Temperature != float32(0.7) {
		t.Fatalf("expected default temperature 0.7, got %v", fake.lastOpts.Temperature)
	}
	if fake.lastOpts.MaxTokens == nil || *fake.lastOpts.MaxTokens != 1000 {
		t.Fatalf("expected default max tokens 1000, got %v", fake.lastOpts.MaxTokens)
	}
}

func TestGenerateAgentSettings(t *testing.T) {
	fake := &fakeChatModel{reply: "ok"}
	c := newTestClient(fake, config.CompletionFallbackText)
	temp := 1.7
	maxTokens := 50

	_, err := c.Generate(context.Background(), Request{
		Prompt:       "oi",
		SystemPrompt: "seja breve",
		Temperature:  &temp,
		MaxTokens:    &maxTokens,
		History:      history(15),
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(fake.lastIn) != 12 {
		t.Fatalf("expected system + 10 history + prompt, got %d", len(fake.lastIn))
	}
	if fake.lastIn[0].Content != "seja breve" {
		t.Fatalf("custom prompt not used")
	}
	if *fake.lastOpts.Temperature != 1 {
		t.Fatalf("temperature must be clamped to 1, got %v", *fake.lastOpts.Temperature)
	}
	if *fake.lastOpts.MaxTokens != 50 {
		t.Fatalf("expected max tokens 50, got %d", *fake.lastOpts.MaxTokens)
	}
}

func TestGenerateFailurePolicies(t *testing.T) {
	fake := &fakeChatModel{err: errors.New("boom")}

	reply, err := newTestClient(fake, config.CompletionFallbackText).Generate(context.Background(), Request{Prompt: "oi"})
	if err != nil {
		t.Fatalf("fallback policy must not return an error: %v", err)
	}
	if reply != fallbackText {
		t.Fatalf("expected fallback text, got %q", reply)
	}

	_, err = newTestClient(fake, config.CompletionPropagate).Generate(context.Background(), Request{Prompt: "oi"})
	if err == nil {
		t.Fatalf("propagate policy must return the error")
	}

	empty := &fakeChatModel{reply: "   "}
	reply, err = newTestClient(empty, config.CompletionFallbackText).Generate(context.Background(), Request{Prompt: "oi"})
	if err != nil || reply != fallbackText {
		t.Fatalf("empty completion should fall back, got %q %v", reply, err)
	}
}

func TestGenerateFallsBackOnHTTP500(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream exploded","type":"server_error"}}`))
	}))
	defer srv.Close()

	chat, err := NewChatModel(context.Background(), "openai", config.ProviderConfig{
		BaseURL: srv.URL,
		Model:   "gpt-3.5-turbo",
		APIKey:  "test-key",
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("new chat model: %v", err)
	}
	reply, err := newTestClient(chat, config.CompletionFallbackText).Generate(context.Background(), Request{Prompt: "oi"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if reply != fallbackText {
		t.Fatalf("expected fallback text, got %q", reply)
	}
}

func TestNewChatModelValidation(t *testing.T) {
	if _, err := NewChatModel(context.Background(), "openai", config.ProviderConfig{}, 0); err == nil {
		t.Fatalf("expected missing api key error")
	}
	if _, err := NewChatModel(context.Background(), "llama", config.ProviderConfig{APIKey: "k"}, 0); err == nil {
		t.Fatalf("expected invalid provider error")
	}
}
