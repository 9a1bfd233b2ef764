package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"agentdesk/internal/credentials"
	"agentdesk/internal/gateway"
	"agentdesk/internal/idempotency"
	"agentdesk/internal/logger"
	"agentdesk/internal/metrics"
	"agentdesk/internal/models"
	"agentdesk/internal/service/agent"
	"agentdesk/internal/service/ai"
	"agentdesk/internal/service/usage"
)

const decryptFailureMessage = "Failed to decrypt Evolution API credentials"

type AgentStore interface {
	ConnectionByInstance(ctx context.Context, instance string) (*models.Connection, error)
	Get(ctx context.Context, id string) (*models.Agent, error)
	Config(ctx context.Context, agentID string) (*models.AgentConfig, error)
}

type ConversationStore interface {
	Resolve(ctx context.Context, agentID, contactID, displayName string) (string, error)
	SaveMessage(ctx context.Context, msg models.Message) (*models.Message, error)
	PatchProviderMessageID(ctx context.Context, messageID, providerID string) error
	RecentMessages(ctx context.Context, conversationID string, limit int, exclude ...string) ([]*models.Message, error)
}

type QuotaChecker interface {
	CheckQuota(ctx context.Context, orgID string) usage.Decision
}

type Completer interface {
	Generate(ctx context.Context, req ai.Request) (string, error)
	HistoryLimit() int
}

type CredentialResolver interface {
	GatewayConfig(blob, metadata, instance string) (credentials.GatewayConfig, error)
}

type Relay interface {
	SendText(ctx context.Context, cfg credentials.GatewayConfig, number, text string) gateway.SendResult
}

// Deps are the collaborators of a Processor. Dedupe is optional.
type Deps struct {
	Agents        AgentStore
	Conversations ConversationStore
	Quota         QuotaChecker
	Completion    Completer
	Credentials   CredentialResolver
	Relay         Relay
	Dedupe        idempotency.Store
	Logger        *slog.Logger
}

// Processor runs one inbound gateway event through the reply pipeline.
type Processor struct {
	Deps
}

func NewProcessor(deps Deps) *Processor {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Processor{Deps: deps}
}

// Process handles evt synchronously and returns the acknowledgment to send back.
func (p *Processor) Process(ctx context.Context, evt Event) Ack {
	log := logger.From(ctx, p.Logger).With("instance", evt.Instance, "event", evt.Event)
	a, claimed := p.process(ctx, log, evt)
	if a.Status >= http.StatusInternalServerError && claimed != "" {
		// let the gateway redeliver
		if err := p.Dedupe.Release(ctx, claimed); err != nil {
			log.WarnContext(ctx, "release event key failed", "error", err)
		}
	}
	metrics.RecordPipelineOutcome(string(a.State))
	log.InfoContext(ctx, "webhook processed", "state", a.State, "outcome", a.Terminal(), "status", a.Status)
	return a
}

func (p *Processor) process(ctx context.Context, log *slog.Logger, evt Event) (Ack, string) {
	state := StateReceived
	if evt.Event != EventMessagesUpsert {
		return ack(state, map[string]any{"received": true}), ""
	}
	data, err := evt.MessageData()
	if err != nil {
		return failure(http.StatusInternalServerError, state, err.Error()), ""
	}
	text := data.Text()
	if data.Key.FromMe || text == "" || data.Key.RemoteJid == "" {
		return ack(state, map[string]any{"processed": false}), ""
	}

	conn, err := p.Agents.ConnectionByInstance(ctx, evt.Instance)
	if err != nil {
		if errors.Is(err, agent.ErrConnectionNotFound) {
			log.WarnContext(ctx, "agent not found for instance", "category", "query")
			return failure(http.StatusNotFound, state, "Agent not found"), ""
		}
		return failure(http.StatusInternalServerError, state, err.Error()), ""
	}
	ag, err := p.Agents.Get(ctx, conn.AgentID)
	if err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			return failure(http.StatusNotFound, state, "Agent not found"), ""
		}
		return failure(http.StatusInternalServerError, state, err.Error()), ""
	}
	if !ag.IsActive {
		log.InfoContext(ctx, "agent inactive, ignoring message", "agent_id", ag.ID)
		return ack(state, map[string]any{"processed": false, "reason": "Agent inactive"}), ""
	}

	// claim after the agent checks; deliveries rejected above may come again
	var claimed string
	if p.Dedupe != nil && data.Key.ID != "" {
		key := dedupeKey(evt.Instance, data.Key.ID)
		first, err := p.Dedupe.Claim(ctx, key)
		switch {
		case err != nil:
			log.WarnContext(ctx, "dedupe check failed, processing anyway", "category", "query", "error", err)
		case !first:
			log.InfoContext(ctx, "duplicate delivery skipped", "message_key", data.Key.ID)
			return ack(state, map[string]any{"received": true, "processed": false, "duplicate": true}), ""
		default:
			claimed = key
		}
	}
	state = StateAgentResolved
	log = log.With("agent_id", ag.ID, "organization_id", ag.OrganizationID)

	contactID := data.ContactID()
	conversationID, err := p.Conversations.Resolve(ctx, ag.ID, contactID, data.PushName)
	if err != nil {
		log.ErrorContext(ctx, "create conversation failed", "category", "query", "error", err)
		return failure(http.StatusInternalServerError, state, "Failed to create conversation"), claimed
	}
	state = StateConversationResolved
	log = log.With("conversation_id", conversationID)

	inbound, err := p.Conversations.SaveMessage(ctx, models.Message{
		ConversationID: conversationID,
		AgentID:        ag.ID,
		Content:        text,
		Direction:      models.DirectionInbound,
		ExternalID:     data.Key.ID,
	})
	messageSaved := err == nil
	if err != nil {
		log.ErrorContext(ctx, "save inbound message failed", "category", "query", "error", err)
	}
	state = StateInboundSaved

	decision := p.Quota.CheckQuota(ctx, ag.OrganizationID)
	metrics.RecordQuotaDecision(decision.Allowed)
	if !decision.Allowed {
		log.WarnContext(ctx, "message limit reached", "category", "other", "reason", decision.Reason)
		return ack(StateSkippedDueToQuota, map[string]any{
			"received":       true,
			"conversationId": conversationID,
			"messageSaved":   messageSaved,
			"processed":      false,
			"reason":         decision.Reason,
		}), claimed
	}
	state = StateQuotaChecked

	agentCfg, err := p.Agents.Config(ctx, ag.ID)
	if err != nil {
		return failure(http.StatusInternalServerError, state, err.Error()), claimed
	}

	var exclude []string
	if inbound != nil {
		exclude = append(exclude, inbound.ID)
	}
	history, err := p.Conversations.RecentMessages(ctx, conversationID, p.Completion.HistoryLimit(), exclude...)
	if err != nil {
		log.WarnContext(ctx, "load history failed, continuing without it", "category", "query", "error", err)
		history = nil
	}
	state = StateHistoryFetched

	reply, err := p.Completion.Generate(ctx, ai.Request{
		Prompt:       text,
		SystemPrompt: agentCfg.CustomPrompt,
		Temperature:  agentCfg.Temperature,
		MaxTokens:    agentCfg.MaxTokens,
		History:      history,
	})
	if err != nil {
		return failure(http.StatusInternalServerError, state, err.Error()), claimed
	}
	state = StateCompletionCalled

	outbound, err := p.Conversations.SaveMessage(ctx, models.Message{
		ConversationID: conversationID,
		AgentID:        ag.ID,
		Content:        reply,
		Direction:      models.DirectionOutbound,
	})
	responseSaved := err == nil
	if err != nil {
		log.ErrorContext(ctx, "save outbound message failed", "category", "query", "error", err)
	}
	state = StateOutboundSaved

	gwCfg, err := p.Credentials.GatewayConfig(conn.CredentialsEncrypted, conn.Metadata, evt.Instance)
	if err != nil {
		log.ErrorContext(ctx, "decrypt gateway credentials failed", "category", "auth", "error", err)
		return ack(state, map[string]any{
			"received":       true,
			"conversationId": conversationID,
			"messageSaved":   messageSaved,
			"responseSaved":  responseSaved,
			"processed":      false,
			"error":          decryptFailureMessage,
		}), claimed
	}
	state = StateCredentialsDecrypted

	res := p.Relay.SendText(ctx, gwCfg, contactID, reply)
	state = StateRelayed
	if !res.Success {
		return ack(state, map[string]any{
			"received":       true,
			"conversationId": conversationID,
			"messageSaved":   messageSaved,
			"responseSaved":  responseSaved,
			"sent":           false,
			"error":          res.Error,
		}), claimed
	}

	if res.ProviderMessageID != "" && outbound != nil {
		if err := p.Conversations.PatchProviderMessageID(ctx, outbound.ID, res.ProviderMessageID); err != nil {
			log.WarnContext(ctx, "patch provider message id failed", "category", "query", "error", err)
		} else {
			state = StatePatched
		}
	}

	body := map[string]any{
		"received":       true,
		"conversationId": conversationID,
		"messageSaved":   messageSaved,
		"responseSaved":  responseSaved,
		"sent":           true,
	}
	if res.ProviderMessageID != "" {
		body["messageId"] = res.ProviderMessageID
	}
	a := ack(state, body)
	a.Sent = true
	return a, claimed
}

// dedupeKey scopes a gateway message id to its instance.
func dedupeKey(instance, messageID string) string {
	return instance + ":" + messageID
}
