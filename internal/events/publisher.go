package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentdesk/internal/models"

	"github.com/nats-io/nats.go"
)

// MessageEvent is the JSON payload published for every persisted message.
type MessageEvent struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversationId"`
	AgentID        string           `json:"agentId"`
	Direction      models.Direction `json:"direction"`
	SentAt         time.Time        `json:"sentAt"`
}

// Publisher sends message events to NATS under <prefix>.messages.<direction>.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials the NATS server at url.
func Connect(url, prefix string) (*Publisher, error) {
	nc, err := nats.Connect(url, nats.Name("agentdesk"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewPublisher(nc, prefix), nil
}

func NewPublisher(nc *nats.Conn, prefix string) *Publisher {
	if prefix == "" {
		prefix = "agentdesk"
	}
	return &Publisher{nc: nc, prefix: prefix}
}

// Subject returns the subject used for messages of the given direction.
func (p *Publisher) Subject(direction models.Direction) string {
	return p.prefix + ".messages." + string(direction)
}

func (p *Publisher) PublishMessage(_ context.Context, msg models.Message) error {
	if p == nil || p.nc == nil {
		return nil
	}
	payload, err := json.Marshal(MessageEvent{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		AgentID:        msg.AgentID,
		Direction:      msg.Direction,
		SentAt:         msg.SentAt,
	})
	if err != nil {
		return err
	}
	if err := p.nc.Publish(p.Subject(msg.Direction), payload); err != nil {
		return fmt.Errorf("publish %s: %w", p.Subject(msg.Direction), err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
