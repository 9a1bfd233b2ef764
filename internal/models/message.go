package models

import "time"

// Direction tells whether a message came from the contact or from the agent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Message is one turn of a conversation. Only ProviderMessageID changes after insert.
type Message struct {
	ID                string    `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	AgentID           string    `json:"agent_id"`
	Content           string    `json:"content"`
	Direction         Direction `json:"direction"`
	SentAt            time.Time `json:"sent_at"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	ExternalID        string    `json:"external_id,omitempty"`
}
