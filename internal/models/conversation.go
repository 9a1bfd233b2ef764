package models

import "time"

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
)

// Valid reports whether s is a known status.
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationClosed, ConversationArchived:
		return true
	}
	return false
}

// Conversation is a thread between one agent and one external contact.
type Conversation struct {
	ID      string `json:"id"`
	AgentID string `json:"agent_id"`
	// OrganizationID is filled by queries that join the owning agent.
	OrganizationID string             `json:"organization_id,omitempty"`
	ContactID      string             `json:"contact_id"`
	ContactName    string             `json:"contact_name"`
	Status         ConversationStatus `json:"status"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}
