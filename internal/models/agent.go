package models

import "time"

// ConnectionTypeWhatsApp is the only gateway connection type handled today.
const ConnectionTypeWhatsApp = "whatsapp"

type Agent struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AgentConfig holds the prompt settings of an agent. Nil pointers mean "use default".
type AgentConfig struct {
	AgentID      string   `json:"agent_id"`
	CustomPrompt string   `json:"custom_prompt"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
}

// Connection is an agent's encrypted gateway credential set.
type Connection struct {
	ID                   string     `json:"id"`
	AgentID              string     `json:"agent_id"`
	ConnectionType       string     `json:"connection_type"`
	InstanceName         string     `json:"instance_name"`
	CredentialsEncrypted string     `json:"-"`
	Metadata             string     `json:"metadata"`
	IsActive             bool       `json:"is_active"`
	LastTestedAt         *time.Time `json:"last_tested_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}
