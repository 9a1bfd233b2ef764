package agent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agentdesk/internal/models"
	"agentdesk/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrAgentNotFound      = errors.New("agent not found")
	ErrConnectionNotFound = errors.New("connection not found")
)

// Service reads agents, their prompt settings and gateway connections.
type Service struct {
	db *storage.DB
}

// NewService builds a new agent service.
func NewService(db *storage.DB) *Service {
	return &Service{db: db}
}

// ConnectionByInstance finds the active whatsapp connection registered for a gateway instance.
func (s *Service) ConnectionByInstance(ctx context.Context, instance string) (*models.Connection, error) {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return nil, ErrConnectionNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, connection_type, instance_name, credentials_encrypted, metadata, is_active, last_tested_at, created_at
		FROM agent_connections
		WHERE connection_type = ? AND instance_name = ? AND is_active = TRUE
		ORDER BY created_at DESC LIMIT 1`,
		models.ConnectionTypeWhatsApp, instance,
	)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, fmt.Errorf("query connection: %w", err)
	}
	return conn, nil
}

// Get loads one agent.
func (s *Service) Get(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, description, is_active, created_at, updated_at FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &a.OrganizationID, &a.Name, &a.Description, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("query agent: %w", err)
	}
	return &a, nil
}

// Config returns the prompt settings of an agent. A missing row yields an empty
// config so callers fall back to their defaults.
func (s *Service) Config(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	var (
		prompt      sql.NullString
		temperature sql.NullFloat64
		maxTokens   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT custom_prompt, temperature, max_tokens FROM agent_configurations WHERE agent_id = ?`, agentID,
	).Scan(&prompt, &temperature, &maxTokens)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.AgentConfig{AgentID: agentID}, nil
		}
		return nil, fmt.Errorf("query agent config: %w", err)
	}
	cfg := &models.AgentConfig{AgentID: agentID, CustomPrompt: prompt.String}
	if temperature.Valid {
		t := temperature.Float64
		cfg.Temperature = &t
	}
	if maxTokens.Valid {
		m := int(maxTokens.Int64)
		cfg.MaxTokens = &m
	}
	return cfg, nil
}

// UpsertConnection stores conn as the single active connection of its agent and type.
// Previously active siblings are deactivated in the same transaction.
func (s *Service) UpsertConnection(ctx context.Context, conn models.Connection) (*models.Connection, error) {
	conn.InstanceName = strings.TrimSpace(conn.InstanceName)
	if conn.AgentID == "" || conn.InstanceName == "" || conn.CredentialsEncrypted == "" {
		return nil, errors.New("agent_id, instance_name and credentials are required")
	}
	if conn.ConnectionType == "" {
		conn.ConnectionType = models.ConnectionTypeWhatsApp
	}
	if conn.Metadata == "" {
		conn.Metadata = "{}"
	}
	if _, err := s.Get(ctx, conn.AgentID); err != nil {
		return nil, err
	}

	conn.ID = uuid.NewString()
	conn.IsActive = true
	conn.CreatedAt = time.Now().UTC()
	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE agent_connections SET is_active = FALSE WHERE agent_id = ? AND connection_type = ? AND is_active = TRUE`,
			conn.AgentID, conn.ConnectionType,
		); err != nil {
			return fmt.Errorf("deactivate connections: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_connections (id, agent_id, connection_type, instance_name, credentials_encrypted, metadata, is_active, created_at)
			VALUES (?, ?, ?, ?, ?, ?, TRUE, ?)`,
			conn.ID, conn.AgentID, conn.ConnectionType, conn.InstanceName, conn.CredentialsEncrypted, conn.Metadata, conn.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert connection: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*models.Connection, error) {
	var (
		c        models.Connection
		lastTest sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.AgentID, &c.ConnectionType, &c.InstanceName, &c.CredentialsEncrypted,
		&c.Metadata, &c.IsActive, &lastTest, &c.CreatedAt); err != nil {
		return nil, err
	}
	if lastTest.Valid {
		t := lastTest.Time
		c.LastTestedAt = &t
	}
	return &c, nil
}
