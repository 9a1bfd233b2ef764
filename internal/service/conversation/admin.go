package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentdesk/internal/models"
)

// ListFilter narrows List results. OrganizationID is required.
type ListFilter struct {
	OrganizationID string
	AgentID        string
	Status         models.ConversationStatus
	Limit          int
}

const conversationColumns = `c.id, c.agent_id, a.organization_id, c.contact_id, c.contact_name, c.status, c.created_at, c.updated_at`

// List returns the organization's conversations ordered by last activity.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.Conversation, error) {
	if f.OrganizationID == "" {
		return nil, errors.New("organization_id is required")
	}
	query := `SELECT ` + conversationColumns + `
		FROM conversations c JOIN agents a ON a.id = c.agent_id
		WHERE a.organization_id = ?`
	args := []any{f.OrganizationID}
	if f.AgentID != "" {
		query += ` AND c.agent_id = ?`
		args = append(args, f.AgentID)
	}
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, ErrInvalidStatus
		}
		query += ` AND c.status = ?`
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` ORDER BY c.updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.AgentID, &c.OrganizationID, &c.ContactID, &c.ContactName, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns one conversation and its ordered messages.
func (s *Service) Get(ctx context.Context, id string) (*models.Conversation, []*models.Message, error) {
	c, err := s.getConversation(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, agent_id, content, direction, sent_at, provider_message_id, external_id
		FROM messages WHERE conversation_id = ? ORDER BY sent_at ASC`, id,
	)
	if err != nil {
		return c, nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return c, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return c, messages, rows.Err()
}

func (s *Service) getConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations c JOIN agents a ON a.id = c.agent_id WHERE c.id = ?`, id,
	).Scan(&c.ID, &c.AgentID, &c.OrganizationID, &c.ContactID, &c.ContactName, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// UpdateStatus closes, archives or reactivates a conversation.
func (s *Service) UpdateStatus(ctx context.Context, id string, status models.ConversationStatus) (*models.Conversation, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	c, err := s.getConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == status {
		return c, nil
	}
	if status == models.ConversationActive {
		if other, err := s.findActive(ctx, c.AgentID, c.ContactID); err == nil && other != c.ID {
			return nil, ErrActiveExists
		}
	}
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET status = ?, updated_at = ? WHERE id = ?`, status, now, id); err != nil {
		return nil, fmt.Errorf("update conversation status: %w", err)
	}
	c.Status = status
	c.UpdatedAt = now
	return c, nil
}
