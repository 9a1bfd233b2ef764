package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agentdesk/internal/models"
	"agentdesk/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrInvalidStatus        = errors.New("invalid conversation status")
	// ErrActiveExists is returned when reactivating would create a second active
	// conversation for the same contact.
	ErrActiveExists = errors.New("contact already has an active conversation")
)

// Locker serializes resolve-or-create across processes.
type Locker interface {
	Lock(ctx context.Context, key string, ttl, wait time.Duration) (func(), error)
}

// Publisher is notified of every persisted message.
type Publisher interface {
	PublishMessage(ctx context.Context, msg models.Message) error
}

// Service resolves conversations and persists their messages.
type Service struct {
	db        *storage.DB
	locker    Locker
	lockTTL   time.Duration
	publisher Publisher
	logger    *slog.Logger
}

type Option func(*Service)

// WithLocker enables the per-contact advisory lock around Resolve.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(s *Service) {
		s.locker = l
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService builds a conversation service.
func NewService(db *storage.DB, opts ...Option) *Service {
	s := &Service{db: db, lockTTL: 10 * time.Second, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the active conversation of (agentID, contactID), creating it when
// none exists.
func (s *Service) Resolve(ctx context.Context, agentID, contactID, displayName string) (string, error) {
	if agentID == "" || contactID == "" {
		return "", errors.New("agent_id and contact_id are required")
	}
	if s.locker != nil {
		release, err := s.locker.Lock(ctx, lockKey(agentID, contactID), s.lockTTL, s.lockTTL)
		if err != nil {
			s.logger.WarnContext(ctx, "conversation lock unavailable, resolving without it",
				"agent_id", agentID, "error", err)
		} else {
			defer release()
		}
	}

	id, err := s.findActive(ctx, agentID, contactID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("query active conversation: %w", err)
	}

	id = uuid.NewString()
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, agent_id, contact_id, contact_name, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, agentID, contactID, strings.TrimSpace(displayName), models.ConversationActive, now, now,
	)
	if err != nil {
		// another writer may have won the unique index
		if winner, findErr := s.findActive(ctx, agentID, contactID); findErr == nil {
			return winner, nil
		}
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

func (s *Service) findActive(ctx context.Context, agentID, contactID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE agent_id = ? AND contact_id = ? AND status = ? ORDER BY created_at ASC LIMIT 1`,
		agentID, contactID, models.ConversationActive,
	).Scan(&id)
	return id, err
}

func lockKey(agentID, contactID string) string {
	return "agentdesk:conversation-lock:" + agentID + ":" + contactID
}

// SaveMessage stores a new message and updates the conversation's updated_at timestamp.
func (s *Service) SaveMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	if msg.ConversationID == "" || msg.AgentID == "" {
		return nil, errors.New("conversation_id and agent_id are required")
	}
	if msg.Direction != models.DirectionInbound && msg.Direction != models.DirectionOutbound {
		return nil, fmt.Errorf("invalid direction %q", msg.Direction)
	}
	now := time.Now().UTC()
	msg.ID = uuid.NewString()
	msg.SentAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, agent_id, content, direction, sent_at, external_id) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.AgentID, msg.Content, msg.Direction, now, nullString(msg.ExternalID),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE conversations SET updated_at = ? WHERE id = ?`, now, msg.ConversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishMessage(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "publish message event failed", "message_id", msg.ID, "error", err)
		}
	}
	return &msg, nil
}

// PatchProviderMessageID attaches the gateway's identifier to a relayed message.
func (s *Service) PatchProviderMessageID(ctx context.Context, messageID, providerID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET provider_message_id = ? WHERE id = ?`, providerID, messageID)
	if err != nil {
		return fmt.Errorf("patch message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("message rows affected: %w", err)
	}
	if affected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// RecentMessages returns at most limit of the newest messages of a conversation,
// oldest first, leaving out the given message ids.
func (s *Service) RecentMessages(ctx context.Context, conversationID string, limit int, exclude ...string) ([]*models.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `SELECT id, conversation_id, agent_id, content, direction, sent_at, provider_message_id, external_id
		FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(`, ?`, len(exclude)-1) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY sent_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var (
		m          models.Message
		providerID sql.NullString
		externalID sql.NullString
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.AgentID, &m.Content, &m.Direction, &m.SentAt, &providerID, &externalID); err != nil {
		return nil, err
	}
	m.ProviderMessageID = providerID.String
	m.ExternalID = externalID.String
	return &m, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
