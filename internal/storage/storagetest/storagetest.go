// Package storagetest provides an in-memory database and fixtures for package tests.
package storagetest

import (
	"context"
	"testing"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/storage"

	"github.com/google/uuid"
)

// Open returns a migrated in-memory sqlite database closed at test cleanup.
func Open(t testing.TB) *storage.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Exec runs a statement and fails the test on error.
func Exec(t testing.TB, db *storage.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

// Plan inserts a subscription plan. A nil limit means unlimited.
func Plan(t testing.TB, db *storage.DB, limit *int) string {
	t.Helper()
	id := uuid.NewString()
	Exec(t, db, `INSERT INTO subscription_plans (id, name, max_messages_per_month) VALUES (?, ?, ?)`, id, "plan-"+id[:8], limit)
	return id
}

// Organization inserts an organization, optionally pointing at a plan.
func Organization(t testing.TB, db *storage.DB, planID string) string {
	t.Helper()
	id := uuid.NewString()
	var plan any
	if planID != "" {
		plan = planID
	}
	Exec(t, db, `INSERT INTO organizations (id, name, subscription_plan_id, created_at) VALUES (?, ?, ?, ?)`,
		id, "org-"+id[:8], plan, time.Now().UTC())
	return id
}

// Subscription attaches an active subscription created at the given time.
func Subscription(t testing.TB, db *storage.DB, orgID, planID string, createdAt time.Time) {
	t.Helper()
	Exec(t, db, `INSERT INTO subscriptions (id, organization_id, plan_id, status, created_at) VALUES (?, ?, ?, 'active', ?)`,
		uuid.NewString(), orgID, planID, createdAt.UTC())
}

// Agent inserts an agent for orgID.
func Agent(t testing.TB, db *storage.DB, orgID string, active bool) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	Exec(t, db, `INSERT INTO agents (id, organization_id, name, description, is_active, created_at, updated_at) VALUES (?, ?, ?, '', ?, ?, ?)`,
		id, orgID, "agent-"+id[:8], active, now, now)
	return id
}

// AgentConfig stores prompt settings for agentID.
func AgentConfig(t testing.TB, db *storage.DB, agentID, prompt string, temperature *float64, maxTokens *int) {
	t.Helper()
	Exec(t, db, `INSERT INTO agent_configurations (agent_id, custom_prompt, temperature, max_tokens) VALUES (?, ?, ?, ?)`,
		agentID, prompt, temperature, maxTokens)
}

// Connection inserts an active whatsapp connection.
func Connection(t testing.TB, db *storage.DB, agentID, instance, blob, metadata string) string {
	t.Helper()
	id := uuid.NewString()
	if metadata == "" {
		metadata = "{}"
	}
	Exec(t, db, `INSERT INTO agent_connections (id, agent_id, connection_type, instance_name, credentials_encrypted, metadata, is_active, created_at) VALUES (?, ?, 'whatsapp', ?, ?, ?, TRUE, ?)`,
		id, agentID, instance, blob, metadata, time.Now().UTC())
	return id
}

// Conversation inserts an active conversation.
func Conversation(t testing.TB, db *storage.DB, agentID, contactID string) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UTC()
	Exec(t, db, `INSERT INTO conversations (id, agent_id, contact_id, contact_name, status, created_at, updated_at) VALUES (?, ?, ?, '', 'active', ?, ?)`,
		id, agentID, contactID, now, now)
	return id
}

// Message inserts a message with an explicit timestamp.
func Message(t testing.TB, db *storage.DB, conversationID, agentID, content, direction string, sentAt time.Time) string {
	t.Helper()
	id := uuid.NewString()
	Exec(t, db, `INSERT INTO messages (id, conversation_id, agent_id, content, direction, sent_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, conversationID, agentID, content, direction, sentAt.UTC())
	return id
}

// Count returns SELECT COUNT(*) for the given query.
func Count(t testing.TB, db *storage.DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count %q: %v", query, err)
	}
	return n
}

func Int(v int) *int { return &v }

func Float(v float64) *float64 { return &v }
