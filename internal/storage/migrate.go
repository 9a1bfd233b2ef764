package storage

import (
	"fmt"
)

// Migrate ensures the required tables are present.
func Migrate(db *DB) error {
	var stmts []string
	switch db.Driver {
	case DriverSQLite, DriverPostgres:
		stmts = genericSchema
	case DriverMySQL:
		stmts = mysqlSchema
	default:
		return fmt.Errorf("unsupported driver for migration: %s", db.Driver)
	}

	for _, stmt := range stmts {
		if _, err := db.DB.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", db.Driver, err)
		}
	}
	return nil
}

// genericSchema is shared by sqlite and postgres; both support partial indexes.
var genericSchema = []string{
	`CREATE TABLE IF NOT EXISTS subscription_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		max_messages_per_month INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		subscription_plan_id TEXT REFERENCES subscription_plans(id) ON DELETE SET NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		plan_id TEXT NOT NULL REFERENCES subscription_plans(id),
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_org ON subscriptions(organization_id, status)`,
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		role TEXT NOT NULL DEFAULT 'user'
	)`,
	`CREATE TABLE IF NOT EXISTS organization_members (
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (organization_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agents_org ON agents(organization_id)`,
	`CREATE TABLE IF NOT EXISTS agent_configurations (
		agent_id TEXT PRIMARY KEY REFERENCES agents(id) ON DELETE CASCADE,
		custom_prompt TEXT,
		temperature REAL,
		max_tokens INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS agent_connections (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		connection_type TEXT NOT NULL,
		instance_name TEXT NOT NULL,
		credentials_encrypted TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_tested_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_connections_instance ON agent_connections(instance_name)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_agent_connections_active
		ON agent_connections(agent_id, connection_type) WHERE is_active = TRUE`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		contact_id TEXT NOT NULL,
		contact_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uniq_conversations_active
		ON conversations(agent_id, contact_id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		direction TEXT NOT NULL,
		sent_at TIMESTAMP NOT NULL,
		provider_message_id TEXT,
		external_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_agent_sent ON messages(agent_id, sent_at)`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_key TEXT PRIMARY KEY,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
		conversation_id TEXT REFERENCES conversations(id) ON DELETE SET NULL,
		title TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS daily_reports (
		id TEXT PRIMARY KEY,
		organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		report_date TEXT NOT NULL,
		total_messages INTEGER NOT NULL,
		total_conversations INTEGER NOT NULL,
		total_appointments INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(organization_id, report_date)
	)`,
}

// mysqlSchema has no partial indexes; the single active conversation rule relies on
// the resolver lock there.
var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS subscription_plans (
		id CHAR(36) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		max_messages_per_month INT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS organizations (
		id CHAR(36) NOT NULL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		subscription_plan_id CHAR(36) NULL,
		created_at DATETIME(6) NOT NULL,
		CONSTRAINT fk_org_plan FOREIGN KEY (subscription_plan_id) REFERENCES subscription_plans(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id CHAR(36) NOT NULL PRIMARY KEY,
		organization_id CHAR(36) NOT NULL,
		plan_id CHAR(36) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_subscriptions_org (organization_id, status),
		CONSTRAINT fk_subscriptions_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE,
		CONSTRAINT fk_subscriptions_plan FOREIGN KEY (plan_id) REFERENCES subscription_plans(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS users (
		id CHAR(36) NOT NULL PRIMARY KEY,
		role VARCHAR(64) NOT NULL DEFAULT 'user'
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS organization_members (
		organization_id CHAR(36) NOT NULL,
		user_id CHAR(36) NOT NULL,
		role VARCHAR(64) NOT NULL,
		PRIMARY KEY (organization_id, user_id),
		CONSTRAINT fk_members_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS agents (
		id CHAR(36) NOT NULL PRIMARY KEY,
		organization_id CHAR(36) NOT NULL,
		name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_agents_org (organization_id),
		CONSTRAINT fk_agents_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS agent_configurations (
		agent_id CHAR(36) NOT NULL PRIMARY KEY,
		custom_prompt MEDIUMTEXT NULL,
		temperature DOUBLE NULL,
		max_tokens INT NULL,
		CONSTRAINT fk_agent_cfg_agent FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS agent_connections (
		id CHAR(36) NOT NULL PRIMARY KEY,
		agent_id CHAR(36) NOT NULL,
		connection_type VARCHAR(64) NOT NULL,
		instance_name VARCHAR(255) NOT NULL,
		credentials_encrypted TEXT NOT NULL,
		metadata TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		last_tested_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_agent_connections_instance (instance_name),
		CONSTRAINT fk_agent_conn_agent FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id CHAR(36) NOT NULL PRIMARY KEY,
		agent_id CHAR(36) NOT NULL,
		contact_id VARCHAR(255) NOT NULL,
		contact_name VARCHAR(255) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		INDEX idx_conversations_contact (agent_id, contact_id, status),
		INDEX idx_conversations_updated_at (updated_at),
		CONSTRAINT fk_conversations_agent FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS messages (
		id CHAR(36) NOT NULL PRIMARY KEY,
		conversation_id CHAR(36) NOT NULL,
		agent_id CHAR(36) NOT NULL,
		content MEDIUMTEXT NOT NULL,
		direction VARCHAR(16) NOT NULL,
		sent_at DATETIME(6) NOT NULL,
		provider_message_id VARCHAR(255) NULL,
		external_id VARCHAR(255) NULL,
		INDEX idx_messages_conversation (conversation_id, sent_at),
		INDEX idx_messages_agent_sent (agent_id, sent_at),
		CONSTRAINT fk_messages_conversation FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE,
		CONSTRAINT fk_messages_agent FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS processed_events (
		event_key VARCHAR(255) NOT NULL PRIMARY KEY,
		created_at DATETIME(6) NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id CHAR(36) NOT NULL PRIMARY KEY,
		agent_id CHAR(36) NOT NULL,
		conversation_id CHAR(36) NULL,
		title VARCHAR(255) NOT NULL,
		start_time DATETIME(6) NOT NULL,
		status VARCHAR(32) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		CONSTRAINT fk_appointments_agent FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE,
		CONSTRAINT fk_appointments_conversation FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS daily_reports (
		id CHAR(36) NOT NULL PRIMARY KEY,
		organization_id CHAR(36) NOT NULL,
		report_date CHAR(10) NOT NULL,
		total_messages INT NOT NULL,
		total_conversations INT NOT NULL,
		total_appointments INT NOT NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uniq_daily_reports_org_date (organization_id, report_date),
		CONSTRAINT fk_daily_reports_org FOREIGN KEY (organization_id) REFERENCES organizations(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}
