package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"agentdesk/internal/config"
	"agentdesk/internal/storage"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Status summarizes an organization's consumption for the current month.
type Status struct {
	Limit     int     `json:"limit"`
	Used      int     `json:"used"`
	Remaining int     `json:"remaining"`
	Percent   float64 `json:"percent"`
	Unlimited bool    `json:"unlimited"`
}

type Options struct {
	// FailurePolicy is config.QuotaFailOpen or config.QuotaFailClosed.
	FailurePolicy string
	// DefaultLimit applies when the organization has no plan at all.
	DefaultLimit int
	Logger       *slog.Logger
}

// Service enforces monthly message caps per organization.
type Service struct {
	db           *storage.DB
	failClosed   bool
	defaultLimit int
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(db *storage.DB, opts Options) *Service {
	s := &Service{
		db:           db,
		failClosed:   opts.FailurePolicy == config.QuotaFailClosed,
		defaultLimit: opts.DefaultLimit,
		logger:       opts.Logger,
		now:          time.Now,
	}
	if s.defaultLimit == 0 {
		s.defaultLimit = 100
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// unlimited is the sentinel cap for plans without a monthly limit.
const unlimited = -1

// CheckQuota reports whether orgID may receive another generated reply this month.
// Lookup failures are resolved by the configured failure policy.
func (s *Service) CheckQuota(ctx context.Context, orgID string) Decision {
	limit, err := s.monthlyLimit(ctx, orgID)
	if err != nil {
		return s.onFailure(ctx, orgID, err)
	}
	if limit == unlimited {
		return Decision{Allowed: true}
	}

	agents, err := s.agentCount(ctx, orgID)
	if err != nil {
		return s.onFailure(ctx, orgID, err)
	}
	if agents == 0 {
		return Decision{Allowed: true}
	}

	used, err := s.monthCount(ctx, orgID)
	if err != nil {
		return s.onFailure(ctx, orgID, err)
	}
	if used >= limit {
		return Decision{Allowed: false, Reason: limitReason(limit)}
	}
	return Decision{Allowed: true}
}

func (s *Service) onFailure(ctx context.Context, orgID string, err error) Decision {
	s.logger.ErrorContext(ctx, "quota check failed", "organization_id", orgID, "fail_closed", s.failClosed, "error", err)
	if s.failClosed {
		return Decision{Allowed: false, Reason: "Não foi possível verificar o limite de mensagens. Tente novamente mais tarde."}
	}
	return Decision{Allowed: true}
}

func limitReason(limit int) string {
	return fmt.Sprintf("Limite de %d mensagens/mês atingido. Faça upgrade do plano para continuar enviando mensagens.", limit)
}

// Status returns limit and consumption for the current month.
func (s *Service) Status(ctx context.Context, orgID string) (Status, error) {
	limit, err := s.monthlyLimit(ctx, orgID)
	if err != nil {
		return Status{}, err
	}
	used, err := s.monthCount(ctx, orgID)
	if err != nil {
		return Status{}, err
	}
	if limit == unlimited {
		return Status{Limit: unlimited, Used: used, Remaining: unlimited, Unlimited: true}, nil
	}
	st := Status{Limit: limit, Used: used, Remaining: limit - used}
	if st.Remaining < 0 {
		st.Remaining = 0
	}
	if limit > 0 {
		st.Percent = float64(used) * 100 / float64(limit)
	} else {
		st.Percent = 100
	}
	return st, nil
}

// monthlyLimit resolves the cap from the newest active subscription, then the
// organization's plan, then the default. NULL or -1 means unlimited.
func (s *Service) monthlyLimit(ctx context.Context, orgID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT p.max_messages_per_month
		FROM subscriptions sub JOIN subscription_plans p ON p.id = sub.plan_id
		WHERE sub.organization_id = ? AND sub.status = 'active'
		ORDER BY sub.created_at DESC LIMIT 1`, orgID,
	).Scan(&max)
	if err == nil {
		return capFrom(max), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query subscription: %w", err)
	}

	var planID sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT o.subscription_plan_id, p.max_messages_per_month
		FROM organizations o LEFT JOIN subscription_plans p ON p.id = o.subscription_plan_id
		WHERE o.id = ?`, orgID,
	).Scan(&planID, &max)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("query organization plan: %w", err)
	}
	if err == nil && planID.Valid {
		return capFrom(max), nil
	}
	return s.defaultLimit, nil
}

func capFrom(v sql.NullInt64) int {
	if !v.Valid || v.Int64 < 0 {
		return unlimited
	}
	return int(v.Int64)
}

func (s *Service) agentCount(ctx context.Context, orgID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE organization_id = ?`, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return n, nil
}

// monthCount counts messages of both directions in the current UTC calendar month.
func (s *Service) monthCount(ctx context.Context, orgID string) (int, error) {
	start, end := monthBounds(s.now())
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m JOIN agents a ON a.id = m.agent_id
		WHERE a.organization_id = ? AND m.sent_at >= ? AND m.sent_at < ?`,
		orgID, start, end,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func monthBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
