// Package reports aggregates daily per-organization activity.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"agentdesk/internal/metrics"
	"agentdesk/internal/models"
	"agentdesk/internal/storage"
	"agentdesk/internal/worker"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// ErrInvalidDate is returned when a report date filter is not YYYY-MM-DD.
var ErrInvalidDate = errors.New("invalid report date")

// Result is the outcome of one organization's report.
type Result struct {
	OrganizationID string `json:"organizationId"`
	Date           string `json:"date"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"`
}

// Summary is returned by a report run.
type Summary struct {
	Success          bool     `json:"success"`
	ReportsGenerated int      `json:"reportsGenerated"`
	Reports          []Result `json:"reports"`
}

type Service struct {
	db     *storage.DB
	pool   *worker.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds the report service. A nil pool aggregates sequentially.
func NewService(db *storage.DB, pool *worker.Pool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, pool: pool, logger: logger.With("component", "reports"), now: time.Now}
}

// GenerateYesterday builds reports for the previous UTC day.
func (s *Service) GenerateYesterday(ctx context.Context) (Summary, error) {
	return s.Generate(ctx, s.now().UTC().AddDate(0, 0, -1))
}

// Generate aggregates messages, new conversations and new appointments of the UTC day
// containing day for every organization and upserts one daily_reports row each.
func (s *Service) Generate(ctx context.Context, day time.Time) (Summary, error) {
	day = day.UTC()
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)
	date := start.Format(dateLayout)

	orgs, err := s.organizationIDs(ctx)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]Result, 0, len(orgs))
	)
	record := func(orgID string, err error) {
		res := Result{OrganizationID: orgID, Date: date, Success: err == nil}
		if err != nil {
			res.Error = err.Error()
			s.logger.ErrorContext(ctx, "daily report failed", "category", "query", "organization_id", orgID, "error", err)
		}
		metrics.RecordReport(err == nil)
		mu.Lock()
		results = append(results, res)
		mu.Unlock()
	}

	for _, orgID := range orgs {
		orgID := orgID
		run := func(ctx context.Context) error { return s.generateOne(ctx, orgID, date, start, end) }
		if s.pool == nil {
			record(orgID, run(ctx))
			continue
		}
		wg.Add(1)
		err := s.pool.Submit(worker.Job{
			Name: "daily-report:" + orgID,
			Run:  func(context.Context) error { return run(ctx) },
			Done: func(err error) {
				record(orgID, err)
				wg.Done()
			},
		})
		if err != nil {
			// queue full or stopped; do this one inline
			wg.Done()
			record(orgID, run(ctx))
		}
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].OrganizationID < results[j].OrganizationID })
	summary := Summary{Success: true, Reports: results}
	for _, r := range results {
		if r.Success {
			summary.ReportsGenerated++
		}
	}
	s.logger.InfoContext(ctx, "daily reports generated", "date", date, "organizations", len(orgs), "generated", summary.ReportsGenerated)
	return summary, nil
}

func (s *Service) organizationIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) generateOne(ctx context.Context, orgID, date string, start, end time.Time) error {
	report := models.DailyReport{OrganizationID: orgID, ReportDate: date}
	counts := []struct {
		dst   *int
		query string
	}{
		{&report.TotalMessages, `SELECT COUNT(*) FROM messages m JOIN agents a ON a.id = m.agent_id
			WHERE a.organization_id = ? AND m.sent_at >= ? AND m.sent_at < ?`},
		{&report.TotalConversations, `SELECT COUNT(*) FROM conversations c JOIN agents a ON a.id = c.agent_id
			WHERE a.organization_id = ? AND c.created_at >= ? AND c.created_at < ?`},
		{&report.TotalAppointments, `SELECT COUNT(*) FROM appointments p JOIN agents a ON a.id = p.agent_id
			WHERE a.organization_id = ? AND p.created_at >= ? AND p.created_at < ?`},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, orgID, start, end).Scan(c.dst); err != nil {
			return fmt.Errorf("count for report: %w", err)
		}
	}
	return s.upsert(ctx, report)
}

func (s *Service) upsert(ctx context.Context, r models.DailyReport) error {
	query := `INSERT INTO daily_reports (id, organization_id, report_date, total_messages, total_conversations, total_appointments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, report_date) DO UPDATE SET
			total_messages = excluded.total_messages,
			total_conversations = excluded.total_conversations,
			total_appointments = excluded.total_appointments`
	if s.db.Driver == storage.DriverMySQL {
		query = `INSERT INTO daily_reports (id, organization_id, report_date, total_messages, total_conversations, total_appointments, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				total_messages = VALUES(total_messages),
				total_conversations = VALUES(total_conversations),
				total_appointments = VALUES(total_appointments)`
	}
	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), r.OrganizationID, r.ReportDate,
		r.TotalMessages, r.TotalConversations, r.TotalAppointments, s.now().UTC())
	if err != nil {
		return fmt.Errorf("save daily report: %w", err)
	}
	return nil
}

// List returns an organization's reports between from and to (inclusive, YYYY-MM-DD,
// either may be empty), newest first.
func (s *Service) List(ctx context.Context, orgID, from, to string) ([]*models.DailyReport, error) {
	query := `SELECT id, organization_id, report_date, total_messages, total_conversations, total_appointments, created_at
		FROM daily_reports WHERE organization_id = ?`
	args := []any{orgID}
	if from != "" {
		if _, err := time.Parse(dateLayout, from); err != nil {
			return nil, ErrInvalidDate
		}
		query += ` AND report_date >= ?`
		args = append(args, from)
	}
	if to != "" {
		if _, err := time.Parse(dateLayout, to); err != nil {
			return nil, ErrInvalidDate
		}
		query += ` AND report_date <= ?`
		args = append(args, to)
	}
	query += ` ORDER BY report_date DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()
	var out []*models.DailyReport
	for rows.Next() {
		r := &models.DailyReport{}
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.ReportDate, &r.TotalMessages, &r.TotalConversations, &r.TotalAppointments, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
