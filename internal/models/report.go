package models

import "time"

// DailyReport aggregates one organization's activity for a UTC day.
type DailyReport struct {
	ID                 string    `json:"id"`
	OrganizationID     string    `json:"organization_id"`
	ReportDate         string    `json:"report_date"`
	TotalMessages      int       `json:"total_messages"`
	TotalConversations int       `json:"total_conversations"`
	TotalAppointments  int       `json:"total_appointments"`
	CreatedAt          time.Time `json:"created_at"`
}
