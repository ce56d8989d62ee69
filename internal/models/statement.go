package models

import "time"

// StatementFormat is the rendering format of a credit statement.
type StatementFormat string

const (
	StatementCSV StatementFormat = "csv"
	StatementPDF StatementFormat = "pdf"
)

// Statement describes a generated, downloadable credit statement.
type Statement struct {
	Format    StatementFormat `json:"format"`
	URL       string          `json:"url"`
	Entries   int             `json:"entries"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// DashboardSummary is the admin overview.
type DashboardSummary struct {
	SessionsByStatus []SessionStatusCount `json:"sessions_by_status"`
	OpenDisputes     int                  `json:"open_disputes"`
	PendingReports   int                  `json:"pending_reports"`
	CreditsInEscrow  Credits              `json:"credits_in_escrow"`
	CreditsInWallets Credits              `json:"credits_in_wallets"`
	System           SystemMetrics        `json:"system"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// SystemMetrics is a point-in-time snapshot of process counters.
type SystemMetrics struct {
	RequestsTotal            uint64  `json:"requests_total"`
	AverageRequestDurationMs float64 `json:"average_request_duration_ms"`
	CacheHitRatio            float64 `json:"cache_hit_ratio"`
	TransitionsTotal         uint64  `json:"transitions_total"`
	TransitionConflicts      uint64  `json:"transition_conflicts"`
	NotificationsSent        uint64  `json:"notifications_sent"`
	Goroutines               int     `json:"goroutines"`
}
