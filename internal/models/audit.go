package models

import "time"

// AuditAction constants represent account and moderation actions. Session
// state changes are recorded separately as SessionTransition rows.
const (
	AuditActionRegister          = "REGISTER"
	AuditActionLogin             = "LOGIN"
	AuditActionLogout            = "LOGOUT"
	AuditActionPasswordChange    = "PASSWORD_CHANGE"
	AuditActionProfileUpdate     = "PROFILE_UPDATE"
	AuditActionCreditGrant       = "CREDIT_GRANT"
	AuditActionSessionResolve    = "SESSION_RESOLVE"
	AuditActionReportResolve     = "REPORT_RESOLVE"
	AuditActionStatementExport   = "STATEMENT_EXPORT"
	AuditActionStatementDownload = "STATEMENT_DOWNLOAD"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
