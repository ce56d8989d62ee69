package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// NotificationType identifies the event a notification reports.
type NotificationType string

const (
	NotifySessionRequested NotificationType = "session.requested"
	NotifySessionApproved  NotificationType = "session.approved"
	NotifySessionRejected  NotificationType = "session.rejected"
	NotifySessionCancelled NotificationType = "session.cancelled"
	NotifySessionStarted   NotificationType = "session.started"
	NotifySessionCompleted NotificationType = "session.completed"
	NotifySessionDisputed  NotificationType = "session.disputed"
	NotifySessionResolved  NotificationType = "session.resolved"
	NotifyEndorsed         NotificationType = "endorsement.received"
	NotifyCreditsGranted   NotificationType = "credits.granted"
)

// NotificationChannel is a delivery mechanism.
type NotificationChannel string

const (
	ChannelInApp NotificationChannel = "in_app"
	ChannelEmail NotificationChannel = "email"
)

// Notification is a persisted in-app message for one recipient.
type Notification struct {
	ID          string           `db:"id" json:"id"`
	RecipientID string           `db:"recipient_id" json:"recipient_id"`
	Type        NotificationType `db:"type" json:"type"`
	SessionID   *int64           `db:"session_id" json:"session_id,omitempty"`
	Payload     types.JSONText   `db:"payload" json:"payload"`
	ReadAt      *time.Time       `db:"read_at" json:"read_at,omitempty"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
}
