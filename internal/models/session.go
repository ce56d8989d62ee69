package models

import "time"

// SessionStatus enumerates the lifecycle states of a tutoring session.
type SessionStatus string

const (
	SessionPending    SessionStatus = "pending"
	SessionApproved   SessionStatus = "approved"
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionCancelled  SessionStatus = "cancelled"
	SessionRejected   SessionStatus = "rejected"
	SessionDisputed   SessionStatus = "disputed"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionPending, SessionApproved, SessionInProgress, SessionCompleted,
		SessionCancelled, SessionRejected, SessionDisputed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled || s == SessionRejected
}

// SessionMode describes where a session takes place.
type SessionMode string

const (
	ModeOnline  SessionMode = "online"
	ModeOffline SessionMode = "offline"
	ModeHybrid  SessionMode = "hybrid"
)

// SessionAction names a lifecycle operation.
type SessionAction string

const (
	ActionBook     SessionAction = "book"
	ActionApprove  SessionAction = "approve"
	ActionReject   SessionAction = "reject"
	ActionCancel   SessionAction = "cancel"
	ActionStart    SessionAction = "start"
	ActionComplete SessionAction = "complete"
	ActionDispute  SessionAction = "dispute"
	ActionResolve  SessionAction = "resolve"
)

// ActorRole is the capacity in which somebody acts on a session.
type ActorRole string

const (
	ActorStudent ActorRole = "student"
	ActorTeacher ActorRole = "teacher"
	ActorAdmin   ActorRole = "admin"
	ActorSystem  ActorRole = "system"
)

// Actor identifies who requested a transition. System actors have no user.
type Actor struct {
	UserID string
	Role   UserRole
	System bool
}

// SystemActor is used by background jobs.
var SystemActor = Actor{System: true}

// ActorFromClaims builds an actor from an authenticated request.
func ActorFromClaims(claims *JWTClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}
}

// Session is a booked tutoring session. CreditAmount is frozen at booking.
type Session struct {
	ID                 int64          `db:"id" json:"id"`
	TeacherID          string         `db:"teacher_id" json:"teacher_id"`
	StudentID          string         `db:"student_id" json:"student_id"`
	Title              string         `db:"title" json:"title"`
	Skill              string         `db:"skill" json:"skill"`
	Notes              string         `db:"notes" json:"notes"`
	Status             SessionStatus  `db:"status" json:"status"`
	Duration           float64        `db:"duration" json:"duration"`
	CreditAmount       Credits        `db:"credit_amount" json:"credit_amount"`
	CreditHeld         bool           `db:"credit_held" json:"credit_held"`
	TeacherConfirmed   bool           `db:"teacher_confirmed" json:"teacher_confirmed"`
	StudentConfirmed   bool           `db:"student_confirmed" json:"student_confirmed"`
	Mode               SessionMode    `db:"mode" json:"mode"`
	Location           *string        `db:"location" json:"location,omitempty"`
	MeetingLink        *string        `db:"meeting_link" json:"meeting_link,omitempty"`
	ScheduledAt        *time.Time     `db:"scheduled_at" json:"scheduled_at"`
	RejectionReason    *string        `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CancellationReason *string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	DisputeReason      *string        `db:"dispute_reason" json:"dispute_reason,omitempty"`
	Resolution         *SettleOutcome `db:"resolution" json:"resolution,omitempty"`
	ResolutionNote     *string        `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedBy         *string        `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt         *time.Time     `db:"resolved_at" json:"resolved_at,omitempty"`
	Version            int            `db:"version" json:"version"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

// Counterpart returns the other party for the given participant.
func (s *Session) Counterpart(userID string) string {
	if userID == s.TeacherID {
		return s.StudentID
	}
	return s.TeacherID
}

// SessionTransition is the append-only audit record of a state change.
// FromStatus is nil for the booking record.
type SessionTransition struct {
	ID         string         `db:"id" json:"id"`
	SessionID  int64          `db:"session_id" json:"session_id"`
	FromStatus *SessionStatus `db:"from_status" json:"from_status"`
	ToStatus   SessionStatus  `db:"to_status" json:"to_status"`
	Action     SessionAction  `db:"action" json:"action"`
	ActorID    *string        `db:"actor_id" json:"actor_id"`
	ActorRole  ActorRole      `db:"actor_role" json:"actor_role"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}

// SessionFilter narrows session listings. ParticipantID restricts results to
// sessions the user takes part in; Role further limits to one side.
type SessionFilter struct {
	ParticipantID string
	Role          *ActorRole
	Status        *SessionStatus
	Page          int
	PageSize      int
}

// SessionStatusCount is one row of the admin status breakdown.
type SessionStatusCount struct {
	Status SessionStatus `db:"status" json:"status"`
	Count  int           `db:"count" json:"count"`
}
