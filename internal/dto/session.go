package dto

import (
	"time"

	"github.com/skillswap/timebank-api/internal/models"
)

// BookSessionRequest captures POST /sessions.
type BookSessionRequest struct {
	TeacherID   string             `json:"teacher_id" validate:"required"`
	Title       string             `json:"title" validate:"required,min=3,max=160"`
	Skill       string             `json:"skill" validate:"required,max=80"`
	Notes       string             `json:"notes" validate:"max=2000"`
	Duration    float64            `json:"duration" validate:"required,gte=0.5,lte=4"`
	Mode        models.SessionMode `json:"mode" validate:"required,oneof=online offline hybrid"`
	Location    *string            `json:"location" validate:"omitempty,max=255"`
	MeetingLink *string            `json:"meeting_link" validate:"omitempty,url,max=500"`
	ScheduledAt *time.Time         `json:"scheduled_at"`
}

// SessionReasonRequest carries the free-text reason for reject, cancel and dispute.
type SessionReasonRequest struct {
	Reason string `json:"reason"`
}

// ResolveSessionRequest captures POST /admin/sessions/{id}/resolve.
type ResolveSessionRequest struct {
	Resolution models.SettleOutcome `json:"resolution" validate:"required,oneof=payout refund"`
	Note       string               `json:"note" validate:"max=2000"`
}

// SessionListQuery binds GET /sessions query parameters.
type SessionListQuery struct {
	Status   string `form:"status"`
	Role     string `form:"role"`
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
}
