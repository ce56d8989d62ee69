package dto

import "github.com/skillswap/timebank-api/internal/models"

// CreateThreadRequest captures POST /forum/threads.
type CreateThreadRequest struct {
	CategoryID string `json:"category_id" validate:"required"`
	Title      string `json:"title" validate:"required,min=5,max=200"`
	Body       string `json:"body" validate:"required,min=1,max=10000"`
}

// CreateReplyRequest captures POST /forum/replies.
type CreateReplyRequest struct {
	ThreadID string `json:"thread_id" validate:"required"`
	Body     string `json:"body" validate:"required,min=1,max=5000"`
}

// CreateStoryRequest captures POST /stories.
type CreateStoryRequest struct {
	Title string `json:"title" validate:"required,min=5,max=200"`
	Body  string `json:"body" validate:"required,min=20,max=20000"`
}

// CreateCommentRequest captures POST /stories/{id}/comments.
type CreateCommentRequest struct {
	Body string `json:"body" validate:"required,min=1,max=2000"`
}

// CreateEndorsementRequest captures POST /endorsements.
type CreateEndorsementRequest struct {
	EndorseeID string `json:"endorsee_id" validate:"required"`
	Skill      string `json:"skill" validate:"required,max=80"`
	Message    string `json:"message" validate:"max=1000"`
	SessionID  *int64 `json:"session_id"`
}

// UserEndorsements is the response of GET /endorsements/users/{id}.
type UserEndorsements struct {
	UserID       string                         `json:"user_id"`
	Skills       []models.SkillEndorsementCount `json:"skills"`
	Endorsements []models.Endorsement           `json:"endorsements"`
}

// CreateReportRequest captures POST /reports.
type CreateReportRequest struct {
	TargetType models.ReportTargetType `json:"target_type" validate:"required,oneof=thread reply story comment user"`
	TargetID   string                  `json:"target_id" validate:"required"`
	Reason     string                  `json:"reason" validate:"required,max=2000"`
}

// ModerateReportRequest captures POST /admin/reports/{id}/resolve|dismiss.
type ModerateReportRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

// ListQuery binds generic paging parameters.
type ListQuery struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Search   string `form:"search"`
}
