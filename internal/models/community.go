package models

import "time"

// ForumCategory groups forum threads.
type ForumCategory struct {
	ID          string `db:"id" json:"id"`
	Slug        string `db:"slug" json:"slug"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	Position    int    `db:"position" json:"position"`
	ThreadCount int    `db:"thread_count" json:"thread_count"`
}

// ForumThread is a discussion topic.
type ForumThread struct {
	ID          string     `db:"id" json:"id"`
	CategoryID  string     `db:"category_id" json:"category_id"`
	Title       string     `db:"title" json:"title"`
	Body        string     `db:"body" json:"body"`
	ReplyCount  int        `db:"reply_count" json:"reply_count"`
	LastReplyAt *time.Time `db:"last_reply_at" json:"last_reply_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	Author      Author     `db:"author" json:"author"`
}

// ForumReply is a post inside a thread.
type ForumReply struct {
	ID        string    `db:"id" json:"id"`
	ThreadID  string    `db:"thread_id" json:"thread_id"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Author    Author    `db:"author" json:"author"`
}

// ThreadFilter narrows thread listings.
type ThreadFilter struct {
	CategoryID string
	Search     string
	Page       int
	PageSize   int
}

// Story is a member-written success story.
type Story struct {
	ID           string    `db:"id" json:"id"`
	Title        string    `db:"title" json:"title"`
	Body         string    `db:"body" json:"body"`
	LikeCount    int       `db:"like_count" json:"like_count"`
	CommentCount int       `db:"comment_count" json:"comment_count"`
	LikedByMe    bool      `db:"liked_by_me" json:"liked_by_me"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	Author       Author    `db:"author" json:"author"`
}

// StoryComment is a comment on a story.
type StoryComment struct {
	ID        string    `db:"id" json:"id"`
	StoryID   string    `db:"story_id" json:"story_id"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Author    Author    `db:"author" json:"author"`
}

// Endorsement vouches for a member's skill. One per endorser, endorsee and skill.
type Endorsement struct {
	ID         string    `db:"id" json:"id"`
	EndorseeID string    `db:"endorsee_id" json:"endorsee_id"`
	Skill      string    `db:"skill" json:"skill"`
	Message    string    `db:"message" json:"message"`
	SessionID  *int64    `db:"session_id" json:"session_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	Author     Author    `db:"author" json:"endorser"`
}

// SkillEndorsementCount aggregates endorsements per skill.
type SkillEndorsementCount struct {
	Skill string `db:"skill" json:"skill"`
	Count int    `db:"count" json:"count"`
}

// ReportStatus is the moderation state of a community report.
type ReportStatus string

const (
	ReportPending   ReportStatus = "pending"
	ReportResolved  ReportStatus = "resolved"
	ReportDismissed ReportStatus = "dismissed"
)

// ReportTargetType names what a report points at.
type ReportTargetType string

const (
	TargetThread  ReportTargetType = "thread"
	TargetReply   ReportTargetType = "reply"
	TargetStory   ReportTargetType = "story"
	TargetComment ReportTargetType = "comment"
	TargetUser    ReportTargetType = "user"
)

// Report is a community moderation report.
type Report struct {
	ID             string           `db:"id" json:"id"`
	ReporterID     string           `db:"reporter_id" json:"reporter_id"`
	TargetType     ReportTargetType `db:"target_type" json:"target_type"`
	TargetID       string           `db:"target_id" json:"target_id"`
	Reason         string           `db:"reason" json:"reason"`
	Status         ReportStatus     `db:"status" json:"status"`
	ResolutionNote *string          `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedBy     *string          `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time       `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
}

// ReportFilter narrows admin report listings.
type ReportFilter struct {
	Status   *ReportStatus
	Page     int
	PageSize int
}
