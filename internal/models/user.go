package models

import "time"

// UserRole represents the available roles for the RBAC system. Teacher and
// student are per-session roles, not account roles.
type UserRole string

const (
	RoleMember UserRole = "MEMBER"
	RoleAdmin  UserRole = "ADMIN"
)

// User represents an application user stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	HourlyRate   Credits    `db:"hourly_rate" json:"hourly_rate"`
	Bio          string     `db:"bio" json:"bio"`
	AvatarURL    *string    `db:"avatar_url" json:"avatar_url,omitempty"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// PublicProfile is the view of a user other members are allowed to see.
type PublicProfile struct {
	ID         string    `json:"id"`
	FullName   string    `json:"full_name"`
	HourlyRate Credits   `json:"hourly_rate"`
	Bio        string    `json:"bio"`
	AvatarURL  *string   `json:"avatar_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Public strips private fields from the user.
func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:         u.ID,
		FullName:   u.FullName,
		HourlyRate: u.HourlyRate,
		Bio:        u.Bio,
		AvatarURL:  u.AvatarURL,
		CreatedAt:  u.CreatedAt,
	}
}

// Author is the tagged record embedded in community content. FullName is
// nil when the account has been deactivated. Queries select its columns as
// "author.id", "author.full_name" and "author.avatar_url".
type Author struct {
	ID        string  `db:"id" json:"id"`
	FullName  *string `db:"full_name" json:"full_name"`
	AvatarURL *string `db:"avatar_url" json:"avatar_url,omitempty"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}

// NormalizePage clamps paging input to sane defaults.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}
	return page, size
}
