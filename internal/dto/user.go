package dto

import "github.com/skillswap/timebank-api/internal/models"

// UpdateProfileRequest captures PATCH /users/me. Nil fields are left unchanged.
type UpdateProfileRequest struct {
	FullName   *string         `json:"full_name" validate:"omitempty,min=2,max=120"`
	Bio        *string         `json:"bio" validate:"omitempty,max=2000"`
	AvatarURL  *string         `json:"avatar_url" validate:"omitempty,url,max=500"`
	HourlyRate *models.Credits `json:"hourly_rate" validate:"omitempty,gte=0,lte=10000"`
}
