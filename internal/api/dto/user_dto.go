package dto

import (
	"time"

	"github.com/spec-kit/support-desk/internal/domain"
)

// UserRegisterRequest payload for new users.
type UserRegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"max=100"`
	Password string `json:"password" validate:"required,min=6"`
}

// UserLoginRequest payload for login. Login accepts a username or an email.
type UserLoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// CreateUserRequest payload for administrators.
type CreateUserRequest struct {
	Username string      `json:"username" validate:"required,min=3,max=50"`
	Email    string      `json:"email" validate:"required,email"`
	FullName string      `json:"full_name" validate:"max=100"`
	Password string      `json:"password" validate:"required,min=6"`
	Role     domain.Role `json:"role" validate:"omitempty,oneof=USER SUPPORT_AGENT ADMIN"`
	Active   *bool       `json:"active"`
}

// UpdateUserRequest payload. Omitted fields stay unchanged.
type UpdateUserRequest struct {
	Email    *string      `json:"email" validate:"omitempty,email"`
	FullName *string      `json:"full_name" validate:"omitempty,max=100"`
	Role     *domain.Role `json:"role" validate:"omitempty,oneof=USER SUPPORT_AGENT ADMIN"`
	Active   *bool        `json:"active"`
	Password *string      `json:"password" validate:"omitempty,min=6"`
}

// UserResponse hides credentials.
type UserResponse struct {
	ID        string      `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	FullName  string      `json:"full_name"`
	Role      domain.Role `json:"role"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
