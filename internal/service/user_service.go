package service

import (
	"context"
	"errors"
	"strings"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/policy"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

// UserService manages accounts on behalf of administrators.
type UserService struct {
	users      repository.UserRepository
	bcryptCost int
}

// UserCreateInput describes an account created by an administrator.
type UserCreateInput struct {
	Username string
	Email    string
	FullName string
	Password string
	Role     domain.Role
	Active   bool
}

// UserUpdateInput describes a partial account update. Nil fields are left untouched.
type UserUpdateInput struct {
	Email    *string
	FullName *string
	Role     *domain.Role
	Active   *bool
	Password *string
}

// NewUserService constructs the service.
func NewUserService(cfg config.Config, users repository.UserRepository) *UserService {
	return &UserService{users: users, bcryptCost: cfg.Auth.BcryptCost}
}

func requireAdmin(actor *domain.User) error {
	if err := requireCaller(actor); err != nil {
		return err
	}
	if !policy.CanManageUsers(actor) {
		return apperrors.NewForbidden("admin role required")
	}
	return nil
}

// CreateUser creates an account with any role.
func (s *UserService) CreateUser(ctx context.Context, actor *domain.User, input UserCreateInput) (*domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user := &domain.User{
		Username: strings.TrimSpace(input.Username),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		FullName: strings.TrimSpace(input.FullName),
		Role:     input.Role,
		Active:   input.Active,
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if err := validateAccount(user, input.Password, true); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	user.PasswordHash = hash
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewConflict("username or email already in use", map[string]any{"username": user.Username})
		}
		return nil, apperrors.NewStorageError(err)
	}
	return user, nil
}

// ListUsers returns every account.
func (s *UserService) ListUsers(ctx context.Context, actor *domain.User) ([]domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError(err)
	}
	return users, nil
}

// GetUser fetches one account.
func (s *UserService) GetUser(ctx context.Context, actor *domain.User, id string) (*domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "user", map[string]any{"user_id": id})
	}
	return user, nil
}

// UpdateUser applies a partial update. The username is immutable.
func (s *UserService) UpdateUser(ctx context.Context, actor *domain.User, id string, input UserUpdateInput) (*domain.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "user", map[string]any{"user_id": id})
	}

	password := ""
	if input.Email != nil {
		user.Email = strings.ToLower(strings.TrimSpace(*input.Email))
	}
	if input.FullName != nil {
		user.FullName = strings.TrimSpace(*input.FullName)
	}
	if input.Role != nil {
		user.Role = *input.Role
	}
	if input.Active != nil {
		user.Active = *input.Active
	}
	if input.Password != nil {
		password = *input.Password
		if password == "" {
			return nil, apperrors.NewValidationError("invalid account", map[string]any{"password": "password must not be empty"})
		}
	}
	if err := validateAccount(user, password, false); err != nil {
		return nil, err
	}
	if password != "" {
		hash, err := auth.HashPassword(password, s.bcryptCost)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		user.PasswordHash = hash
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, storeError(err, "user", map[string]any{"user_id": id})
	}
	return user, nil
}

// DeleteUser removes an account. Accounts that created tickets, comments or
// attachments cannot be removed; deactivate them instead.
func (s *UserService) DeleteUser(ctx context.Context, actor *domain.User, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if actor.ID == id {
		return apperrors.NewConflict("administrators cannot delete their own account", map[string]any{"user_id": id})
	}
	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.NewConflict("user is referenced by tickets; deactivate instead", map[string]any{"user_id": id})
		}
		return storeError(err, "user", map[string]any{"user_id": id})
	}
	return nil
}
