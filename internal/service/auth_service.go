package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/domain"
	"github.com/spec-kit/support-desk/internal/repository"
	apperrors "github.com/spec-kit/support-desk/pkg/util"
)

const (
	minPasswordLength = 6
	maxPasswordBytes  = 72
)

var fieldValidator = validator.New()

// AuthService coordinates registration and login flows.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
}

// AuthDependencies encapsulates collaborators for the auth service.
type AuthDependencies struct {
	UserRepo repository.UserRepository
	Logger   *zap.Logger
}

// AuthResult is a user together with a freshly issued token.
type AuthResult struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// RegisterInput describes self-service sign up.
type RegisterInput struct {
	Username string
	Email    string
	FullName string
	Password string
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      deps.UserRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes),
		bcryptCost: cfg.Auth.BcryptCost,
		logger:     logger,
	}
}

// Register creates an active USER account and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AuthResult, error) {
	user := &domain.User{
		Username: strings.TrimSpace(input.Username),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		FullName: strings.TrimSpace(input.FullName),
		Role:     domain.RoleUser,
		Active:   true,
	}
	if err := validateAccount(user, input.Password, true); err != nil {
		return nil, err
	}
	if err := s.createUser(ctx, user, input.Password); err != nil {
		return nil, err
	}
	return s.issue(user)
}

// Login authenticates by username or email.
func (s *AuthService) Login(ctx context.Context, login, password string) (*AuthResult, error) {
	login = strings.TrimSpace(login)
	var (
		user *domain.User
		err  error
	)
	if strings.Contains(login, "@") {
		user, err = s.users.GetByEmail(ctx, strings.ToLower(login))
	} else {
		user, err = s.users.GetByUsername(ctx, login)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewUnauthorized("invalid credentials")
		}
		return nil, apperrors.NewStorageError(err)
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, apperrors.NewUnauthorized("invalid credentials")
	}
	if !user.Active {
		return nil, apperrors.NewUnauthorized("account disabled")
	}
	s.upgradeHash(ctx, user, password)
	return s.issue(user)
}

// upgradeHash re-hashes a verified password stored under an outdated bcrypt
// cost. Failures only cost a slower login next time.
func (s *AuthService) upgradeHash(ctx context.Context, user *domain.User, password string) {
	if !auth.NeedsRehash(user.PasswordHash, s.bcryptCost) {
		return
	}
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		s.logger.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	previous := user.PasswordHash
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		user.PasswordHash = previous
		s.logger.Warn("password rehash not stored", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// EnsureAdmin creates the bootstrap administrator when no account holds its
// username yet. An empty password disables bootstrapping.
func (s *AuthService) EnsureAdmin(ctx context.Context, cfg config.AuthConfig) error {
	if cfg.AdminPassword == "" {
		s.logger.Info("bootstrap admin disabled; AUTH_ADMIN_PASSWORD not set")
		return nil
	}
	_, err := s.users.GetByUsername(ctx, cfg.AdminUsername)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewStorageError(err)
	}

	admin := &domain.User{
		Username: cfg.AdminUsername,
		Email:    strings.ToLower(cfg.AdminEmail),
		FullName: "Administrator",
		Role:     domain.RoleAdmin,
		Active:   true,
	}
	if err := s.createUser(ctx, admin, cfg.AdminPassword); err != nil {
		return err
	}
	s.logger.Info("bootstrap admin created", zap.String("username", admin.Username))
	return nil
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

func (s *AuthService) createUser(ctx context.Context, user *domain.User, password string) error {
	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	user.PasswordHash = hash
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return apperrors.NewConflict("username or email already in use", map[string]any{
				"username": user.Username,
				"email":    user.Email,
			})
		}
		return apperrors.NewStorageError(err)
	}
	return nil
}

func (s *AuthService) issue(user *domain.User) (*AuthResult, error) {
	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	return &AuthResult{User: user, Token: token, ExpiresAt: exp}, nil
}

// validateAccount checks the fields shared by sign up and admin user management.
func validateAccount(user *domain.User, password string, passwordRequired bool) error {
	details := map[string]any{}
	if user.Username == "" {
		details["username"] = "username is required"
	}
	if err := fieldValidator.Var(user.Email, "required,email"); err != nil {
		details["email"] = "a valid email is required"
	}
	if passwordRequired || password != "" {
		switch {
		case len(password) < minPasswordLength:
			details["password"] = "password must be at least 6 characters"
		case len(password) > maxPasswordBytes:
			details["password"] = "password must be at most 72 bytes"
		}
	}
	if !user.Role.Valid() {
		details["role"] = "role must be one of USER, SUPPORT_AGENT, ADMIN"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid account", details)
	}
	return nil
}
