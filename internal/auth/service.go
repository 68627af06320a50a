package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"casper-chat/internal/apperrors"
	"casper-chat/internal/config"
	"casper-chat/internal/database"
	"casper-chat/internal/models"
	"casper-chat/pkg/logger"
)

const minPasswordLength = 6

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.]{3,30}$`)
)

type Service struct {
	db        database.UserRepository
	tokens    *TokenManager
	adminHash []byte
}

// NewService builds the auth service. An empty admin password disables
// admin login.
func NewService(db database.UserRepository, cfg *config.Config) (*Service, error) {
	s := &Service{
		db:     db,
		tokens: NewTokenManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpiresIn),
	}

	if cfg.Admin.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Admin.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		s.adminHash = hash
	} else {
		logger.Warn("ADMIN_PASSWORD is not set, admin login is disabled")
	}
	return s, nil
}

func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

func (s *Service) Register(ctx context.Context, req *models.RegisterRequest) (*models.LoginResponse, error) {
	if err := validateRegistrationRequest(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.db.CreateUser(ctx, &models.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	})
	if err != nil {
		return nil, apperrors.Store("create user", err)
	}

	token, err := s.tokens.Generate(user.ID, user.Username, false)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	logger.Info("User %s registered", user.Username)
	user.PasswordHash = ""
	return &models.LoginResponse{Token: token, User: user}, nil
}

// Login authenticates by username or email. A blocked account fails with
// Forbidden even when the password is correct.
func (s *Service) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	identifier := strings.TrimSpace(req.Username)
	lookup := s.db.GetUserByUsername
	if identifier == "" {
		identifier = strings.TrimSpace(req.Email)
		lookup = s.db.GetUserByEmail
	}
	if identifier == "" || req.Password == "" {
		return nil, apperrors.Validation("username or email and password are required")
	}

	user, err := lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Auth("invalid credentials")
		}
		return nil, apperrors.Store("get user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, apperrors.Auth("invalid credentials")
	}

	if user.Blocked {
		logger.Warn("Blocked user %s attempted to log in", user.Username)
		return nil, apperrors.Forbidden("account is blocked")
	}

	token, err := s.tokens.Generate(user.ID, user.Username, false)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	// Remove sensitive data
	user.PasswordHash = ""
	return &models.LoginResponse{Token: token, User: user}, nil
}

func (s *Service) AdminLogin(ctx context.Context, req *models.AdminLoginRequest) (*models.LoginResponse, error) {
	if s.adminHash == nil {
		return nil, apperrors.Forbidden("admin login is disabled")
	}
	if req.Password == "" {
		return nil, apperrors.Validation("password is required")
	}
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(req.Password)); err != nil {
		return nil, apperrors.Auth("invalid admin password")
	}

	token, err := s.tokens.Generate(0, AdminUsername, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	logger.Info("Admin logged in")
	return &models.LoginResponse{Token: token}, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return s.tokens.Validate(tokenString)
}

func validateRegistrationRequest(req *models.RegisterRequest) error {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	if req.Username == "" || req.Email == "" || req.Password == "" {
		return apperrors.Validation("missing required fields")
	}
	if !usernameRegex.MatchString(req.Username) {
		return apperrors.Validation("username must be 3-30 characters of letters, digits, '_' or '.'")
	}
	if strings.EqualFold(req.Username, AdminUsername) {
		return apperrors.Validation("username %q is reserved", req.Username)
	}
	if !emailRegex.MatchString(req.Email) {
		return apperrors.Validation("invalid email format")
	}
	if len(req.Password) < minPasswordLength {
		return apperrors.Validation("password must be at least %d characters long", minPasswordLength)
	}
	return nil
}

// ValidUsername reports whether name could have been registered.
func ValidUsername(name string) bool {
	return usernameRegex.MatchString(name)
}
