package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
	"codebattle/internal/repository"
	"codebattle/internal/utils"
)

var (
	ErrBadCredentials = apperr.Validation("invalid username or password")

	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)
	handlePattern   = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,24}$`)
)

const minPasswordLength = 6

type UserService struct {
	users  repository.UserRepository
	tokens *utils.TokenManager
	logger *slog.Logger
}

func NewUserService(users repository.UserRepository, tokens *utils.TokenManager, logger *slog.Logger) *UserService {
	return &UserService{
		users:  users,
		tokens: tokens,
		logger: logger.With("component", "users"),
	}
}

func validateHandle(handle string) error {
	if handle != "" && !handlePattern.MatchString(handle) {
		return apperr.Validation("invalid Codeforces handle")
	}
	return nil
}

// Register creates an account. The handle may be left empty and set later.
func (s *UserService) Register(ctx context.Context, username, password, handle string) (*models.User, error) {
	username = strings.TrimSpace(username)
	handle = strings.TrimSpace(handle)
	if !usernamePattern.MatchString(username) {
		return nil, apperr.Validation("username must be 3-32 letters, digits or _.-")
	}
	if len(password) < minPasswordLength {
		return nil, apperr.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if err := validateHandle(handle); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Internal("hash password", err)
	}
	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Handle:       handle,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, repository.ErrUsernameTaken
		}
		return nil, err
	}
	s.logger.Info("user registered", "user_id", user.ID, "username", username)
	return user, nil
}

// Login checks the password and returns a signed token.
func (s *UserService) Login(ctx context.Context, username, password string) (string, *models.User, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", nil, ErrBadCredentials
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrBadCredentials
	}
	token, err := s.tokens.GenerateToken(user.ID, user.Username)
	if err != nil {
		return "", nil, apperr.Internal("issue token", err)
	}
	return token, user, nil
}

func (s *UserService) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) UpdateHandle(ctx context.Context, id, handle string) (*models.User, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, apperr.Validation("handle is required")
	}
	if err := validateHandle(handle); err != nil {
		return nil, err
	}
	return s.users.UpdateHandle(ctx, id, handle)
}
