package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MaksM89/equarium/internal/models"
	"github.com/MaksM89/equarium/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// New users are provisioned with a starting balance so transfers can be
// exercised immediately.
var initialBalance = decimal.New(100000, -2) // 1000.00

// UserService handles registration, password verification and the token
// revocation cutoff. It never mutates balances; that is the transfer
// executor's job alone.
type UserService struct {
	store QueryStore
	audit *AuditService
}

func NewUserService(store QueryStore, audit *AuditService) *UserService {
	return &UserService{store: store, audit: audit}
}

func (s *UserService) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if password == "" {
		return nil, errors.New("password is required")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:             uuid.New(),
		Fullname:       username,
		HashedPassword: string(hashed),
		Balance:        initialBalance,
	}
	if err := s.store.Queries().CreateUser(ctx, user); err != nil {
		return nil, err
	}
	zap.L().Info("user registered", zap.String("user_id", user.ID.String()), zap.String("username", username))
	return user, nil
}

// Authenticate verifies a username/password pair. Failures are collapsed
// into ErrInvalidCredentials so callers cannot probe for usernames.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.store.Queries().GetUserByName(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)) != nil {
		return nil, models.ErrInvalidCredentials
	}
	return user, nil
}

// CurrentUser resolves an authenticated user and enforces the revocation
// cutoff: tokens issued before the last password change are rejected.
func (s *UserService) CurrentUser(ctx context.Context, userID uuid.UUID, tokenIssuedAt time.Time) (*models.User, error) {
	user, err := s.store.Queries().GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if tokenIssuedAt.Before(user.PasswordSetTime.Truncate(time.Second)) {
		return nil, models.ErrTokenRevoked
	}
	return user, nil
}

// ChangePassword rehashes the password and bumps the revocation cutoff, so
// previously issued tokens stop working.
func (s *UserService) ChangePassword(ctx context.Context, userID uuid.UUID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return errors.New("password is required")
	}
	return s.store.RunInTx(ctx, func(q repository.Querier) error {
		user, err := q.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(oldPassword)) != nil {
			return models.ErrInvalidCredentials
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		if err := q.UpdateUserPassword(ctx, userID, string(hashed)); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "user", userID.String(), "password.change", "", "")
	})
}
