package service

import (
	"context"
	"testing"
	"time"

	"github.com/MaksM89/equarium/internal/domain"
	"github.com/MaksM89/equarium/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	store := newFakeStore()
	svc := NewUserService(store, NewAuditService())
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Fullname)
	assert.NotEqual(t, "secret-password", user.HashedPassword)

	// New accounts start with the provisioned balance.
	balance, err := store.GetBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000.00", domain.FormatMoney(balance))

	_, err = svc.Register(ctx, "alice", "another-password")
	assert.ErrorIs(t, err, models.ErrUsernameTaken)

	_, err = svc.Register(ctx, "   ", "password")
	require.Error(t, err)
	_, err = svc.Register(ctx, "bob", "")
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	store := newFakeStore()
	svc := NewUserService(store, NewAuditService())
	ctx := context.Background()

	registered, err := svc.Register(ctx, "alice", "secret-password")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "alice", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	// Unknown user and wrong password collapse into the same error.
	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "secret-password")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestChangePasswordRevokesTokens(t *testing.T) {
	store := newFakeStore()
	svc := NewUserService(store, NewAuditService())
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "old-password")
	require.NoError(t, err)

	issuedAt := store.clock
	_, err = svc.CurrentUser(ctx, user.ID, issuedAt)
	require.NoError(t, err)

	require.NoError(t, svc.ChangePassword(ctx, user.ID, "old-password", "new-password"))

	// The old token predates the password change and is now rejected.
	_, err = svc.CurrentUser(ctx, user.ID, issuedAt)
	assert.ErrorIs(t, err, models.ErrTokenRevoked)

	// A token issued after the change is accepted.
	_, err = svc.CurrentUser(ctx, user.ID, store.clock.Add(time.Second))
	require.NoError(t, err)

	// Only the new password authenticates.
	_, err = svc.Authenticate(ctx, "alice", "old-password")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "alice", "new-password")
	require.NoError(t, err)

	require.Len(t, store.auditLog, 1)
	assert.Equal(t, "password.change", store.auditLog[0].Action)
}

func TestChangePasswordRejectsWrongOld(t *testing.T) {
	store := newFakeStore()
	svc := NewUserService(store, NewAuditService())
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "old-password")
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, user.ID, "wrong", "new-password")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	err = svc.ChangePassword(ctx, user.ID, "old-password", "")
	require.Error(t, err)
}

func TestCurrentUserUnknown(t *testing.T) {
	store := newFakeStore()
	svc := NewUserService(store, NewAuditService())

	_, err := svc.CurrentUser(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}
