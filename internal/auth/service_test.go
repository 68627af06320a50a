package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casper-chat/internal/apperrors"
	"casper-chat/internal/config"
	"casper-chat/internal/database"
	"casper-chat/internal/models"
)

func testConfig(adminPassword string) *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:    []byte("test-secret"),
			ExpiresIn: time.Hour,
			Issuer:    "casper-chat-test",
		},
		Admin: config.AdminConfig{Password: adminPassword},
	}
}

func newTestService(t *testing.T) (*Service, *database.MemoryDB) {
	t.Helper()
	db := database.NewMemoryDB()
	svc, err := NewService(db, testConfig("s3cret-admin"))
	require.NoError(t, err)
	return svc, db
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	resp, err := svc.Register(ctx, &models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Token)
	assert.Empty(t, resp.User.PasswordHash)

	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.False(t, claims.IsAdmin)

	byName, err := svc.Login(ctx, &models.LoginRequest{Username: "alice", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, byName.User.ID)

	byEmail, err := svc.Login(ctx, &models.LoginRequest{Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "alice", byEmail.User.Username)

	_, err = svc.Login(ctx, &models.LoginRequest{Username: "alice", Password: "wrong-pass"})
	assert.ErrorIs(t, err, apperrors.ErrAuth)

	_, err = svc.Login(ctx, &models.LoginRequest{Username: "nobody", Password: "secret1"})
	assert.ErrorIs(t, err, apperrors.ErrAuth)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	cases := []models.RegisterRequest{
		{Username: "", Email: "a@example.com", Password: "secret1"},
		{Username: "ab", Email: "a@example.com", Password: "secret1"},
		{Username: "al-ice", Email: "a@example.com", Password: "secret1"},
		{Username: "admin", Email: "a@example.com", Password: "secret1"},
		{Username: "alice", Email: "not-an-email", Password: "secret1"},
		{Username: "alice", Email: "a@example.com", Password: "short"},
	}
	for _, req := range cases {
		req := req
		_, err := svc.Register(ctx, &req)
		assert.ErrorIs(t, err, apperrors.ErrValidation, "%+v", req)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Register(ctx, &models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, &models.RegisterRequest{Username: "alice", Email: "other@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestBlockedUserCannotLogin(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	resp, err := svc.Register(ctx, &models.RegisterRequest{Username: "mallory", Email: "m@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = db.SetUserBlocked(ctx, resp.User.ID, true)
	require.NoError(t, err)

	_, err = svc.Login(ctx, &models.LoginRequest{Username: "mallory", Password: "secret1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestAdminLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	resp, err := svc.AdminLogin(ctx, &models.AdminLoginRequest{Password: "s3cret-admin"})
	require.NoError(t, err)
	claims, err := svc.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, AdminUsername, claims.Username)

	_, err = svc.AdminLogin(ctx, &models.AdminLoginRequest{Password: "guess"})
	assert.ErrorIs(t, err, apperrors.ErrAuth)

	disabled, err := NewService(database.NewMemoryDB(), testConfig(""))
	require.NoError(t, err)
	_, err = disabled.AdminLogin(ctx, &models.AdminLoginRequest{Password: "anything"})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}
