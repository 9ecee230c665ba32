package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
	"github.com/yourusername/live-trivia/pkg/auth"
)

// MockPlayerRepo реализует repository.PlayerRepository
type MockPlayerRepo struct {
	mock.Mock
}

func (m *MockPlayerRepo) Create(ctx context.Context, player *entity.Player) error {
	args := m.Called(ctx, player)
	return args.Error(0)
}

func (m *MockPlayerRepo) GetByID(ctx context.Context, id string) (*entity.Player, error) {
	args := m.Called(ctx, id)
	if v := args.Get(0); v != nil {
		return v.(*entity.Player), args.Error(1)
	}
	return nil, args.Error(1)
}

func newAuthFixture(t *testing.T) (*AuthService, *MockPlayerRepo, *auth.JWTService) {
	t.Helper()
	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: "auth-service-test-secret"})
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("operator-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	repo := new(MockPlayerRepo)
	svc, err := NewAuthService(repo, jwtService, string(hash))
	require.NoError(t, err)
	return svc, repo, jwtService
}

func TestNewAuthService_RejectsBadHash(t *testing.T) {
	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: "auth-service-test-secret"})
	require.NoError(t, err)

	_, err = NewAuthService(new(MockPlayerRepo), jwtService, "plain-text")
	assert.Error(t, err)
}

func TestAuthService_RegisterPlayer(t *testing.T) {
	// Arrange
	svc, repo, jwtService := newAuthFixture(t)
	repo.On("Create", mock.Anything, mock.MatchedBy(func(p *entity.Player) bool {
		return p.Name == "Ana" && p.ID != ""
	})).Return(nil)

	// Act
	player, token, _, err := svc.RegisterPlayer(context.Background(), "  Ana  ")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "Ana", player.Name)
	claims, err := jwtService.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, player.ID, claims.PlayerID)
	assert.Equal(t, auth.RolePlayer, claims.Role)
	repo.AssertExpectations(t)
}

func TestAuthService_RegisterPlayer_InvalidName(t *testing.T) {
	svc, repo, _ := newAuthFixture(t)

	for _, name := range []string{"", "   ", string(make([]rune, 51))} {
		_, _, _, err := svc.RegisterPlayer(context.Background(), name)
		assert.ErrorIs(t, err, apperrors.ErrValidation, "name %q", name)
	}
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestAuthService_AdminLogin(t *testing.T) {
	svc, _, jwtService := newAuthFixture(t)

	token, _, err := svc.AdminLogin(context.Background(), "operator-pass")
	require.NoError(t, err)
	claims, err := jwtService.ParseToken(token)
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin())

	_, _, err = svc.AdminLogin(context.Background(), "wrong")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
