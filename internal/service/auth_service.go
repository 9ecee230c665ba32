package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/live-trivia/internal/domain/entity"
	"github.com/yourusername/live-trivia/internal/domain/repository"
	apperrors "github.com/yourusername/live-trivia/internal/pkg/errors"
	"github.com/yourusername/live-trivia/pkg/auth"
)

const maxPlayerNameLength = 50

// AuthService регистрирует игроков и выполняет вход оператора
type AuthService struct {
	playerRepo repository.PlayerRepository
	jwtService *auth.JWTService
	adminHash  []byte
	logger     zerolog.Logger
}

// NewAuthService создает сервис аутентификации.
// adminPasswordHash - bcrypt-хеш пароля оператора.
func NewAuthService(playerRepo repository.PlayerRepository, jwtService *auth.JWTService, adminPasswordHash string) (*AuthService, error) {
	if playerRepo == nil || jwtService == nil {
		return nil, fmt.Errorf("player repository and jwt service are required")
	}
	if _, err := bcrypt.Cost([]byte(adminPasswordHash)); err != nil {
		return nil, fmt.Errorf("invalid admin password hash: %w", err)
	}
	return &AuthService{
		playerRepo: playerRepo,
		jwtService: jwtService,
		adminHash:  []byte(adminPasswordHash),
		logger:     log.With().Str("component", "AuthService").Logger(),
	}, nil
}

// RegisterPlayer создает игрока и выдает ему токен
func (s *AuthService) RegisterPlayer(ctx context.Context, name string) (*entity.Player, string, time.Time, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxPlayerNameLength {
		return nil, "", time.Time{}, fmt.Errorf("%w: player name must be 1-%d characters", apperrors.ErrValidation, maxPlayerNameLength)
	}

	player := &entity.Player{ID: uuid.New().String(), Name: name}
	if err := s.playerRepo.Create(ctx, player); err != nil {
		return nil, "", time.Time{}, fmt.Errorf("create player: %w", err)
	}

	token, expiresAt, err := s.jwtService.GeneratePlayerToken(player.ID)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	s.logger.Info().Str("player_id", player.ID).Msg("Зарегистрирован игрок")
	return player, token, expiresAt, nil
}

// AdminLogin проверяет пароль оператора и выдает административный токен
func (s *AuthService) AdminLogin(_ context.Context, password string) (string, time.Time, error) {
	if err := bcrypt.CompareHashAndPassword(s.adminHash, []byte(password)); err != nil {
		s.logger.Warn().Msg("Неудачная попытка входа оператора")
		return "", time.Time{}, fmt.Errorf("%w: invalid credentials", apperrors.ErrUnauthorized)
	}
	token, expiresAt, err := s.jwtService.GenerateAdminToken()
	if err != nil {
		return "", time.Time{}, err
	}
	s.logger.Info().Msg("Оператор вошёл в систему")
	return token, expiresAt, nil
}

// IssueWSTicket выдает тикет для подключения к WebSocket
func (s *AuthService) IssueWSTicket(claims *auth.Claims) (string, time.Time, error) {
	return s.jwtService.GenerateWSTicket(claims)
}

// Player возвращает профиль игрока
func (s *AuthService) Player(ctx context.Context, playerID string) (*entity.Player, error) {
	return s.playerRepo.GetByID(ctx, playerID)
}
