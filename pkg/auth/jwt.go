package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Роли в токенах
const (
	RolePlayer = "player"
	RoleAdmin  = "admin"
)

// AdminSubject - идентификатор оператора в токенах
const AdminSubject = "admin"

const (
	usageAccess   = "access"
	usageWSTicket = "ws_ticket"

	defaultPlayerTTL = 12 * time.Hour
	defaultAdminTTL  = 8 * time.Hour
	defaultTicketTTL = 60 * time.Second
	issuer           = "live-trivia"
)

// Ошибки проверки токена
var (
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token is expired")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrWrongUsage     = errors.New("token usage mismatch")
)

// Claims содержит поля токена игрока или оператора
type Claims struct {
	PlayerID string `json:"player_id"`
	Role     string `json:"role"`
	Usage    string `json:"usage,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin проверяет роль оператора
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// JWTConfig - параметры подписи
type JWTConfig struct {
	Secret    string
	PlayerTTL time.Duration
	AdminTTL  time.Duration
	TicketTTL time.Duration
}

// JWTService выпускает и проверяет HMAC-токены
type JWTService struct {
	secret    []byte
	playerTTL time.Duration
	adminTTL  time.Duration
	ticketTTL time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewJWTService создает сервис JWT и возвращает ошибку при пустом секрете
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if len(cfg.Secret) < 16 {
		return nil, fmt.Errorf("jwt secret must be at least 16 bytes")
	}
	if cfg.PlayerTTL <= 0 {
		cfg.PlayerTTL = defaultPlayerTTL
	}
	if cfg.AdminTTL <= 0 {
		cfg.AdminTTL = defaultAdminTTL
	}
	if cfg.TicketTTL <= 0 {
		cfg.TicketTTL = defaultTicketTTL
	}
	return &JWTService{
		secret:    []byte(cfg.Secret),
		playerTTL: cfg.PlayerTTL,
		adminTTL:  cfg.AdminTTL,
		ticketTTL: cfg.TicketTTL,
		now:       time.Now,
		logger:    log.With().Str("component", "JWT").Logger(),
	}, nil
}

// WithClock подменяет время выпуска токенов. Проверка срока идёт по реальным часам.
func (s *JWTService) WithClock(now func() time.Time) *JWTService {
	s.now = now
	return s
}

// GeneratePlayerToken выпускает токен игрока
func (s *JWTService) GeneratePlayerToken(playerID string) (string, time.Time, error) {
	return s.sign(playerID, RolePlayer, usageAccess, s.playerTTL)
}

// GenerateAdminToken выпускает токен оператора
func (s *JWTService) GenerateAdminToken() (string, time.Time, error) {
	return s.sign(AdminSubject, RoleAdmin, usageAccess, s.adminTTL)
}

// GenerateWSTicket выпускает короткоживущий тикет для подключения к WebSocket
func (s *JWTService) GenerateWSTicket(claims *Claims) (string, time.Time, error) {
	return s.sign(claims.PlayerID, claims.Role, usageWSTicket, s.ticketTTL)
}

func (s *JWTService) sign(subject, role, usage string, ttl time.Duration) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		PlayerID: subject,
		Role:     role,
		Usage:    usage,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken проверяет токен доступа
func (s *JWTService) ParseToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Usage != usageAccess {
		return nil, ErrWrongUsage
	}
	return claims, nil
}

// ParseWSTicket проверяет тикет WebSocket
func (s *JWTService) ParseWSTicket(ticket string) (*Claims, error) {
	claims, err := s.parse(ticket)
	if err != nil {
		return nil, err
	}
	if claims.Usage != usageWSTicket {
		return nil, ErrWrongUsage
	}
	return claims, nil
}

func (s *JWTService) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}}
	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				s.logger.Debug().Msg("Токен имеет неверный формат")
				return nil, ErrTokenMalformed
			case ve.Errors&jwt.ValidationErrorExpired != 0:
				s.logger.Debug().Str("player_id", claims.PlayerID).Msg("Срок действия токена истек")
				return nil, ErrTokenExpired
			case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
				s.logger.Warn().Str("player_id", claims.PlayerID).Msg("Неверная подпись токена")
				return nil, ErrTokenInvalid
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid || claims.PlayerID == "" {
		return nil, ErrTokenInvalid
	}
	if claims.Role != RolePlayer && claims.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}
	return claims, nil
}
