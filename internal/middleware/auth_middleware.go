package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/yourusername/live-trivia/pkg/auth"
)

// Ключи контекста Gin
const (
	ContextPlayerID = "player_id"
	ContextRole     = "role"
	ContextClaims   = "claims"
)

// AuthMiddleware проверяет токены игроков и оператора
type AuthMiddleware struct {
	jwtService *auth.JWTService
}

// NewAuthMiddleware создает middleware аутентификации
func NewAuthMiddleware(jwtService *auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwtService: jwtService}
}

// BearerToken извлекает токен из заголовка Authorization
func BearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// RequireAuth проверяет токен и кладёт player_id и роль в контекст
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required", "error_type": "token_missing"})
			return
		}
		token, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token format", "error_type": "token_format"})
			return
		}

		claims, err := m.jwtService.ParseToken(token)
		if err != nil {
			errorType := "token_invalid"
			if errors.Is(err, auth.ErrTokenExpired) {
				errorType = "token_expired"
			}
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("[AuthMiddleware] Токен отклонён")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "error_type": errorType})
			return
		}

		c.Set(ContextPlayerID, claims.PlayerID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// PlayerOnly пропускает только токены игроков. Должен применяться после RequireAuth.
func (m *AuthMiddleware) PlayerOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != auth.RolePlayer {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Player token required", "error_type": "forbidden"})
			return
		}
		c.Next()
	}
}

// AdminOnly пропускает только оператора. Должен применяться после RequireAuth.
func (m *AuthMiddleware) AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != auth.RoleAdmin {
			log.Warn().Str("player_id", c.GetString(ContextPlayerID)).Str("path", c.Request.URL.Path).
				Msg("[AuthMiddleware] Попытка доступа к административному маршруту")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin rights required", "error_type": "forbidden"})
			return
		}
		c.Next()
	}
}

// ClaimsFromContext возвращает claims, сохранённые RequireAuth
func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
