package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/live-trivia/internal/middleware"
)

// Routes - обработчики и middleware, из которых собирается API
type Routes struct {
	Sessions *SessionHandler
	Admin    *AdminHandler
	Players  *PlayerHandler
	WS       *WSHandler

	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
}

// RegisterRoutes настраивает маршруты API
func RegisterRoutes(router *gin.Engine, r Routes) {
	withSession := middleware.ExtractUintParam("id", SessionIDKey)
	registerLimit := r.RateLimiter.LimitByIP(middleware.RegistrationRateLimitConfig())

	api := router.Group("/api")
	{
		// Игроки
		api.POST("/players", registerLimit, r.Players.Register)
		players := api.Group("/players")
		players.Use(r.Auth.RequireAuth())
		{
			players.GET("/me", r.Auth.PlayerOnly(), r.Players.Me)
			players.POST("/ws-ticket", r.Players.WSTicket)
		}

		// Сессии (публичные маршруты)
		sessions := api.Group("/sessions")
		{
			sessions.GET("/current", r.Sessions.GetCurrent)

			sessionWithID := sessions.Group("/:id")
			sessionWithID.Use(withSession)
			{
				sessionWithID.GET("", r.Sessions.GetSession)
				sessionWithID.GET("/questions", r.Sessions.GetQuestions)
				sessionWithID.GET("/ranking", r.Sessions.GetRanking)
				sessionWithID.GET("/players", r.Sessions.GetPlayers)
				sessionWithID.GET("/qr", r.Sessions.GetQR)

				// Маршруты игрока
				playerRoutes := sessionWithID.Group("")
				playerRoutes.Use(r.Auth.RequireAuth(), r.Auth.PlayerOnly())
				{
					playerRoutes.POST("/join", r.Sessions.Join)
					playerRoutes.POST("/leave", r.Sessions.Leave)
					playerRoutes.POST("/answers",
						r.RateLimiter.LimitByPlayer(middleware.AnswerRateLimitConfig()),
						r.Sessions.SubmitAnswer)
				}
			}
		}

		// Оператор
		api.POST("/admin/login", registerLimit, r.Admin.Login)
		admin := api.Group("/admin/sessions")
		admin.Use(r.Auth.RequireAuth(), r.Auth.AdminOnly())
		{
			admin.POST("", r.Admin.CreateSession)
			admin.GET("", r.Admin.ListSessions)

			adminWithID := admin.Group("/:id")
			adminWithID.Use(withSession)
			{
				adminWithID.POST("/start", r.Admin.Start)
				adminWithID.POST("/advance", r.Admin.Advance)
				adminWithID.POST("/pause", r.Admin.Pause)
				adminWithID.POST("/end", r.Admin.End)
				adminWithID.POST("/rebuild-scores", r.Admin.RebuildScores)
				adminWithID.POST("/questions", r.Admin.ReseedQuestions)
				adminWithID.GET("/export", r.Admin.Export)
			}
		}
	}

	// WebSocket маршрут
	if r.WS != nil {
		router.GET("/ws", r.WS.HandleConnection)
	}
}
