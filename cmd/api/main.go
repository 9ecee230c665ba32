package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/yourusername/live-trivia/internal/config"
	"github.com/yourusername/live-trivia/internal/content"
	"github.com/yourusername/live-trivia/internal/domain/repository"
	"github.com/yourusername/live-trivia/internal/handler"
	"github.com/yourusername/live-trivia/internal/middleware"
	"github.com/yourusername/live-trivia/internal/repository/memory"
	pgRepo "github.com/yourusername/live-trivia/internal/repository/postgres"
	redisRepo "github.com/yourusername/live-trivia/internal/repository/redis"
	"github.com/yourusername/live-trivia/internal/service"
	"github.com/yourusername/live-trivia/internal/service/quizmanager"
	"github.com/yourusername/live-trivia/internal/service/rounds"
	ws "github.com/yourusername/live-trivia/internal/websocket"
	"github.com/yourusername/live-trivia/pkg/auth"
	"github.com/yourusername/live-trivia/pkg/database"
	"github.com/yourusername/live-trivia/pkg/logger"
)

// storage - репозитории выбранного хранилища
type storage struct {
	sessions       repository.SessionRepository
	questions      repository.QuestionRepository
	players        repository.PlayerRepository
	playerSessions repository.PlayerSessionRepository
	answers        repository.AnswerRepository
	cache          repository.CacheRepository
	close          func()
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("Не удалось загрузить конфигурацию")
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("path", configPath).Str("storage", cfg.Storage.Driver).
		Str("realtime", cfg.Realtime.Provider).Msg("Конфигурация загружена")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis нужен для кеша, лимитов и (опционально) pub/sub
	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled() {
		redisClient, err = database.NewUniversalRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Не удалось подключиться к Redis")
		}
		log.Info().Msg("Подключение к Redis установлено")
	}

	store, err := openStorage(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Не удалось инициализировать хранилище")
	}
	defer store.close()

	bank, err := content.Load(cfg.Content.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Не удалось загрузить банк вопросов")
	}
	log.Info().Strs("sets", bank.Sets()).Msg("Банк вопросов загружен")

	roundCalc, err := rounds.FromConfig(cfg.Rounds.Boundaries, cfg.Rounds.Every)
	if err != nil {
		log.Fatal().Err(err).Msg("Некорректная таблица раундов")
	}

	// --- Realtime ---
	provider, err := openPubSub(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Не удалось инициализировать pub/sub")
	}

	clock := clockwork.NewRealClock()
	broadcaster := ws.NewBroadcaster(provider, ws.BroadcasterConfig{
		ChannelPrefix:  cfg.Realtime.ChannelPrefix,
		ResendInterval: cfg.Realtime.ResendInterval,
		Retention:      cfg.Realtime.Retention,
	}, clock)
	go broadcaster.Run(ctx)

	wsHub := ws.NewHub(broadcaster)
	if err := wsHub.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Не удалось запустить WebSocket hub")
	}
	wsManager := ws.NewManager(wsHub, broadcaster)

	// --- Сервисы ---
	jwtService, err := auth.NewJWTService(auth.JWTConfig{
		Secret:    cfg.Auth.JWTSecret,
		PlayerTTL: cfg.Auth.PlayerTokenTTL,
		AdminTTL:  cfg.Auth.AdminTokenTTL,
		TicketTTL: cfg.Auth.WSTicketTTL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Не удалось инициализировать JWTService")
	}

	authService, err := service.NewAuthService(store.players, jwtService, cfg.Auth.AdminPasswordHash)
	if err != nil {
		log.Fatal().Err(err).Msg("Не удалось инициализировать AuthService")
	}

	var mailer service.Mailer = service.NoopMailer{}
	if cfg.Report.Enabled() {
		resendMailer, err := service.NewResendMailer(cfg.Report.ResendAPIKey, cfg.Report.From)
		if err != nil {
			log.Fatal().Err(err).Msg("Не удалось инициализировать рассылку")
		}
		mailer = resendMailer
	}
	reportService := service.NewReportService(store.sessions, store.answers, mailer, cfg.Report.Recipients)

	sessionManager := service.NewSessionManager(gameConfig(cfg.Game), &quizmanager.Dependencies{
		SessionRepo:       store.sessions,
		QuestionRepo:      store.questions,
		PlayerSessionRepo: store.playerSessions,
		AnswerRepo:        store.answers,
		CacheRepo:         store.cache,
		Publisher:         wsManager,
		Rounds:            roundCalc,
		Clock:             clock,
	}, store.players, bank, reportService)
	wsManager.BindGame(sessionManager)

	if err := sessionManager.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("Не удалось восстановить идущие сессии")
	}

	// --- HTTP ---
	isProduction := gin.Mode() == gin.ReleaseMode
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	trusted := cfg.Server.TrustedProxies
	if len(trusted) == 0 && !isProduction {
		trusted = []string{"127.0.0.1", "::1"}
	}
	if err := router.SetTrustedProxies(trusted); err != nil {
		log.Warn().Err(err).Msg("Не удалось настроить доверенные прокси")
	}

	corsConfig := cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	router.Use(cors.New(corsConfig))

	clientConfig := ws.DefaultClientConfig()
	clientConfig.BufferSize = cfg.Realtime.ClientBuffer
	if cfg.Realtime.PingInterval > 0 {
		clientConfig.PingInterval = cfg.Realtime.PingInterval
	}
	if cfg.Realtime.PongWait > 0 {
		clientConfig.PongWait = cfg.Realtime.PongWait
	}

	handler.RegisterRoutes(router, handler.Routes{
		Sessions:    handler.NewSessionHandler(sessionManager, cfg.Server.PublicURL),
		Admin:       handler.NewAdminHandler(sessionManager, reportService, authService),
		Players:     handler.NewPlayerHandler(authService),
		WS:          handler.NewWSHandler(wsHub, wsManager, jwtService, cfg.Server.AllowedOrigins, clientConfig),
		Auth:        middleware.NewAuthMiddleware(jwtService),
		RateLimiter: middleware.NewRateLimiter(redisClient),
	})
	router.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/ws/metrics", gin.WrapF(ws.WebSocketMetricsHandler(wsManager)))
	router.GET("/ws/health", gin.WrapF(ws.WebSocketHealthCheckHandler(wsManager)))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Завершение работы сервера")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Принудительное завершение HTTP сервера")
	}

	sessionManager.Shutdown()
	wsHub.Stop()
	cancel()
	if err := provider.Close(); err != nil {
		log.Warn().Err(err).Msg("Ошибка закрытия pub/sub")
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	log.Info().Msg("Сервер остановлен")
}

// openStorage открывает хранилище, выбранное в конфигурации
func openStorage(cfg *config.Config, redisClient redis.UniversalClient) (*storage, error) {
	var cache repository.CacheRepository = memory.NewCacheRepo()
	if redisClient != nil {
		redisCache, err := redisRepo.NewCacheRepo(redisClient, "trivia:")
		if err != nil {
			return nil, err
		}
		cache = redisCache
	}

	if cfg.Storage.Driver == config.StorageDriverMemory {
		log.Warn().Msg("Используется хранилище в памяти: данные не переживут перезапуск")
		store := memory.NewStore()
		return &storage{
			sessions:       store.Sessions(),
			questions:      store.Questions(),
			players:        store.Players(),
			playerSessions: store.PlayerSessions(),
			answers:        store.Answers(),
			cache:          cache,
			close:          func() {},
		}, nil
	}

	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString(), database.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	if err := database.MigrateDB(db, cfg.Database.MigrationsPath); err != nil {
		return nil, err
	}
	return &storage{
		sessions:       pgRepo.NewSessionRepo(db),
		questions:      pgRepo.NewQuestionRepo(db),
		players:        pgRepo.NewPlayerRepo(db),
		playerSessions: pgRepo.NewPlayerSessionRepo(db),
		answers:        pgRepo.NewAnswerRepo(db),
		cache:          cache,
		close:          func() { closeDB(db) },
	}, nil
}

func closeDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("Ошибка закрытия подключения к PostgreSQL")
	}
}

// openPubSub выбирает транспорт рассылки событий
func openPubSub(cfg *config.Config, redisClient redis.UniversalClient) (ws.PubSubProvider, error) {
	switch cfg.Realtime.Provider {
	case config.RealtimeProviderRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis pub/sub requires redis connection")
		}
		return ws.NewRedisPubSub(redisClient)
	case config.RealtimeProviderNATS:
		return ws.NewNATSPubSub(ws.NATSConfig{
			URL:           cfg.NATS.URL,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
	default:
		return ws.NewLocalPubSub(), nil
	}
}

func gameConfig(g config.GameConfig) *quizmanager.Config {
	return &quizmanager.Config{
		QuestionDuration:  g.QuestionDuration,
		RevealDuration:    g.RevealDuration,
		BreakDuration:     g.BreakDuration,
		MinPlayersToStart: g.MinPlayers,
		MaxPlayers:        g.MaxPlayers,
		PointsPerCorrect:  g.PointsPerCorrect,
		SnapshotTTL:       g.SnapshotTTL,
		Retry:             quizmanager.RetryPolicy(g.Retry),
		ContentRetry:      quizmanager.RetryPolicy(g.ContentRetry),
	}
}

// requestLogger пишет access-лог запросов через zerolog
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("HTTP запрос")
	}
}
