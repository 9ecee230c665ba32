package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Драйверы хранилища и провайдеры pub/sub
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	RealtimeProviderLocal = "local"
	RealtimeProviderRedis = "redis"
	RealtimeProviderNATS  = "nats"
)

// Config хранит все настройки приложения
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Game     GameConfig     `mapstructure:"game"`
	Rounds   RoundsConfig   `mapstructure:"rounds"`
	Content  ContentConfig  `mapstructure:"content"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Report   ReportConfig   `mapstructure:"report"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig содержит настройки HTTP сервера
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	TrustedProxies []string      `mapstructure:"trusted_proxies"`
	// Адрес клиента для QR-кода входа в сессию
	PublicURL string `mapstructure:"public_url"`
}

// DatabaseConfig содержит настройки подключения к PostgreSQL
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	DBName         string `mapstructure:"dbname"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// RedisConfig содержит настройки подключения к Redis.
// Поддерживает режимы: single, sentinel, cluster
type RedisConfig struct {
	Mode       string   `mapstructure:"mode"`
	Addrs      []string `mapstructure:"addrs"`
	Addr       string   `mapstructure:"addr"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	MasterName string   `mapstructure:"master_name"`

	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// Enabled сообщает, задан ли адрес Redis
func (r *RedisConfig) Enabled() bool {
	return r.Addr != "" || len(r.Addrs) > 0
}

// StorageConfig выбирает хранилище: postgres или memory
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// RealtimeConfig - рассылка событий сессий
type RealtimeConfig struct {
	Provider       string        `mapstructure:"provider"`
	ChannelPrefix  string        `mapstructure:"channel_prefix"`
	ResendInterval time.Duration `mapstructure:"resend_interval"`
	Retention      time.Duration `mapstructure:"retention"`
	ClientBuffer   int           `mapstructure:"client_buffer"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
}

// NATSConfig - подключение к NATS
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// GameConfig - параметры игрового цикла
type GameConfig struct {
	QuestionDuration time.Duration `mapstructure:"question_duration"`
	RevealDuration   time.Duration `mapstructure:"reveal_duration"`
	BreakDuration    time.Duration `mapstructure:"break_duration"`
	MinPlayers       int           `mapstructure:"min_players"`
	MaxPlayers       int           `mapstructure:"max_players"`
	PointsPerCorrect int           `mapstructure:"points_per_correct"`
	SnapshotTTL      time.Duration `mapstructure:"snapshot_ttl"`
	Retry            RetryConfig   `mapstructure:"retry"`
	ContentRetry     RetryConfig   `mapstructure:"content_retry"`
}

// RetryConfig - повторы с экспоненциальной задержкой
type RetryConfig struct {
	Attempts       int           `mapstructure:"attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// RoundsConfig - таблица раундов: явные границы или "каждые N вопросов"
type RoundsConfig struct {
	Boundaries []int `mapstructure:"boundaries"`
	Every      int   `mapstructure:"every"`
}

// ContentConfig - банк вопросов
type ContentConfig struct {
	Path string `mapstructure:"path"`
	Set  string `mapstructure:"set"`
}

// AuthConfig содержит настройки токенов и входа оператора
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
	PlayerTokenTTL    time.Duration `mapstructure:"player_token_ttl"`
	AdminTokenTTL     time.Duration `mapstructure:"admin_token_ttl"`
	WSTicketTTL       time.Duration `mapstructure:"ws_ticket_ttl"`
}

// ReportConfig - рассылка итогов операторам
type ReportConfig struct {
	ResendAPIKey string   `mapstructure:"resend_api_key"`
	From         string   `mapstructure:"from"`
	Recipients   []string `mapstructure:"recipients"`
}

// Enabled сообщает, настроена ли рассылка
func (r *ReportConfig) Enabled() bool {
	return r.ResendAPIKey != "" && r.From != "" && len(r.Recipients) > 0
}

// LogConfig - уровень и формат логов
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// PostgresConnectionString формирует строку подключения к PostgreSQL
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// PostgresURL формирует URL для golang-migrate
func (d *DatabaseConfig) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func setDefaults(vip *viper.Viper) {
	vip.SetDefault("server.port", "8080")
	vip.SetDefault("server.read_timeout", 15*time.Second)
	vip.SetDefault("server.write_timeout", 15*time.Second)

	vip.SetDefault("database.port", "5432")
	vip.SetDefault("database.sslmode", "disable")
	vip.SetDefault("database.migrations_path", "migrations")

	vip.SetDefault("redis.mode", "single")

	vip.SetDefault("storage.driver", StorageDriverPostgres)

	vip.SetDefault("realtime.provider", RealtimeProviderLocal)
	vip.SetDefault("realtime.channel_prefix", "trivia.")
	vip.SetDefault("realtime.resend_interval", 5*time.Second)
	vip.SetDefault("realtime.retention", 10*time.Minute)
	vip.SetDefault("realtime.client_buffer", 64)
	vip.SetDefault("realtime.ping_interval", 27*time.Second)
	vip.SetDefault("realtime.pong_wait", 30*time.Second)

	vip.SetDefault("nats.url", "nats://127.0.0.1:4222")
	vip.SetDefault("nats.max_reconnects", -1)
	vip.SetDefault("nats.reconnect_wait", 2*time.Second)

	vip.SetDefault("game.question_duration", 20*time.Second)
	vip.SetDefault("game.reveal_duration", 3*time.Second)
	vip.SetDefault("game.break_duration", 30*time.Second)
	vip.SetDefault("game.min_players", 2)
	vip.SetDefault("game.max_players", 12)
	vip.SetDefault("game.points_per_correct", 100)
	vip.SetDefault("game.snapshot_ttl", 6*time.Hour)
	vip.SetDefault("game.retry.attempts", 4)
	vip.SetDefault("game.retry.initial_backoff", 100*time.Millisecond)
	vip.SetDefault("game.retry.max_backoff", 2*time.Second)
	vip.SetDefault("game.content_retry.attempts", 3)
	vip.SetDefault("game.content_retry.initial_backoff", 2*time.Second)
	vip.SetDefault("game.content_retry.max_backoff", 8*time.Second)

	vip.SetDefault("rounds.boundaries", []int{6, 12, 13, 14})

	vip.SetDefault("content.path", "content/questions.yaml")

	vip.SetDefault("auth.player_token_ttl", 12*time.Hour)
	vip.SetDefault("auth.admin_token_ttl", 8*time.Hour)
	vip.SetDefault("auth.ws_ticket_ttl", time.Minute)

	vip.SetDefault("log.level", "info")
}

func bindEnv(vip *viper.Viper) {
	bindings := map[string]string{
		"server.port":            "SERVER_PORT",
		"server.public_url":      "SERVER_PUBLIC_URL",
		"server.allowed_origins": "SERVER_ALLOWED_ORIGINS",

		"database.host":     "DATABASE_HOST",
		"database.port":     "DATABASE_PORT",
		"database.user":     "DATABASE_USER",
		"database.password": "DATABASE_PASSWORD",
		"database.dbname":   "DATABASE_DBNAME",
		"database.sslmode":  "DATABASE_SSLMODE",

		"redis.mode":        "REDIS_MODE",
		"redis.addrs":       "REDIS_ADDRS",
		"redis.addr":        "REDIS_ADDR",
		"redis.password":    "REDIS_PASSWORD",
		"redis.db":          "REDIS_DB",
		"redis.master_name": "REDIS_MASTER_NAME",

		"storage.driver":    "STORAGE_DRIVER",
		"realtime.provider": "REALTIME_PROVIDER",
		"nats.url":          "NATS_URL",

		"content.path": "CONTENT_PATH",
		"content.set":  "CONTENT_SET",

		"auth.jwt_secret":          "JWT_SECRET",
		"auth.admin_password_hash": "ADMIN_PASSWORD_HASH",

		"report.resend_api_key": "RESEND_API_KEY",
		"report.from":           "REPORT_FROM",
		"report.recipients":     "REPORT_RECIPIENTS",

		"log.level":  "LOG_LEVEL",
		"log.pretty": "LOG_PRETTY",
	}
	for key, env := range bindings {
		_ = vip.BindEnv(key, env)
	}
}

// Load загружает конфигурацию: .env (если есть), файл YAML, переменные окружения
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("Не удалось прочитать .env")
	}

	vip := viper.New()
	setDefaults(vip)
	bindEnv(vip)

	if configPath != "" {
		vip.SetConfigFile(configPath)
		if err := vip.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				log.Warn().Str("path", configPath).Msg("Файл конфигурации не найден, используются переменные окружения и умолчания")
			} else {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize разбирает списки, пришедшие из переменных окружения одной строкой
func (c *Config) normalize() {
	c.Server.AllowedOrigins = splitList(c.Server.AllowedOrigins)
	c.Redis.Addrs = splitList(c.Redis.Addrs)
	c.Report.Recipients = splitList(c.Report.Recipients)
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Realtime.Provider = strings.ToLower(strings.TrimSpace(c.Realtime.Provider))
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters (check JWT_SECRET env var)")
	}
	if c.Auth.AdminPasswordHash == "" {
		return fmt.Errorf("auth.admin_password_hash is required (check ADMIN_PASSWORD_HASH env var)")
	}

	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
			return fmt.Errorf("database configuration (host, dbname, user) is incomplete (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}

	switch c.Realtime.Provider {
	case RealtimeProviderLocal:
	case RealtimeProviderRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("realtime.provider=redis requires redis.addr or redis.addrs")
		}
	case RealtimeProviderNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("realtime.provider=nats requires nats.url")
		}
	default:
		return fmt.Errorf("unknown realtime.provider %q", c.Realtime.Provider)
	}

	if c.Game.QuestionDuration <= 0 || c.Game.RevealDuration <= 0 || c.Game.BreakDuration < 0 {
		return fmt.Errorf("game durations must be positive (break may be 0)")
	}
	if c.Game.MinPlayers < 1 {
		return fmt.Errorf("game.min_players must be at least 1")
	}
	if c.Game.MaxPlayers > 0 && c.Game.MaxPlayers < c.Game.MinPlayers {
		return fmt.Errorf("game.max_players (%d) is less than game.min_players (%d)", c.Game.MaxPlayers, c.Game.MinPlayers)
	}
	if c.Content.Path == "" {
		return fmt.Errorf("content.path is required")
	}
	return nil
}
