package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию Storyteller Server
type Config struct {
	// Настройки сервера
	Port            string        `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding     string        `envconfig:"LOG_ENCODING" default:"json"`
	GinMode         string        `envconfig:"GIN_MODE" default:"release"`
	CORSOrigins     []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RequestDeadline time.Duration `envconfig:"REQUEST_DEADLINE" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	// Настройки PostgreSQL. Пустой DB_HOST переключает сервер
	// на in-memory хранилище (режим разработки).
	DBHost     string `envconfig:"DB_HOST" default:""`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"storyteller"`
	DBPassword string `envconfig:"DB_PASSWORD" default:""`
	DBName     string `envconfig:"DB_NAME" default:"storyteller"`
	DBSSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns int    `envconfig:"DB_MAX_CONNECTIONS" default:"10"`

	// Настройки Redis (кэш профилей). Пустой адрес отключает кэш.
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:""`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	ProfileCacheTTL time.Duration `envconfig:"PROFILE_CACHE_TTL" default:"10m"`

	// Настройки AI-провайдера
	AIProvider   string        `envconfig:"AI_PROVIDER" default:"openai"`
	AIAPIKey     string        `envconfig:"AI_API_KEY" default:""`
	AIBaseURL    string        `envconfig:"AI_BASE_URL" default:""`
	AIModel      string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AITimeout    time.Duration `envconfig:"AI_TIMEOUT" default:"60s"`
	AIMaxRetries int           `envconfig:"AI_MAX_RETRIES" default:"3"`
	AIRetryDelay time.Duration `envconfig:"AI_RETRY_DELAY" default:"2s"`

	// Настройки цикла генерации-оценки
	EvaluationLimit int `envconfig:"EVALUATION_LIMIT" default:"3"`
	AcceptThreshold int `envconfig:"ACCEPT_THRESHOLD" default:"7"`

	// Фильтр возрастной адаптации
	AgeFilterEnabled bool `envconfig:"AGE_FILTER_ENABLED" default:"false"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// UsePostgres сообщает, настроено ли постоянное хранилище
func (c *Config) UsePostgres() bool {
	return c.DBHost != ""
}

// UseRedis сообщает, настроен ли кэш профилей
func (c *Config) UseRedis() bool {
	return c.RedisAddr != ""
}

// LoadConfig загружает конфигурацию из переменных окружения
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	if cfg.AIProvider != "openai" && cfg.AIProvider != "ollama" {
		return nil, fmt.Errorf("неизвестный AI_PROVIDER %q (ожидается openai или ollama)", cfg.AIProvider)
	}
	if cfg.EvaluationLimit < 1 {
		return nil, fmt.Errorf("EVALUATION_LIMIT должен быть >= 1, получено %d", cfg.EvaluationLimit)
	}
	if cfg.AcceptThreshold < 0 || cfg.AcceptThreshold > 10 {
		return nil, fmt.Errorf("ACCEPT_THRESHOLD должен быть в диапазоне 0..10, получено %d", cfg.AcceptThreshold)
	}

	return &cfg, nil
}
