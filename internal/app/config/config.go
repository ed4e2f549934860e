package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App struct {
		Env  string
		Port string
		Host string
	}

	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	Redis struct {
		Host string
		Port string
		DB   int
	}

	Laravel struct {
		BaseURL        string
		RequestTimeout time.Duration
		MaxSockets     int
		MaxFreeSockets int
		RetryAttempts  int
		RetryBase      time.Duration
		RetryJitter    time.Duration
	}

	WhatsApp struct {
		AuthRoot    string
		AudioDir    string
		MaxSessions int
		QRTerminal  bool
	}

	QR struct {
		ThrottleMs time.Duration
		MaxSends   int
		Expires    time.Duration
	}

	Reconnect struct {
		FastAttempts       int
		FastBackoffBase    time.Duration
		FastBackoffMax     time.Duration
		ResilienceSchedule []time.Duration
		MaxDuration        time.Duration
	}

	Batch struct {
		Size             int
		QRInterval       time.Duration
		StatusInterval   time.Duration
		QRMinGap         time.Duration
		StatusMinGapHigh time.Duration
		StatusMinGap     time.Duration
		CircuitThreshold int
		CircuitReset     time.Duration
	}

	Inbound struct {
		Concurrency   int
		MaxAttempts   int
		BackoffBase   time.Duration
		JobTimeout    time.Duration
		MaxMessageAge time.Duration
	}

	Sender struct {
		Timeout time.Duration
		Retries int
	}

	Janitor struct {
		DeadSessionInterval    time.Duration
		PendingInterval        time.Duration
		PendingTimeout         time.Duration
		HeartbeatInterval      time.Duration
		InactivityThreshold    time.Duration
		AudioInterval          time.Duration
		AudioMaxAge            time.Duration
		QueueInterval          time.Duration
		QueueMaxAge            time.Duration
		IdleSweepInterval      time.Duration
		IdleTTL                time.Duration
		ConsecutiveMissLimit   int
		InactivityGracePeriod  time.Duration
		LocalStatusTTL         time.Duration
	}

	Logging struct {
		Level          string
		Output         string
		FilePath       string
		FileMaxSize    int
		FileMaxBackups int
		FileMaxAge     int
		FileCompress   bool
		ConsoleColors  bool
	}

	RateLimit struct {
		Requests int
		Window   time.Duration
	}

	CORS struct {
		AllowedOrigins string
	}
}

func LoadConfig() (*Config, error) {
	// Carregar .env se existir
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.Env = getEnv("APP_ENV", getEnv("NODE_ENV", "development"))
	cfg.App.Port = getEnv("PORT", "3000")
	cfg.App.Host = getEnv("APP_HOST", "0.0.0.0")

	// Database
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnv("DB_PORT", "5432")
	cfg.Database.User = getEnv("DB_USER", "zapgate")
	cfg.Database.Password = getEnv("DB_PASSWORD", "zapgate123")
	cfg.Database.Name = getEnv("DB_NAME", "zapgate")
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", "disable")

	// Redis (cache compartilhado)
	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	cfg.Redis.Port = getEnv("REDIS_PORT", "6379")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	// Control plane (Laravel)
	cfg.Laravel.BaseURL = getEnv("LARAVEL_API", "http://localhost:8000/api")
	cfg.Laravel.RequestTimeout = getEnvAsDuration("LARAVEL_TIMEOUT", 30*time.Second)
	cfg.Laravel.MaxSockets = getEnvAsInt("LARAVEL_MAX_SOCKETS", 200)
	cfg.Laravel.MaxFreeSockets = getEnvAsInt("LARAVEL_MAX_FREE_SOCKETS", 20)
	cfg.Laravel.RetryAttempts = getEnvAsInt("LARAVEL_RETRY_ATTEMPTS", 3)
	cfg.Laravel.RetryBase = getEnvAsDuration("LARAVEL_RETRY_BASE", 600*time.Millisecond)
	cfg.Laravel.RetryJitter = getEnvAsDuration("LARAVEL_RETRY_JITTER", 400*time.Millisecond)

	// WhatsApp
	cfg.WhatsApp.AuthRoot = getEnv("AUTH_ROOT", "./auth")
	cfg.WhatsApp.AudioDir = getEnv("AUDIO_DIR", "./audios")
	cfg.WhatsApp.MaxSessions = getEnvAsInt("MAX_SESSIONS", 300)
	cfg.WhatsApp.QRTerminal = getEnvAsBool("QR_TERMINAL", false)

	// QR
	cfg.QR.ThrottleMs = getEnvAsDuration("QR_THROTTLE_MS", 5000*time.Millisecond)
	cfg.QR.MaxSends = getEnvAsInt("QR_MAX_SENDS", 4)
	cfg.QR.Expires = getEnvAsDuration("QR_EXPIRES_MS", 60000*time.Millisecond)

	// Reconnect (fase rápida + fase de resiliência)
	cfg.Reconnect.FastAttempts = getEnvAsInt("RECONNECT_FAST_ATTEMPTS", 5)
	cfg.Reconnect.FastBackoffBase = getEnvAsDuration("RECONNECT_FAST_BASE_MS", 2*time.Second)
	cfg.Reconnect.FastBackoffMax = getEnvAsDuration("RECONNECT_FAST_MAX_MS", 32*time.Second)
	cfg.Reconnect.ResilienceSchedule = getEnvAsSchedule("RECONNECT_RESILIENCE_SCHEDULE_MS",
		[]time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute})
	cfg.Reconnect.MaxDuration = getEnvAsDuration("RECONNECT_MAX_DURATION_MS", 60*time.Minute)

	// Batcher + circuit breaker
	cfg.Batch.Size = getEnvAsInt("BATCH_SIZE", 50)
	cfg.Batch.QRInterval = getEnvAsDuration("BATCH_QR_INTERVAL_MS", 5*time.Second)
	cfg.Batch.StatusInterval = getEnvAsDuration("BATCH_STATUS_INTERVAL_MS", time.Second)
	cfg.Batch.QRMinGap = getEnvAsDuration("BATCH_QR_MIN_GAP_MS", time.Second)
	cfg.Batch.StatusMinGapHigh = getEnvAsDuration("BATCH_STATUS_MIN_GAP_HIGH_MS", 500*time.Millisecond)
	cfg.Batch.StatusMinGap = getEnvAsDuration("BATCH_STATUS_MIN_GAP_MS", time.Second)
	cfg.Batch.CircuitThreshold = getEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", 5)
	cfg.Batch.CircuitReset = getEnvAsDuration("CIRCUIT_RESET_TIMEOUT_MS", 60*time.Second)

	// Fila de entrada
	cfg.Inbound.Concurrency = getEnvAsInt("MAX_CONCURRENT_MESSAGES", 5)
	cfg.Inbound.MaxAttempts = getEnvAsInt("INBOUND_MAX_ATTEMPTS", 3)
	cfg.Inbound.BackoffBase = getEnvAsDuration("INBOUND_BACKOFF_MS", 2*time.Second)
	cfg.Inbound.JobTimeout = getEnvAsDuration("INBOUND_JOB_TIMEOUT_MS", 30*time.Second)
	cfg.Inbound.MaxMessageAge = getEnvAsDuration("INBOUND_MAX_MESSAGE_AGE_MS", 5*time.Minute)

	// Envio de mensagens
	cfg.Sender.Timeout = getEnvAsDuration("SEND_TIMEOUT_MS", 15*time.Second)
	cfg.Sender.Retries = getEnvAsInt("SEND_RETRIES", 3)

	// Janitors
	cfg.Janitor.DeadSessionInterval = getEnvAsDuration("DEAD_SESSION_INTERVAL_MS", 60*time.Second)
	cfg.Janitor.PendingInterval = getEnvAsDuration("PENDING_CLEANUP_INTERVAL_MS", 30*time.Second)
	cfg.Janitor.PendingTimeout = getEnvAsDuration("PENDING_TIMEOUT_MS", 120*time.Second)
	cfg.Janitor.HeartbeatInterval = getEnvAsDuration("HEARTBEAT_INTERVAL_MS", 60*time.Second)
	cfg.Janitor.InactivityThreshold = getEnvAsDuration("INACTIVITY_THRESHOLD_MS", 10*time.Minute)
	cfg.Janitor.AudioInterval = getEnvAsDuration("AUDIO_CLEANUP_INTERVAL_MS", 15*time.Minute)
	cfg.Janitor.AudioMaxAge = getEnvAsDuration("AUDIO_MAX_AGE_MS", time.Hour)
	cfg.Janitor.QueueInterval = getEnvAsDuration("QUEUE_CLEANUP_INTERVAL_MS", time.Hour)
	cfg.Janitor.QueueMaxAge = getEnvAsDuration("QUEUE_MAX_AGE_MS", 24*time.Hour)
	cfg.Janitor.IdleSweepInterval = getEnvAsDuration("IDLE_SWEEP_INTERVAL_MS", 60*time.Minute)
	cfg.Janitor.IdleTTL = getEnvAsDuration("IDLE_TTL_MS", 24*time.Hour)
	cfg.Janitor.ConsecutiveMissLimit = getEnvAsInt("CONSECUTIVE_MISS_THRESHOLD", 3)
	cfg.Janitor.InactivityGracePeriod = getEnvAsDuration("INACTIVITY_GRACE_MS", 2*time.Minute)
	cfg.Janitor.LocalStatusTTL = getEnvAsDuration("LOCAL_STATUS_TTL_MS", 30*time.Second)

	// Logging
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Logging.Output = getEnv("LOG_OUTPUT", "dual")
	cfg.Logging.FilePath = getEnv("LOG_FILE_PATH", "logs/zapgate.log")
	cfg.Logging.FileMaxSize = getEnvAsInt("LOG_FILE_MAX_SIZE", 100)
	cfg.Logging.FileMaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 3)
	cfg.Logging.FileMaxAge = getEnvAsInt("LOG_FILE_MAX_AGE", 28)
	cfg.Logging.FileCompress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.Logging.ConsoleColors = getEnvAsBool("LOG_CONSOLE_COLORS", true)

	// Rate limit
	cfg.RateLimit.Requests = getEnvAsInt("RATE_LIMIT_REQUESTS", 100)
	cfg.RateLimit.Window = getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute)

	// CORS
	cfg.CORS.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", "*")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration aceita tanto duração Go ("5s") quanto milissegundos puros ("5000")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

// getEnvAsSchedule lê uma lista separada por vírgulas de durações, cada uma
// no mesmo formato dual do getEnvAsDuration. Itens inválidos invalidam a
// lista inteira, voltando ao padrão.
func getEnvAsSchedule(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var schedule []time.Duration
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			schedule = append(schedule, d)
			continue
		}
		if ms, err := strconv.Atoi(part); err == nil {
			schedule = append(schedule, time.Duration(ms)*time.Millisecond)
			continue
		}
		return defaultValue
	}
	if len(schedule) == 0 {
		return defaultValue
	}
	return schedule
}

func (c *Config) GetDatabaseDSN() string {
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.Name + "?sslmode=" + c.Database.SSLMode
}

func (c *Config) GetRedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

// Implementação da interface ConfigProvider para integração com o logger
func (c *Config) GetLogLevel() string       { return c.Logging.Level }
func (c *Config) GetLogOutput() string      { return c.Logging.Output }
func (c *Config) GetLogFilePath() string    { return c.Logging.FilePath }
func (c *Config) GetLogFileMaxSize() int    { return c.Logging.FileMaxSize }
func (c *Config) GetLogFileMaxBackups() int { return c.Logging.FileMaxBackups }
func (c *Config) GetLogFileMaxAge() int     { return c.Logging.FileMaxAge }
func (c *Config) GetLogFileCompress() bool  { return c.Logging.FileCompress }
func (c *Config) GetLogConsoleColors() bool { return c.Logging.ConsoleColors }
