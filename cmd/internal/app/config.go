package app

import (
	"time"

	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/api"
	"github.com/Avinash-006/sdp-kubernetes/cmd/internal/sharing"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool
	DBSchema    string

	// Empty RedisAddr keeps realtime fan-out in-process.
	RedisAddr          string
	RedisPassword      string
	RedisChannelPrefix string

	SessionTTL     time.Duration
	ReaperInterval time.Duration
	NotifyTimeout  time.Duration
	MaxUploadBytes int64

	// Usernames created at startup when missing.
	SeedUsers []string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("PASSSHARE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PASSSHARE_LOG_LEVEL", "info"),
		LogFormat: EnvString("PASSSHARE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PASSSHARE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PASSSHARE_HTTP_READ_TIMEOUT", 60*time.Second),
		WriteTimeout:      EnvDuration("PASSSHARE_HTTP_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       EnvDuration("PASSSHARE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("PASSSHARE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PASSSHARE_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PASSSHARE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PASSSHARE_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("PASSSHARE_DB_MIGRATE", true),
		DBSchema:    EnvString("PASSSHARE_DB_SCHEMA", "passshare"),

		RedisAddr:          EnvString("PASSSHARE_REDIS_ADDR", ""),
		RedisPassword:      EnvString("PASSSHARE_REDIS_PASSWORD", ""),
		RedisChannelPrefix: EnvString("PASSSHARE_REDIS_CHANNEL_PREFIX", ""),

		SessionTTL:     EnvDuration("PASSSHARE_SESSION_TTL", sharing.DefaultSessionTTL),
		ReaperInterval: EnvDuration("PASSSHARE_REAPER_INTERVAL", sharing.DefaultReaperInterval),
		NotifyTimeout:  EnvDuration("PASSSHARE_NOTIFY_TIMEOUT", sharing.DefaultNotifyTimeout),
		MaxUploadBytes: EnvInt64("PASSSHARE_MAX_UPLOAD_BYTES", api.DefaultMaxUploadBytes),

		SeedUsers: EnvCSV("PASSSHARE_SEED_USERS", nil),

		ReadinessRequireDB: EnvBool("PASSSHARE_READINESS_REQUIRE_DB", false),
	}
}
