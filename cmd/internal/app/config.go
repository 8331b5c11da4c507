package app

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"picked/cmd/internal/auth"
	"picked/cmd/internal/messaging"
	"picked/cmd/internal/notify"
	"picked/cmd/internal/realtime"

	"github.com/joho/godotenv"
)

// Config is the runtime configuration of the picked server.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	// Empty DatabaseURL selects the in-memory stores.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// Empty RedisAddr keeps realtime fan-out inside this process.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ReadinessRequireDB makes /readyz fail unless Postgres is configured and reachable.
	ReadinessRequireDB bool

	// RequireTokenKey refuses to start without PICKED_PASETO_V4_SECRET_KEY_HEX
	// instead of signing with an ephemeral key.
	RequireTokenKey bool

	Messaging messaging.Config
	Notify    notify.Config
	Auth      auth.Config
	WS        realtime.GatewayConfig
}

// LoadConfig reads ./.env when present and then the PICKED_* environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return Config{}, err
	}

	ws := realtime.DefaultGatewayConfig()
	ws.OriginRequired = EnvBool("PICKED_WS_ORIGIN_REQUIRED", ws.OriginRequired)
	ws.AllowedOrigins = EnvList("PICKED_WS_ALLOWED_ORIGINS", ws.AllowedOrigins)
	ws.InsecureSkipVerify = EnvBool("PICKED_WS_INSECURE_SKIP_VERIFY", false)
	ws.SendQueueSize = EnvInt("PICKED_WS_SEND_QUEUE", ws.SendQueueSize)
	ws.WriteTimeout = EnvDuration("PICKED_WS_WRITE_TIMEOUT", ws.WriteTimeout)
	ws.ReadIdleTimeout = EnvDuration("PICKED_WS_READ_IDLE_TIMEOUT", ws.ReadIdleTimeout)
	ws.HeartbeatInterval = EnvDuration("PICKED_WS_HEARTBEAT_INTERVAL", ws.HeartbeatInterval)
	ws.HeartbeatTimeout = EnvDuration("PICKED_WS_HEARTBEAT_TIMEOUT", ws.HeartbeatTimeout)
	ws.RateEvents = EnvInt("PICKED_WS_RATE_EVENTS", ws.RateEvents)
	ws.RateWindow = EnvDuration("PICKED_WS_RATE_WINDOW", ws.RateWindow)

	return Config{
		HTTPAddr:  EnvString("PICKED_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("PICKED_LOG_LEVEL", "info"),
		LogFormat: EnvString("PICKED_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("PICKED_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("PICKED_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("PICKED_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("PICKED_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   EnvDuration("PICKED_SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    EnvInt("PICKED_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("PICKED_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("PICKED_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("PICKED_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("PICKED_DB_SCHEMA", "public"),

		RedisAddr:     EnvString("PICKED_REDIS_ADDR", ""),
		RedisPassword: EnvString("PICKED_REDIS_PASSWORD", ""),
		RedisDB:       int(EnvInt32("PICKED_REDIS_DB", 0)),

		ReadinessRequireDB: EnvBool("PICKED_READINESS_REQUIRE_DB", false),
		RequireTokenKey:    EnvBool("PICKED_AUTH_REQUIRE_KEY", false),

		Messaging: messaging.Config{
			StoreTimeout:  EnvDuration("PICKED_STORE_TIMEOUT", messaging.DefaultStoreTimeout),
			NotifyTimeout: EnvDuration("PICKED_NOTIFY_TIMEOUT", messaging.DefaultNotifyTimeout),
			IdleWindow:    EnvDuration("PICKED_NOTIFY_IDLE_WINDOW", messaging.DefaultIdleWindow),
		},
		Notify: notify.Config{
			APIKey:  EnvString("PICKED_RESEND_API_KEY", ""),
			From:    EnvString("PICKED_RESEND_FROM", notify.DefaultFrom),
			SiteURL: EnvString("PICKED_SITE_URL", notify.DefaultSiteURL),
		},
		Auth: authCfg,
		WS:   ws,
	}, nil
}
