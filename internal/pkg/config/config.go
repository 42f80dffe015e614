package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration. Every knob has a safe default;
// REDIS_ADDR left empty runs the subsystem in local-only mode.
type Config struct {
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"json"`
	ServerAddr   string `env:"SERVER_ADDR" envDefault:":8080"`
	MaxEventSize int64  `env:"MAX_EVENT_SIZE_BYTES" envDefault:"65536"` // 64KB

	Enabled    bool   `env:"EVENTLOG_ENABLED" envDefault:"true"`
	InstanceID string `env:"INSTANCE_ID"` // defaults to hostname-pid

	LogPath    string `env:"EVENTLOG_PATH" envDefault:"data/events.ndjson"`
	StatePath  string `env:"EVENTLOG_STATE_PATH" envDefault:"data/eventlog-state.json"`
	ArchiveDir string `env:"EVENTLOG_ARCHIVE_DIR" envDefault:"data/archive"`

	QueueCapacity     int           `env:"QUEUE_CAPACITY" envDefault:"5000"`
	FlushInterval     time.Duration `env:"FLUSH_INTERVAL" envDefault:"400ms"`
	FlushBatchSize    int           `env:"FLUSH_BATCH_SIZE" envDefault:"500"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	WriteRetries      int           `env:"WRITE_RETRIES" envDefault:"3"`
	WriteRetryBackoff time.Duration `env:"WRITE_RETRY_BACKOFF" envDefault:"250ms"`

	RotateEnabled       bool          `env:"ROTATE_ENABLED" envDefault:"true"`
	RotateMaxBytes      int64         `env:"ROTATE_MAX_BYTES" envDefault:"20971520"` // 20MB
	RotateCheckInterval time.Duration `env:"ROTATE_CHECK_INTERVAL" envDefault:"1s"`
	RotationLockTTL     time.Duration `env:"ROTATION_LOCK_TTL" envDefault:"10s"`
	ArchiveMaxFiles     int           `env:"ARCHIVE_MAX_FILES" envDefault:"10"`

	RateWindow time.Duration `env:"RATE_WINDOW" envDefault:"60s"`
	RateMax    int64         `env:"RATE_MAX" envDefault:"120"`

	RedisAddr          string        `env:"REDIS_ADDR"`
	RedisKeyPrefix     string        `env:"REDIS_KEY_PREFIX" envDefault:"eventlog"`
	RedisOpTimeout     time.Duration `env:"REDIS_OP_TIMEOUT" envDefault:"250ms"`
	RedisRetryCooldown time.Duration `env:"REDIS_RETRY_COOLDOWN" envDefault:"5s"`
	StreamMaxLen       int64         `env:"STREAM_MAX_LEN" envDefault:"100000"`

	StateDebounce time.Duration `env:"STATE_DEBOUNCE" envDefault:"2s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
