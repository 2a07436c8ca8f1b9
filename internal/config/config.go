package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	DeveloperID  string `env:"DEVELOPER_ID"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"json"`
	StoragePath   string `env:"STORAGE_PATH"`

	Workers   int `env:"WORKERS" envDefault:"8"`
	QueueSize int `env:"QUEUE_SIZE" envDefault:"256"`

	OracleTimeout  time.Duration `env:"ORACLE_TIMEOUT" envDefault:"3s"`
	PersistTimeout time.Duration `env:"PERSIST_TIMEOUT" envDefault:"5s"`

	ThrottleSweepInterval time.Duration `env:"THROTTLE_SWEEP_INTERVAL" envDefault:"1m"`
	ThrottleIdleTTL       time.Duration `env:"THROTTLE_IDLE_TTL" envDefault:"10m"`

	SchedulerMaxAttempts   int           `env:"SCHEDULER_MAX_ATTEMPTS" envDefault:"5"`
	SchedulerRetryDelay    time.Duration `env:"SCHEDULER_RETRY_DELAY" envDefault:"2s"`
	SchedulerMaxRetryDelay time.Duration `env:"SCHEDULER_MAX_RETRY_DELAY" envDefault:"1m"`
	SchedulerConcurrency   int           `env:"SCHEDULER_CONCURRENCY" envDefault:"4"`
	SchedulerRecovery      time.Duration `env:"SCHEDULER_RECOVERY_INTERVAL" envDefault:"5m"`

	// GlobalThrottle applies to every command, e.g. "user,20,60". Empty disables it.
	GlobalThrottle string `env:"GLOBAL_THROTTLE"`

	GuildBlacklist []string `env:"GUILD_BLACKLIST" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// New loads .env (if present) and the process environment.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[INFO] No .env file found, falling back to system environment variables")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if cfg.StoragePath == "" {
		switch cfg.StorageDriver {
		case "sqlite":
			cfg.StoragePath = "warden.db"
		default:
			cfg.StoragePath = "datastore.json"
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "json", "sqlite":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be json or sqlite, got %q", c.StorageDriver)
	}
	if c.Workers < 1 {
		return errors.New("WORKERS must be at least 1")
	}
	if c.QueueSize < 0 {
		return errors.New("QUEUE_SIZE must not be negative")
	}
	if c.SchedulerMaxAttempts < 1 {
		return errors.New("SCHEDULER_MAX_ATTEMPTS must be at least 1")
	}
	if c.SchedulerConcurrency < 1 {
		return errors.New("SCHEDULER_CONCURRENCY must be at least 1")
	}
	return nil
}

// RequireToken is checked only by binaries that open a gateway session.
func (c *Config) RequireToken() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is not set")
	}
	return nil
}

// IsBlacklisted reports whether the bot should ignore a guild entirely.
func (c *Config) IsBlacklisted(guildID string) bool {
	for _, id := range c.GuildBlacklist {
		if id == guildID {
			return true
		}
	}
	return false
}
