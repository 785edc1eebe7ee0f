package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL      string        `env:"DATABASE_URL,default=postgresql://postgres@localhost:5432/taskflow?sslmode=disable"`
	JWTSecret        string        `env:"JWT_SECRET,default=your-super-secret-key-change-in-production"`
	JWTExpiration    time.Duration `env:"JWT_EXPIRATION,default=24h"`
	ServerPort       string        `env:"SERVER_PORT,default=8080"`
	Environment      string        `env:"APP_ENV,default=development"`
	InviteExpiration time.Duration `env:"INVITE_EXPIRATION,default=168h"` // 7 days
	AllowedOrigins   string        `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`

	UploadDir       string `env:"UPLOAD_DIR,default=./uploads"`
	UploadKeyPrefix string `env:"UPLOAD_KEY_PREFIX,default=powerbi"`
	MaxUploadSize   int64  `env:"MAX_UPLOAD_SIZE,default=52428800"` // 50MB

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT,default=587"`
	SMTPUsername string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM,default=no-reply@taskflow.local"`

	RedisURL string `env:"REDIS_URL"`

	RateLimitRPS   int `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst int `env:"RATE_LIMIT_BURST,default=40"`

	ReminderSchedule string `env:"REMINDER_SCHEDULE,default=@every 1m"`
	OverdueSchedule  string `env:"OVERDUE_SCHEDULE,default=@hourly"`
}

var ErrWildcardOrigin = errors.New("ALLOWED_ORIGINS must list explicit origins in production")

// Load reads an optional .env file and decodes the environment into a Config.
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that are unsafe for the current environment.
func (c *Config) Validate() error {
	if c.IsProduction() {
		for _, o := range c.Origins() {
			if o == "*" {
				return ErrWildcardOrigin
			}
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Origins splits AllowedOrigins on commas.
func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
