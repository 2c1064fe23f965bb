package config

import (
	"fmt"
	"strings"

	"github.com/Netflix/go-env"
)

const (
	TransportPostmark = "postmark"
	TransportWebhook  = "webhook"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	JWTSecret   string `env:"JWT_SECRET,required=true"`

	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE,default=topic_v1"`
	RabbitMQQueue    string `env:"RABBITMQ_QUEUE,default=email_worker"`
	RabbitMQPrefetch int    `env:"RABBITMQ_PREFETCH,default=1"`

	EmailTransport       string `env:"EMAIL_TRANSPORT,default=postmark"`
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL"`
	SupportEmail         string `env:"SUPPORT_EMAIL"`
	EmailWebhookURL      string `env:"EMAIL_WEBHOOK_URL"`
	EmailRateLimitPerSec int    `env:"EMAIL_RATE_LIMIT_PER_SEC,default=10"`

	SweepInitiatedSchedule string `env:"SWEEP_INITIATED_SCHEDULE,default=@every 5m"`
	SweepProducedSchedule  string `env:"SWEEP_PRODUCED_SCHEDULE,default=@every 10m"`
	SweepConsumedSchedule  string `env:"SWEEP_CONSUMED_SCHEDULE,default=@every 10m"`
	SweepPageSize          int    `env:"SWEEP_PAGE_SIZE,default=100"`
	DigestSchedule         string `env:"DIGEST_SCHEDULE,default=20 45 19 * * *"`
	SchedulerTimezone      string `env:"SCHEDULER_TIMEZONE,default=UTC"`

	APIPort    int    `env:"API_PORT,default=8080"`
	WorkerPort int    `env:"WORKER_PORT,default=8081"`
	LogLevel   string `env:"LOG_LEVEL,default=info"`
	LogFile    string `env:"LOG_FILE"`
}

// Load reads the settings shared by the api and the worker.
func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadWorker is Load plus the email transport settings only the worker uses.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateTransport(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	c.EmailTransport = strings.ToLower(strings.TrimSpace(c.EmailTransport))
	if c.RabbitMQPrefetch < 1 {
		return fmt.Errorf("RABBITMQ_PREFETCH must be positive")
	}
	return nil
}

// ValidateTransport checks the settings the selected email transport depends on.
func (c *Config) ValidateTransport() error {
	switch c.EmailTransport {
	case TransportPostmark:
		if c.PostmarkServerToken == "" || c.PostmarkAccountToken == "" {
			return fmt.Errorf("POSTMARK_SERVER_TOKEN and POSTMARK_ACCOUNT_TOKEN are required for the postmark transport")
		}
		if c.SenderEmail == "" || c.SupportEmail == "" {
			return fmt.Errorf("SENDER_EMAIL and SUPPORT_EMAIL are required for the postmark transport")
		}
	case TransportWebhook:
		if c.EmailWebhookURL == "" {
			return fmt.Errorf("EMAIL_WEBHOOK_URL is required for the webhook transport")
		}
	default:
		return fmt.Errorf("unknown EMAIL_TRANSPORT %q", c.EmailTransport)
	}
	if c.EmailRateLimitPerSec < 1 {
		return fmt.Errorf("EMAIL_RATE_LIMIT_PER_SEC must be positive")
	}
	return nil
}
