package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	StatusTransitionDelaySeconds int `env:"STATUS_TRANSITION_DELAY_SECONDS,default=30"`
	RandomFailurePercentage      int `env:"RANDOM_FAILURE_PERCENTAGE,default=10"`
	SchedulerPollIntervalSeconds int `env:"SCHEDULER_POLL_INTERVAL_SECONDS,default=5"`
	SchedulerErrorBackoffSeconds int `env:"SCHEDULER_ERROR_BACKOFF_SECONDS,default=10"`

	WebhookEnabled         bool   `env:"WEBHOOK_ENABLED,default=true"`
	WebhookRetryCount      int    `env:"WEBHOOK_RETRY_COUNT,default=3"`
	WebhookTimeoutSeconds  int    `env:"WEBHOOK_TIMEOUT_SECONDS,default=30"`
	WebhookRateLimitPerSec int    `env:"WEBHOOK_RATE_LIMIT_PER_SEC,default=50"`
	RedisURL               string `env:"REDIS_URL"`

	SimulatedLatencyMinMs int   `env:"SIMULATED_LATENCY_MIN_MS,default=0"`
	SimulatedLatencyMaxMs int   `env:"SIMULATED_LATENCY_MAX_MS,default=0"`
	RandomSeed            int64 `env:"RANDOM_SEED,default=0"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.RandomFailurePercentage < 0 || c.RandomFailurePercentage > 100 {
		return fmt.Errorf("RANDOM_FAILURE_PERCENTAGE must be between 0 and 100, got %d", c.RandomFailurePercentage)
	}
	if c.StatusTransitionDelaySeconds < 0 {
		return fmt.Errorf("STATUS_TRANSITION_DELAY_SECONDS must be >= 0, got %d", c.StatusTransitionDelaySeconds)
	}
	if c.WebhookRetryCount < 0 {
		return fmt.Errorf("WEBHOOK_RETRY_COUNT must be >= 0, got %d", c.WebhookRetryCount)
	}
	if c.WebhookTimeoutSeconds <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT_SECONDS must be > 0, got %d", c.WebhookTimeoutSeconds)
	}
	if c.SimulatedLatencyMinMs < 0 || c.SimulatedLatencyMaxMs < c.SimulatedLatencyMinMs {
		return fmt.Errorf("simulated latency range [%d, %d] is invalid", c.SimulatedLatencyMinMs, c.SimulatedLatencyMaxMs)
	}
	return nil
}

func (c *Config) TransitionDelay() time.Duration {
	return time.Duration(c.StatusTransitionDelaySeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.SchedulerPollIntervalSeconds) * time.Second
}

func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.SchedulerErrorBackoffSeconds) * time.Second
}

func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

func (c *Config) SimulatedLatencyRange() (time.Duration, time.Duration) {
	return time.Duration(c.SimulatedLatencyMinMs) * time.Millisecond,
		time.Duration(c.SimulatedLatencyMaxMs) * time.Millisecond
}
