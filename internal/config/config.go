package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`
	StorageDir  string `env:"STORAGE_DIR,default=./data"`

	APIPort     int    `env:"API_PORT,default=8080"`
	MetricsPort int    `env:"METRICS_PORT,default=9091"`
	LogLevel    string `env:"LOG_LEVEL,default=info"`

	// JobConcurrency is how many jobs one worker process runs at a time;
	// RenderConcurrency is the per-job recipient fan-out.
	JobConcurrency    int `env:"JOB_CONCURRENCY,default=2"`
	RenderConcurrency int `env:"RENDER_CONCURRENCY,default=4"`
	RenderTimeoutSecs int `env:"RENDER_TIMEOUT_SECS,default=60"`
	RenderRatePerSec  int `env:"RENDER_RATE_PER_SEC,default=0"`

	CheckpointEvery        int `env:"CHECKPOINT_EVERY,default=10"`
	CheckpointIntervalSecs int `env:"CHECKPOINT_INTERVAL_SECS,default=5"`
	CancelPollSecs         int `env:"CANCEL_POLL_SECS,default=2"`

	ReconcileIntervalSecs int `env:"RECONCILE_INTERVAL_SECS,default=30"`
	PendingGraceSecs      int `env:"PENDING_GRACE_SECS,default=120"`

	StatusCacheTTLSecs int    `env:"STATUS_CACHE_TTL_SECS,default=5"`
	TrackingBaseURL    string `env:"TRACKING_BASE_URL,default=https://trk.stampede.dev/t"`
	NotifyWebhookURL   string `env:"NOTIFY_WEBHOOK_URL"`

	// OmitOnCodeFailure ships a document without its scan code when code
	// generation fails, instead of failing that recipient.
	OmitOnCodeFailure bool `env:"OMIT_ON_CODE_FAILURE,default=false"`

	// RetainDocuments keeps per-recipient PDFs after the archive is built.
	// Disable to reclaim space once the archive holds the only needed copy.
	RetainDocuments bool `env:"RETAIN_DOCUMENTS,default=true"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(c.RenderTimeoutSecs) * time.Second
}

func (c *Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSecs) * time.Second
}

func (c *Config) CancelPollInterval() time.Duration {
	return time.Duration(c.CancelPollSecs) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalSecs) * time.Second
}

func (c *Config) PendingGrace() time.Duration {
	return time.Duration(c.PendingGraceSecs) * time.Second
}

func (c *Config) StatusCacheTTL() time.Duration {
	return time.Duration(c.StatusCacheTTLSecs) * time.Second
}
