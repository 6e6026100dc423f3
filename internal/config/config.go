package config

import (
	"time"

	"github.com/caarlos0/env"
)

// Config carries every tunable of the game-master. All values come from the
// environment so the binary needs no flags or files.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR"  envDefault:":8080"`
	RedisAddr string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASS" envDefault:""`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`

	// Matcher.
	MatchSize        int           `env:"MATCH_SIZE"          envDefault:"2"`
	MatchInterval    time.Duration `env:"MATCH_INTERVAL"      envDefault:"250ms"`
	QueueScanLimit   int           `env:"QUEUE_SCAN_LIMIT"    envDefault:"256"`
	InitialWindow    float64       `env:"INITIAL_WINDOW"      envDefault:"100"`
	WindowGrowthPerS float64       `env:"WINDOW_GROWTH_PER_S" envDefault:"10"`
	MaxWindow        float64       `env:"MAX_WINDOW"          envDefault:"500"`
	MaxQueueWait     time.Duration `env:"MAX_QUEUE_WAIT"      envDefault:"60s"`

	// Session orchestration.
	ProvisionTimeout  time.Duration `env:"PROVISION_TIMEOUT"   envDefault:"10s"`
	ProvisionRetries  int           `env:"PROVISION_RETRIES"   envDefault:"3"`
	BackoffBase       time.Duration `env:"BACKOFF_BASE"        envDefault:"500ms"`
	HealthInterval    time.Duration `env:"HEALTH_INTERVAL"     envDefault:"1s"`
	HealthTimeout     time.Duration `env:"HEALTH_TIMEOUT"      envDefault:"30s"`
	ConnectGrace      time.Duration `env:"CONNECT_GRACE"       envDefault:"30s"`
	MaxRequeue        int           `env:"MAX_REQUEUE"         envDefault:"3"  envDocs:"failed-session re-enqueues per player before matchmaking_failed"`
	OrchestratorURL   string        `env:"ORCHESTRATOR_URL"    envDefault:""   envDocs:"workload orchestrator base URL; empty selects the in-process provisioner"`

	// Result ingestion.
	EloK           float64       `env:"ELO_K"           envDefault:"32"`
	IngestRetries  int           `env:"INGEST_RETRIES"  envDefault:"5"`
	ProcessedTTL   time.Duration `env:"PROCESSED_TTL"   envDefault:"24h" envDocs:"retention for the processed-match idempotency set"`
	OutcomeTTL     time.Duration `env:"OUTCOME_TTL"     envDefault:"10m" envDocs:"retention for terminal outcome records served by /queue/status"`
	LeaderboardURL string        `env:"LEADERBOARD_URL" envDefault:""`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
