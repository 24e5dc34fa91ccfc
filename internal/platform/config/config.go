package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "ledgerd/pkg/platform/strings"
)

// Config captures everything the reconciler process needs. Absent values
// degrade gracefully: no Postgres DSN means in-memory stores (dev runs), no
// Redis means the cross-process run lock is disabled, no Kafka means events
// stay in process memory.
type Config struct {
	// PostgresDSN connects the document store. Empty selects the
	// in-memory stores.
	PostgresDSN string
	// RedisURL enables the cross-process run lock.
	RedisURL string
	// KafkaBrokers enables the billing-event sink.
	KafkaBrokers []string
	KafkaTopic   string

	// OpsAddr serves /healthz and /metrics while a batch runs.
	OpsAddr string

	// SystemAddress is BCC'd on conversion and refund receipts.
	SystemAddress string

	// Concurrency bounds the worker pool; 0 means one worker per CPU.
	Concurrency int

	// RunLockTTL caps how long a crashed run can hold the job lease.
	RunLockTTL time.Duration

	// MailFailureThreshold is how many consecutive send failures trip the
	// mail-transport circuit for the rest of the run.
	MailFailureThreshold int

	// Supervised marks scheduler-managed runs; the process then prints a
	// final done line for its supervisor.
	Supervised bool
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		PostgresDSN:   os.Getenv("LEDGERD_POSTGRES_DSN"),
		RedisURL:      os.Getenv("LEDGERD_REDIS_URL"),
		KafkaTopic:    os.Getenv("LEDGERD_KAFKA_TOPIC"),
		OpsAddr:       os.Getenv("LEDGERD_OPS_ADDR"),
		SystemAddress: os.Getenv("LEDGERD_SYSTEM_ADDRESS"),
		RunLockTTL:    30 * time.Minute,
		Supervised:    os.Getenv("LEDGERD_SUPERVISED") == "1",

		MailFailureThreshold: 5,
	}

	if brokers := os.Getenv("LEDGERD_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = platformstrings.DedupeAndTrim(strings.Split(brokers, ","))
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "ledgerd.billing-events"
	}
	if cfg.OpsAddr == "" {
		cfg.OpsAddr = ":9090"
	}
	if cfg.SystemAddress == "" {
		cfg.SystemAddress = "billing@ledgerd.local"
	}
	if n, err := strconv.Atoi(os.Getenv("LEDGERD_CONCURRENCY")); err == nil && n > 0 {
		cfg.Concurrency = n
	}
	if ttl, err := time.ParseDuration(os.Getenv("LEDGERD_RUNLOCK_TTL")); err == nil && ttl > 0 {
		cfg.RunLockTTL = ttl
	}
	if n, err := strconv.Atoi(os.Getenv("LEDGERD_MAIL_FAILURE_THRESHOLD")); err == nil && n > 0 {
		cfg.MailFailureThreshold = n
	}
	return cfg
}
