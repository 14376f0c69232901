// Package config loads engine configuration from the environment, with an
// optional YAML profile describing the rulesets an instance must serve.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the complete runtime configuration for one engine instance.
type Config struct {
	HTTPAddr string

	RedisURL string

	KafkaBootstrapServers []string
	KafkaDecisionTopic    string

	S3EndpointURL string
	S3Region      string
	S3AccessKey   string
	S3SecretKey   string

	RulesetBucket      string
	RulesetPathPrefix  string
	RulesetEnvironment string

	OutboxStreamKey     string
	OutboxConsumerGroup string
	OutboxConsumerName  string
	OutboxMaxLen        int64
	OutboxRedisTimeout  time.Duration

	LoadShedEnabled       bool
	LoadShedMaxConcurrent int

	QueueCapacity int
	WriterBurst   int

	ReclaimMinIdle  time.Duration
	ReclaimBatch    int64
	ReclaimInterval time.Duration

	HotReloadInterval time.Duration
	VelocityTimeout   time.Duration

	ShutdownTimeout time.Duration

	RequiredRulesets []RulesetRef
}

// RulesetRef names one (country, ruleset_key) pair the instance must hold
// before it reports ready. Country "global" refers to the legacy unpartitioned
// manifest path.
type RulesetRef struct {
	Country string `yaml:"country"`
	Key     string `yaml:"key"`
}

func (r RulesetRef) String() string {
	return r.Country + ":" + r.Key
}

// Profile is the YAML document pointed at by RULESET_PROFILE.
type Profile struct {
	RequiredRulesets []RulesetRef `yaml:"required_rulesets"`
}

// Load reads configuration from the environment. A .env file is honored when
// present so local runs match deployed ones.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:              envStr("HTTP_ADDR", ":8080"),
		RedisURL:              envStr("REDIS_URL", "redis://localhost:6379/0"),
		KafkaBootstrapServers: splitCSV(envStr("KAFKA_BOOTSTRAP_SERVERS", "localhost:9092")),
		KafkaDecisionTopic:    envStr("KAFKA_DECISION_TOPIC", "fraud.decision.events"),
		S3EndpointURL:         os.Getenv("S3_ENDPOINT_URL"),
		S3Region:              envStr("S3_REGION", "us-east-1"),
		S3AccessKey:           os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:           os.Getenv("S3_SECRET_KEY"),
		RulesetBucket:         os.Getenv("RULESET_BUCKET"),
		RulesetPathPrefix:     envStr("RULESET_PATH_PREFIX", "rulesets"),
		RulesetEnvironment:    envStr("RULESET_ENVIRONMENT", "production"),
		OutboxStreamKey:       envStr("OUTBOX_STREAM_KEY", "outbox:decision-events"),
		OutboxConsumerGroup:   envStr("OUTBOX_CONSUMER_GROUP", "decision-publisher"),
		OutboxConsumerName:    envStr("OUTBOX_CONSUMER_NAME", defaultConsumerName()),
		OutboxMaxLen:          envInt64("OUTBOX_MAXLEN", 200_000),
		OutboxRedisTimeout:    time.Duration(envInt64("OUTBOX_REDIS_TIMEOUT_SECONDS", 5)) * time.Second,
		LoadShedEnabled:       envBool("LOAD_SHED_ENABLED", true),
		LoadShedMaxConcurrent: int(envInt64("LOAD_SHED_MAX_CONCURRENT", 256)),
		QueueCapacity:         int(envInt64("ASYNC_QUEUE_CAPACITY", 10_000)),
		WriterBurst:           int(envInt64("OUTBOX_WRITER_BURST", 64)),
		ReclaimMinIdle:        time.Duration(envInt64("OUTBOX_RECLAIM_MIN_IDLE_SECONDS", 60)) * time.Second,
		ReclaimBatch:          envInt64("OUTBOX_RECLAIM_BATCH", 50),
		ReclaimInterval:       time.Duration(envInt64("OUTBOX_RECLAIM_INTERVAL_SECONDS", 30)) * time.Second,
		HotReloadInterval:     time.Duration(envInt64("HOT_RELOAD_INTERVAL_SECONDS", 30)) * time.Second,
		VelocityTimeout:       time.Duration(envInt64("VELOCITY_TIMEOUT_SECONDS", 5)) * time.Second,
		ShutdownTimeout:       time.Duration(envInt64("SHUTDOWN_TIMEOUT_SECONDS", 10)) * time.Second,
	}

	refs, err := loadRequiredRulesets()
	if err != nil {
		return nil, err
	}
	cfg.RequiredRulesets = refs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the startup loader could not act on.
func (c *Config) Validate() error {
	if c.RulesetBucket == "" {
		return fmt.Errorf("config: RULESET_BUCKET is required")
	}
	if len(c.RequiredRulesets) == 0 {
		return fmt.Errorf("config: no required rulesets configured (set RULESET_PROFILE or REQUIRED_RULESETS)")
	}
	for _, ref := range c.RequiredRulesets {
		if ref.Country == "" || ref.Key == "" {
			return fmt.Errorf("config: malformed ruleset ref %q", ref)
		}
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: ASYNC_QUEUE_CAPACITY must be positive")
	}
	if c.LoadShedEnabled && c.LoadShedMaxConcurrent <= 0 {
		return fmt.Errorf("config: LOAD_SHED_MAX_CONCURRENT must be positive when shedding is enabled")
	}
	return nil
}

// loadRequiredRulesets prefers the YAML profile, then the REQUIRED_RULESETS
// env list ("BR:CARD_AUTH,global:CARD_AUTH").
func loadRequiredRulesets() ([]RulesetRef, error) {
	if path := os.Getenv("RULESET_PROFILE"); path != "" {
		profile, err := LoadProfile(path)
		if err != nil {
			return nil, err
		}
		return profile.RequiredRulesets, nil
	}

	raw := envStr("REQUIRED_RULESETS", "global:CARD_AUTH")
	var refs []RulesetRef
	for _, part := range splitCSV(raw) {
		country, key, found := strings.Cut(part, ":")
		if !found {
			return nil, fmt.Errorf("config: malformed REQUIRED_RULESETS entry %q", part)
		}
		refs = append(refs, RulesetRef{Country: country, Key: key})
	}
	return refs, nil
}

// LoadProfile parses a ruleset profile document.
func LoadProfile(path string) (*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open profile: %w", err)
	}
	defer f.Close()

	var profile Profile
	if err := yaml.NewDecoder(f).Decode(&profile); err != nil {
		return nil, fmt.Errorf("config: parse profile: %w", err)
	}
	return &profile, nil
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "engine"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
