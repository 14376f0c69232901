package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RULESET_BUCKET", "fraud-rulesets")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBootstrapServers)
	assert.Equal(t, "rulesets", cfg.RulesetPathPrefix)
	assert.Equal(t, "production", cfg.RulesetEnvironment)
	assert.Equal(t, "outbox:decision-events", cfg.OutboxStreamKey)
	assert.EqualValues(t, 200_000, cfg.OutboxMaxLen)
	assert.Equal(t, 10_000, cfg.QueueCapacity)
	assert.True(t, cfg.LoadShedEnabled)
	assert.Equal(t, []RulesetRef{{Country: "global", Key: "CARD_AUTH"}}, cfg.RequiredRulesets)
	assert.NotEmpty(t, cfg.OutboxConsumerName)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("RULESET_BUCKET", "fraud-rulesets")
	t.Setenv("KAFKA_BOOTSTRAP_SERVERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("REQUIRED_RULESETS", "BR:CARD_AUTH,MX:CARD_AUTH")
	t.Setenv("LOAD_SHED_ENABLED", "false")
	t.Setenv("OUTBOX_MAXLEN", "50000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBootstrapServers)
	assert.Equal(t, []RulesetRef{
		{Country: "BR", Key: "CARD_AUTH"},
		{Country: "MX", Key: "CARD_AUTH"},
	}, cfg.RequiredRulesets)
	assert.False(t, cfg.LoadShedEnabled)
	assert.EqualValues(t, 50_000, cfg.OutboxMaxLen)
}

func TestLoadRequiresBucket(t *testing.T) {
	t.Setenv("RULESET_BUCKET", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RULESET_BUCKET")
}

func TestLoadRejectsMalformedRefs(t *testing.T) {
	t.Setenv("RULESET_BUCKET", "fraud-rulesets")
	t.Setenv("REQUIRED_RULESETS", "just-a-key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestLoadProfile(t *testing.T) {
	// 1. Write a profile listing two required pairs
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	doc := "required_rulesets:\n  - country: BR\n    key: CARD_AUTH\n  - country: global\n    key: CARD_AUTH\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	// 2. Point the loader at it
	t.Setenv("RULESET_BUCKET", "fraud-rulesets")
	t.Setenv("RULESET_PROFILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	// 3. The profile wins over REQUIRED_RULESETS
	assert.Equal(t, []RulesetRef{
		{Country: "BR", Key: "CARD_AUTH"},
		{Country: "global", Key: "CARD_AUTH"},
	}, cfg.RequiredRulesets)
}
