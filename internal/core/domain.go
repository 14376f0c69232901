// Package core defines the domain model shared across the decision engine:
// the transaction context, the decision envelope, velocity results, and the
// enums that describe how a decision was produced.
package core

import (
	"time"
)

// Action is the outcome applied to an authorization.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionDecline Action = "DECLINE"
)

// EngineMode describes how much of the evaluation the engine was able to run.
type EngineMode string

const (
	// ModeNormal means the full rule walk and velocity checks completed.
	ModeNormal EngineMode = "NORMAL"
	// ModeDegraded means the engine answered but skipped or synthesized part
	// of the evaluation (load shed, monitoring-path velocity outage).
	ModeDegraded EngineMode = "DEGRADED"
	// ModeFailOpen means the engine could not evaluate and approved by policy.
	ModeFailOpen EngineMode = "FAIL_OPEN"
	// ModeReplay marks an evaluation with every side effect suppressed.
	ModeReplay EngineMode = "REPLAY"
)

// EvaluationType selects the evaluation semantics a ruleset was compiled for.
type EvaluationType string

const (
	EvalAuth       EvaluationType = "AUTH"
	EvalMonitoring EvaluationType = "MONITORING"
)

// Engine error codes carried in-band on the decision envelope.
const (
	CodeRulesetNotLoaded   = "RULESET_NOT_LOADED"
	CodeRedisUnavailable   = "REDIS_UNAVAILABLE"
	CodeChecksumMismatch   = "CHECKSUM_MISMATCH"
	CodeArtifactNotFound   = "ARTIFACT_NOT_FOUND"
	CodeEvaluationError    = "EVALUATION_ERROR"
	CodeLoadShedding       = "LOAD_SHEDDING"
	CodeEventPublishFailed = "EVENT_PUBLISH_FAILED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnresolvedField    = "UNRESOLVED_FIELD"
	CodeSchemaIncompatible = "SCHEMA_INCOMPATIBLE"
)

// Decision reasons surfaced on matched rules and the envelope.
const (
	ReasonDefaultAllow     = "DEFAULT_ALLOW"
	ReasonVelocityExceeded = "VELOCITY_EXCEEDED"
)

// Transaction is the immutable per-request authorization context. It is owned
// by the handling request; the durability pipeline works on a snapshot.
type Transaction struct {
	TransactionID        string         `json:"transaction_id"`
	CardHash             string         `json:"card_hash"`
	Amount               float64        `json:"amount"`
	Currency             string         `json:"currency"`
	CountryCode          string         `json:"country_code"`
	MerchantCategoryCode string         `json:"merchant_category_code"`
	CardNetwork          string         `json:"card_network"`
	CardBIN              string         `json:"card_bin"`
	CardLogo             string         `json:"card_logo"`
	IPAddress            string         `json:"ip_address"`
	DeviceID             string         `json:"device_id"`
	Timestamp            time.Time      `json:"timestamp"`
	Custom               map[string]any `json:"custom,omitempty"`
}

// DimensionValue returns the transaction's value for a velocity dimension
// (a field name such as "card_hash" or "card_bin"). Custom fields are
// consulted when no built-in attribute matches.
func (t *Transaction) DimensionValue(name string) (string, bool) {
	switch name {
	case "transaction_id":
		return t.TransactionID, t.TransactionID != ""
	case "card_hash":
		return t.CardHash, t.CardHash != ""
	case "currency":
		return t.Currency, t.Currency != ""
	case "country_code":
		return t.CountryCode, t.CountryCode != ""
	case "merchant_category_code":
		return t.MerchantCategoryCode, t.MerchantCategoryCode != ""
	case "card_network":
		return t.CardNetwork, t.CardNetwork != ""
	case "card_bin":
		return t.CardBIN, t.CardBIN != ""
	case "card_logo":
		return t.CardLogo, t.CardLogo != ""
	case "ip_address":
		return t.IPAddress, t.IPAddress != ""
	case "device_id":
		return t.DeviceID, t.DeviceID != ""
	}
	if v, ok := t.Custom[name]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// VelocityConfig is a per-rule sliding-window constraint. Dimension names a
// transaction field; the action applies when the window count reaches the
// threshold.
type VelocityConfig struct {
	Dimension     string `json:"dimension"`
	WindowSeconds uint32 `json:"window_seconds"`
	Threshold     uint32 `json:"threshold"`
	Action        Action `json:"action"`
}

// MatchedRule identifies a rule that fired during evaluation.
type MatchedRule struct {
	RuleID   string `json:"rule_id"`
	Action   Action `json:"action"`
	Priority int32  `json:"priority"`
	Reason   string `json:"reason,omitempty"`
}

// VelocityResult is the outcome of one velocity check.
type VelocityResult struct {
	Dimension      string `json:"dimension"`
	DimensionValue string `json:"dimension_value"`
	Count          int64  `json:"count"`
	Threshold      uint32 `json:"threshold"`
	WindowSeconds  uint32 `json:"window_seconds"`
	Exceeded       bool   `json:"exceeded"`
}

// Decision is the response envelope. It is created on request entry,
// completed before the response is written, and handed to the durability
// pipeline as part of the outbox event.
type Decision struct {
	DecisionID       string           `json:"decision_id"`
	TransactionID    string           `json:"transaction_id"`
	Action           Action           `json:"decision"`
	EngineMode       EngineMode       `json:"engine_mode"`
	EngineErrorCode  string           `json:"engine_error_code,omitempty"`
	DecisionReason   string           `json:"decision_reason,omitempty"`
	RulesetKey       string           `json:"ruleset_key,omitempty"`
	RulesetVersion   int64            `json:"ruleset_version,omitempty"`
	ProcessingTimeMs float64          `json:"processing_time_ms"`
	MatchedRules     []MatchedRule    `json:"matched_rules,omitempty"`
	VelocityResults  []VelocityResult `json:"velocity_results,omitempty"`

	// EvaluationType records which kind of ruleset produced the decision. It
	// rides the outbox event for the analytics hand-off and stays off the
	// HTTP envelope.
	EvaluationType EvaluationType `json:"-"`
}

// EngineMetadata identifies the engine instance that produced a decision
// event. It travels on the bus record so downstream consumers can correlate
// replays and rollouts.
type EngineMetadata struct {
	InstanceID    string `json:"instance_id"`
	EngineVersion string `json:"engine_version"`
	Hostname      string `json:"hostname,omitempty"`
}
