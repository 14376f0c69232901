package sdk

import (
	"fmt"
	"time"
)

// Decision actions returned by the engine.
const (
	// ActionApprove lets the authorization proceed.
	ActionApprove = "APPROVE"

	// ActionDecline rejects the authorization.
	ActionDecline = "DECLINE"
)

// Engine modes reported on the decision envelope.
const (
	// ModeNormal means the full evaluation completed.
	ModeNormal = "NORMAL"

	// ModeDegraded means the engine answered but skipped or synthesized part
	// of the work (load shedding, velocity breaker open).
	ModeDegraded = "DEGRADED"

	// ModeFailOpen means the engine could not evaluate and approved by policy.
	ModeFailOpen = "FAIL_OPEN"

	// ModeReplay marks an evaluation with every side effect suppressed.
	ModeReplay = "REPLAY"
)

// Transaction is the authorization context sent to the engine.
type Transaction struct {
	// TransactionID is the caller's unique id for this authorization (required).
	TransactionID string `json:"transaction_id"`

	// CardHash is the tokenized card identifier used for velocity counting.
	CardHash string `json:"card_hash,omitempty"`

	// Amount in the minor-unit-free currency of Currency.
	Amount float64 `json:"amount,omitempty"`

	Currency             string `json:"currency,omitempty"`
	CountryCode          string `json:"country_code,omitempty"`
	MerchantCategoryCode string `json:"merchant_category_code,omitempty"`
	CardNetwork          string `json:"card_network,omitempty"`
	CardBIN              string `json:"card_bin,omitempty"`
	CardLogo             string `json:"card_logo,omitempty"`
	IPAddress            string `json:"ip_address,omitempty"`
	DeviceID             string `json:"device_id,omitempty"`

	// Timestamp of the authorization attempt. Zero means "now" server-side.
	Timestamp time.Time `json:"timestamp,omitzero"`

	// Custom carries tenant-defined fields referenced by custom rules.
	Custom map[string]any `json:"custom,omitempty"`
}

// MatchedRule identifies a rule that fired during evaluation.
type MatchedRule struct {
	RuleID   string `json:"rule_id"`
	Action   string `json:"action"`
	Priority int32  `json:"priority"`
	Reason   string `json:"reason,omitempty"`
}

// VelocityResult is the outcome of one sliding-window check.
type VelocityResult struct {
	Dimension      string `json:"dimension"`
	DimensionValue string `json:"dimension_value"`
	Count          int64  `json:"count"`
	Threshold      uint32 `json:"threshold"`
	WindowSeconds  uint32 `json:"window_seconds"`
	Exceeded       bool   `json:"exceeded"`
}

// Decision is the engine's response envelope. The engine answers 200 with a
// complete envelope even when it degraded internally; inspect EngineMode and
// EngineErrorCode rather than the HTTP status.
type Decision struct {
	DecisionID       string           `json:"decision_id"`
	TransactionID    string           `json:"transaction_id"`
	Action           string           `json:"decision"`
	EngineMode       string           `json:"engine_mode"`
	EngineErrorCode  string           `json:"engine_error_code,omitempty"`
	DecisionReason   string           `json:"decision_reason,omitempty"`
	RulesetKey       string           `json:"ruleset_key,omitempty"`
	RulesetVersion   int64            `json:"ruleset_version,omitempty"`
	ProcessingTimeMs float64          `json:"processing_time_ms"`
	MatchedRules     []MatchedRule    `json:"matched_rules,omitempty"`
	VelocityResults  []VelocityResult `json:"velocity_results,omitempty"`

	// LoadShed reports whether this decision came from the shed path. It is
	// carried on the X-Load-Shed response header, not in the body.
	LoadShed bool `json:"-"`
}

// RulesetStatus describes one loaded ruleset on the status surface.
type RulesetStatus struct {
	Country        string `json:"country"`
	RulesetKey     string `json:"ruleset_key"`
	Version        int64  `json:"version"`
	RuleCount      int    `json:"rule_count"`
	CachedBuckets  int    `json:"cached_buckets"`
	EvaluationType string `json:"evaluation_type,omitempty"`
}

// EngineStatus is the engine's operational snapshot.
type EngineStatus struct {
	Service         string          `json:"service"`
	Ready           bool            `json:"ready"`
	Rulesets        []RulesetStatus `json:"rulesets"`
	VelocityBreaker string          `json:"velocity_breaker"`
	QueueDepth      int             `json:"queue_depth"`
	ShedInUse       int             `json:"shed_in_use"`
	ShedCapacity    int             `json:"shed_capacity"`

	// Counters mirrors the engine's invariant counters by name.
	Counters map[string]uint64 `json:"counters"`
}

// APIError is returned when the engine answers with a non-200 status.
type APIError struct {
	StatusCode int
	Code       string `json:"engine_error_code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return "fraudengine: " + e.Code + ": " + e.Message
	}
	return fmt.Sprintf("fraudengine: unexpected status %d", e.StatusCode)
}
