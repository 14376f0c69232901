// Package rules implements the compiled ruleset: parsing of published rule
// artifacts, compilation of condition trees into predicates over field slots,
// the first-match ordering comparator, and the scope bucket index.
package rules

import (
	"github.com/stratuspay/fraudengine/internal/core"
)

// Artifact is the published ruleset document fetched from the object store.
type Artifact struct {
	RulesetKey     string     `json:"ruleset_key"`
	RulesetID      string     `json:"ruleset_id,omitempty"`
	RulesetVersion int64      `json:"ruleset_version"`
	ExecutionMode  string     `json:"execution_mode,omitempty"`
	Rules          []RuleSpec `json:"rules"`
}

// RuleSpec is one rule as published. Compilation turns it into a
// CompiledRule with a closure predicate.
type RuleSpec struct {
	RuleID    string               `json:"rule_id"`
	Name      string               `json:"name,omitempty"`
	Priority  int32                `json:"priority"`
	Enabled   bool                 `json:"enabled"`
	Action    core.Action          `json:"action"`
	Reason    string               `json:"decision_reason,omitempty"`
	Scope     *ScopeSpec           `json:"scope,omitempty"`
	Condition *ConditionNode       `json:"condition"`
	Velocity  *core.VelocityConfig `json:"velocity,omitempty"`
}

// ScopeSpec restricts a rule to value sets per dimension. OR within a
// dimension, AND across dimensions; an absent dimension is unconstrained.
type ScopeSpec struct {
	Network []string `json:"network,omitempty"`
	BIN     []string `json:"bin,omitempty"`
	MCC     []string `json:"mcc,omitempty"`
	Logo    []string `json:"logo,omitempty"`
}

// ConditionNode is a node of the condition tree: either a composite
// (AND/OR/NOT over children) or a leaf ({field, op, value|values}).
type ConditionNode struct {
	Op       string           `json:"op"`
	Field    string           `json:"field,omitempty"`
	Value    any              `json:"value,omitempty"`
	Values   []any            `json:"values,omitempty"`
	Children []*ConditionNode `json:"children,omitempty"`
}

// Condition operators.
const (
	OpAnd = "AND"
	OpOr  = "OR"
	OpNot = "NOT"

	OpEQ         = "EQ"
	OpNE         = "NE"
	OpGT         = "GT"
	OpGTE        = "GTE"
	OpLT         = "LT"
	OpLTE        = "LTE"
	OpIn         = "IN"
	OpNotIn      = "NOT_IN"
	OpBetween    = "BETWEEN"
	OpContains   = "CONTAINS"
	OpStartsWith = "STARTS_WITH"
	OpEndsWith   = "ENDS_WITH"
	OpRegex      = "REGEX"
	OpExists     = "EXISTS"
)
