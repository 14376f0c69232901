// Package evaluator walks compiled rulesets over incoming transactions and
// produces decisions. Matching is pure; the only I/O on the path is the
// velocity check, and every failure class degrades to a served decision
// rather than an error response.
package evaluator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/debug"
	"github.com/stratuspay/fraudengine/internal/metrics"
	"github.com/stratuspay/fraudengine/internal/rules"
	"github.com/stratuspay/fraudengine/internal/velocity"
)

// RulesetSource resolves the serving ruleset for a country, falling back to
// the global partition.
type RulesetSource interface {
	GetWithFallback(country, key string) (*rules.CompiledRuleset, bool)
}

// VelocityChecker is the slice of the velocity service the evaluator needs.
type VelocityChecker interface {
	Check(ctx context.Context, cfg core.VelocityConfig, value string) (*core.VelocityResult, error)
	ReadOnly(ctx context.Context, cfg core.VelocityConfig, value string) (*core.VelocityResult, error)
}

// Options select the ruleset and the evaluation mode for one transaction.
type Options struct {
	RulesetKey string
	Replay     bool
}

type Evaluator struct {
	rulesets RulesetSource
	velocity VelocityChecker
	metrics  *metrics.Metrics
}

func New(rulesets RulesetSource, vel VelocityChecker, m *metrics.Metrics) *Evaluator {
	return &Evaluator{rulesets: rulesets, velocity: vel, metrics: m}
}

// Evaluate always returns a complete decision. First matching rule wins; a
// matched rule's velocity clause can override its action; no match defaults
// to approve.
func (e *Evaluator) Evaluate(ctx context.Context, tx *core.Transaction, opts Options) (d *core.Decision) {
	start := time.Now()

	d = &core.Decision{
		DecisionID:    uuid.New().String(),
		TransactionID: tx.TransactionID,
		RulesetKey:    opts.RulesetKey,
		EngineMode:    core.ModeNormal,
	}
	if opts.Replay {
		d.EngineMode = core.ModeReplay
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("[Evaluator] Recovered from panic",
				"transaction_id", tx.TransactionID, "panic", r)
			fresh := &core.Decision{
				DecisionID:      d.DecisionID,
				TransactionID:   tx.TransactionID,
				Action:          core.ActionApprove,
				EngineMode:      core.ModeFailOpen,
				EngineErrorCode: core.CodeEvaluationError,
				RulesetKey:      d.RulesetKey,
				RulesetVersion:  d.RulesetVersion,
				EvaluationType:  d.EvaluationType,
			}
			if opts.Replay {
				fresh.EngineMode = core.ModeReplay
			}
			d = e.finish(fresh, start)
		}
	}()

	rs, ok := e.rulesets.GetWithFallback(tx.CountryCode, opts.RulesetKey)
	if !ok {
		d.Action = core.ActionApprove
		if !opts.Replay {
			d.EngineMode = core.ModeFailOpen
		}
		d.EngineErrorCode = core.CodeRulesetNotLoaded
		return e.finish(d, start)
	}
	d.RulesetVersion = rs.Version
	d.EvaluationType = rs.EvaluationType

	vec := rs.Fields.Bind(tx)
	eligible := rs.Eligible(tx.CardNetwork, tx.CardBIN, tx.MerchantCategoryCode, tx.CardLogo)

	for _, rule := range eligible {
		if !rule.Enabled {
			debug.Tracef("[Evaluator] rule %s disabled, skipped", rule.RuleID)
			continue
		}
		if !rule.Predicate(vec) {
			debug.Tracef("[Evaluator] rule %s predicate miss", rule.RuleID)
			continue
		}
		debug.Tracef("[Evaluator] rule %s matched, action %s", rule.RuleID, rule.Action)

		action := rule.Action
		reason := rule.Reason

		if rule.Velocity != nil {
			res, verr := e.checkVelocity(ctx, rule.Velocity, tx, opts.Replay)
			switch {
			case verr == nil && res != nil:
				d.VelocityResults = append(d.VelocityResults, *res)
				if res.Exceeded {
					action = rule.Velocity.Action
					reason = core.ReasonVelocityExceeded
				}
			case verr != nil && errors.Is(verr, velocity.ErrInternal):
				// A bug in the counter pathway, not an outage. Serve the
				// safe decision rather than trusting partial state.
				slog.Error("[Evaluator] Velocity internal error",
					"transaction_id", tx.TransactionID, "rule_id", rule.RuleID, "error", verr)
				d.Action = core.ActionApprove
				if !opts.Replay {
					d.EngineMode = core.ModeFailOpen
				}
				d.EngineErrorCode = core.CodeEvaluationError
				d.MatchedRules = nil
				d.VelocityResults = nil
				return e.finish(d, start)
			case verr != nil:
				// Store unreachable or breaker open: the clause is skipped
				// and the rule's own action stands.
				if !opts.Replay {
					if rs.EvaluationType == core.EvalMonitoring {
						d.EngineMode = core.ModeDegraded
					} else {
						d.EngineMode = core.ModeFailOpen
					}
				}
				d.EngineErrorCode = core.CodeRedisUnavailable
			}
		}

		d.Action = action
		d.DecisionReason = reason
		d.MatchedRules = append(d.MatchedRules, core.MatchedRule{
			RuleID:   rule.RuleID,
			Action:   action,
			Priority: rule.Priority,
			Reason:   reason,
		})
		return e.finish(d, start)
	}

	d.Action = core.ActionApprove
	d.DecisionReason = core.ReasonDefaultAllow
	return e.finish(d, start)
}

// checkVelocity resolves the dimension value and consults the counter. A
// transaction without the dimension has nothing to count; the clause is
// silently inert for it.
func (e *Evaluator) checkVelocity(ctx context.Context, cfg *core.VelocityConfig, tx *core.Transaction, replay bool) (*core.VelocityResult, error) {
	value, ok := tx.DimensionValue(cfg.Dimension)
	if !ok {
		return nil, nil
	}
	if replay {
		return e.velocity.ReadOnly(ctx, *cfg, value)
	}
	return e.velocity.Check(ctx, *cfg, value)
}

func (e *Evaluator) finish(d *core.Decision, start time.Time) *core.Decision {
	d.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	e.metrics.RecordDecision(string(d.Action), string(d.EngineMode))
	return d
}
