// Package velocity maintains sliding-window transaction counters in Redis.
// Counting sits on the authorization path, so every store call runs under a
// circuit breaker and a short timeout; when Redis is gone the caller fails
// open rather than waiting it out.
package velocity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stratuspay/fraudengine/internal/circuitbreaker"
	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/metrics"
)

// snapshotDimensions are the counters attached to outgoing decision events,
// independent of which rules fired.
var snapshotDimensions = []string{"card_hash", "device_id", "ip_address"}

// Counter is one observed velocity counter at snapshot time.
type Counter struct {
	Dimension string `json:"dimension"`
	Value     string `json:"value"`
	Count     int64  `json:"count"`
}

// Service owns the velocity counters for the engine.
type Service struct {
	rdb     *redis.Client
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	timeout time.Duration

	sha atomic.Value // script SHA, empty until loaded
}

func New(rdb *redis.Client, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics, timeout time.Duration) *Service {
	s := &Service{
		rdb:     rdb,
		breaker: breaker,
		metrics: m,
		timeout: timeout,
	}
	s.sha.Store("")
	return s
}

// Preload loads the counter script so the first authorization does not pay
// the SCRIPT LOAD round trip. Safe to skip; Check reloads on demand.
func (s *Service) Preload(ctx context.Context) error {
	sha, err := s.rdb.ScriptLoad(ctx, counterScript).Result()
	if err != nil {
		return fmt.Errorf("velocity: script load: %w", err)
	}
	s.sha.Store(sha)
	slog.Info("[Velocity] Counter script loaded", "sha", sha)
	return nil
}

// BreakerState exposes the breaker for the status surface.
func (s *Service) BreakerState() circuitbreaker.State {
	return s.breaker.State()
}

// Check increments the counter for one velocity clause and reports whether
// the threshold is met. Every error return means the count is unknown, not
// that the threshold held.
func (s *Service) Check(ctx context.Context, cfg core.VelocityConfig, value string) (*core.VelocityResult, error) {
	key := Key(cfg.Dimension, value)

	out, err := s.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		count, exceeded, err := s.bump(cctx, key, cfg.WindowSeconds, cfg.Threshold)
		if err != nil {
			return nil, err
		}
		return &core.VelocityResult{
			Dimension:      cfg.Dimension,
			DimensionValue: EncodeValue(value),
			Count:          count,
			Threshold:      cfg.Threshold,
			WindowSeconds:  cfg.WindowSeconds,
			Exceeded:       exceeded,
		}, nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			s.metrics.RecordBreakerOpen()
		}
		return nil, err
	}
	return out.(*core.VelocityResult), nil
}

// ReadOnly reports the current count without incrementing, for replayed
// transactions that must leave no trace.
func (s *Service) ReadOnly(ctx context.Context, cfg core.VelocityConfig, value string) (*core.VelocityResult, error) {
	key := Key(cfg.Dimension, value)

	out, err := s.breaker.ExecuteContext(ctx, func(ctx context.Context) (interface{}, error) {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		count, err := s.rdb.Get(cctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			count = 0
		} else if err != nil {
			return nil, err
		}
		return &core.VelocityResult{
			Dimension:      cfg.Dimension,
			DimensionValue: EncodeValue(value),
			Count:          count,
			Threshold:      cfg.Threshold,
			WindowSeconds:  cfg.WindowSeconds,
			Exceeded:       count >= int64(cfg.Threshold),
		}, nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			s.metrics.RecordBreakerOpen()
		}
		return nil, err
	}
	return out.(*core.VelocityResult), nil
}

// bump runs the counter script, reloading it once on NOSCRIPT and falling
// back to plain INCR+EXPIRE when scripting is unavailable. The fallback is
// not atomic; a crash between the two commands can leave a counter without
// a TTL, which the metric makes visible.
func (s *Service) bump(ctx context.Context, key string, window, threshold uint32) (int64, bool, error) {
	args := []interface{}{window, threshold}

	sha, _ := s.sha.Load().(string)
	if sha != "" {
		v, err := s.rdb.EvalSha(ctx, sha, []string{key}, args...).Result()
		if err == nil {
			return parseScriptReply(v)
		}
		if !redis.HasErrorPrefix(err, "NOSCRIPT") {
			return 0, false, err
		}
	}

	if newSha, err := s.rdb.ScriptLoad(ctx, counterScript).Result(); err == nil {
		s.sha.Store(newSha)
		v, err := s.rdb.EvalSha(ctx, newSha, []string{key}, args...).Result()
		if err == nil {
			return parseScriptReply(v)
		}
		if !redis.HasErrorPrefix(err, "NOSCRIPT") {
			return 0, false, err
		}
	}

	s.metrics.RecordVelocityFallback()
	count, err := s.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, key, time.Duration(window)*time.Second).Err(); err != nil {
			return 0, false, err
		}
	}
	return count, count >= int64(threshold), nil
}

// Snapshot reads the canonical counters for one transaction, best effort.
// It runs off the authorization path (the outbox publisher calls it) and
// returns nil rather than an error when the store is unavailable.
func (s *Service) Snapshot(ctx context.Context, tx *core.Transaction) []Counter {
	if s.breaker.Allow() != nil {
		return nil
	}

	dims := make([]string, 0, len(snapshotDimensions))
	keys := make([]string, 0, len(snapshotDimensions))
	vals := make([]string, 0, len(snapshotDimensions))
	for _, dim := range snapshotDimensions {
		v, ok := tx.DimensionValue(dim)
		if !ok {
			continue
		}
		dims = append(dims, dim)
		keys = append(keys, Key(dim, v))
		vals = append(vals, EncodeValue(v))
	}
	if len(keys) == 0 {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	raw, err := s.rdb.MGet(cctx, keys...).Result()
	if err != nil {
		return nil
	}

	out := make([]Counter, 0, len(raw))
	for i, v := range raw {
		c := Counter{Dimension: dims[i], Value: vals[i]}
		if str, ok := v.(string); ok {
			if n, err := strconv.ParseInt(str, 10, 64); err == nil {
				c.Count = n
			}
		}
		out = append(out, c)
	}
	return out
}
