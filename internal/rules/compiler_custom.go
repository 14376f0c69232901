package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/stratuspay/fraudengine/internal/fields"
)

// Slow leaves: fields declared custom resolve from the per-transaction map at
// evaluation time instead of a compiled slot. Constants are still parsed at
// compile time; only the value lookup and coercion happen per request.

func (c *Compiler) compileCustomLeaf(node *ConditionNode) (Predicate, error) {
	name := node.Field

	switch node.Op {
	case OpExists:
		return func(v *fields.Vector) bool {
			val, ok := v.Custom(name)
			if !ok || val == nil {
				return false
			}
			s, isStr := val.(string)
			return !isStr || s != ""
		}, nil

	case OpEQ, OpNE:
		negate := node.Op == OpNE
		if wantNum, ok := constFloat(node.Value); ok {
			if wantStr, isStr := constString(node.Value); isStr {
				// Quoted numerals compare numerically when the runtime value
				// is numeric, byte-exact otherwise.
				return func(v *fields.Vector) bool {
					val, ok := v.Custom(name)
					if !ok {
						return false
					}
					if n, isNum := dynFloat(val); isNum {
						return (n == wantNum) != negate
					}
					if s, is := val.(string); is {
						return (s == wantStr) != negate
					}
					return false
				}, nil
			}
			return func(v *fields.Vector) bool {
				val, ok := v.Custom(name)
				if !ok {
					return false
				}
				n, isNum := dynFloat(val)
				if !isNum {
					return false
				}
				return (n == wantNum) != negate
			}, nil
		}
		if want, ok := constString(node.Value); ok {
			return func(v *fields.Vector) bool {
				val, ok := v.Custom(name)
				if !ok {
					return false
				}
				s, isStr := val.(string)
				if !isStr {
					return false
				}
				return (s == want) != negate
			}, nil
		}
		if want, ok := node.Value.(bool); ok {
			return func(v *fields.Vector) bool {
				val, vok := v.Custom(name)
				if !vok {
					return false
				}
				b, isBool := val.(bool)
				if !isBool {
					return false
				}
				return (b == want) != negate
			}, nil
		}
		return nil, constErr(node)

	case OpGT, OpGTE, OpLT, OpLTE:
		want, ok := constFloat(node.Value)
		if !ok {
			return nil, constErr(node)
		}
		var cmp func(float64) bool
		switch node.Op {
		case OpGT:
			cmp = func(n float64) bool { return n > want }
		case OpGTE:
			cmp = func(n float64) bool { return n >= want }
		case OpLT:
			cmp = func(n float64) bool { return n < want }
		case OpLTE:
			cmp = func(n float64) bool { return n <= want }
		}
		return func(v *fields.Vector) bool {
			val, ok := v.Custom(name)
			if !ok {
				return false
			}
			n, isNum := dynFloat(val)
			return isNum && cmp(n)
		}, nil

	case OpIn, OpNotIn:
		negate := node.Op == OpNotIn
		if len(node.Values) == 0 {
			return nil, fmt.Errorf("%s leaf on %q has no values: %w", node.Op, name, ErrSchema)
		}
		set := make(map[string]struct{}, len(node.Values))
		for _, raw := range node.Values {
			s, ok := constString(raw)
			if !ok {
				return nil, constErr(node)
			}
			set[s] = struct{}{}
		}
		return func(v *fields.Vector) bool {
			val, ok := v.Custom(name)
			if !ok {
				return false
			}
			s, isStr := val.(string)
			if !isStr {
				return false
			}
			_, in := set[s]
			return in != negate
		}, nil

	case OpBetween:
		if len(node.Values) != 2 {
			return nil, fmt.Errorf("BETWEEN on %q needs two bounds, got %d: %w", name, len(node.Values), ErrSchema)
		}
		lo, okLo := constFloat(node.Values[0])
		hi, okHi := constFloat(node.Values[1])
		if !okLo || !okHi {
			return nil, constErr(node)
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return func(v *fields.Vector) bool {
			val, ok := v.Custom(name)
			if !ok {
				return false
			}
			n, isNum := dynFloat(val)
			return isNum && n >= lo && n <= hi
		}, nil

	case OpContains, OpStartsWith, OpEndsWith:
		want, ok := constString(node.Value)
		if !ok {
			return nil, constErr(node)
		}
		var match func(string) bool
		switch node.Op {
		case OpContains:
			match = func(s string) bool { return strings.Contains(s, want) }
		case OpStartsWith:
			match = func(s string) bool { return strings.HasPrefix(s, want) }
		case OpEndsWith:
			match = func(s string) bool { return strings.HasSuffix(s, want) }
		}
		return func(v *fields.Vector) bool {
			val, ok := v.Custom(name)
			if !ok {
				return false
			}
			s, isStr := val.(string)
			return isStr && match(s)
		}, nil

	case OpRegex:
		pattern, ok := constString(node.Value)
		if !ok {
			return nil, constErr(node)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("field %q: bad pattern %q: %v: %w", name, pattern, err, ErrSchema)
		}
		return func(v *fields.Vector) bool {
			val, ok := v.Custom(name)
			if !ok {
				return false
			}
			s, isStr := val.(string)
			return isStr && re.MatchString(s)
		}, nil
	}
	return nil, fmt.Errorf("unknown operator %q on custom field %q: %w", node.Op, name, ErrSchema)
}

// dynFloat coerces runtime custom values: JSON numbers decode as float64,
// but callers also send integers and numeric strings.
func dynFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
