package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/fields"
)

// Predicate evaluates a compiled condition against a bound slot vector.
//
// Predicates are total: they never panic, and a leaf over an absent slot or a
// mismatched type evaluates to false. EXISTS is the only operator that
// inspects absence itself; negative matches on missing data are expressed
// with NOT(EXISTS(...)).
type Predicate func(*fields.Vector) bool

var (
	// ErrUnresolvedField marks a leaf whose field is neither in the registry
	// nor declared as a custom field.
	ErrUnresolvedField = errors.New("unresolved field")

	// ErrSchema marks a rule or condition the engine cannot compile.
	ErrSchema = errors.New("incompatible rule schema")
)

// hashedSetMin is the IN/NOT_IN cardinality at which membership switches
// from a linear scan to a prebuilt hash set.
const hashedSetMin = 8

// Compiler translates condition trees into predicates against one registry
// version. Field names resolve to slot IDs exactly once, at compile time.
type Compiler struct {
	registry *fields.Registry
}

func NewCompiler(reg *fields.Registry) *Compiler {
	return &Compiler{registry: reg}
}

// CompileRule validates a rule spec and compiles its condition.
func (c *Compiler) CompileRule(spec *RuleSpec) (*CompiledRule, error) {
	if spec.RuleID == "" {
		return nil, fmt.Errorf("rule without rule_id: %w", ErrSchema)
	}
	if err := validAction(spec.Action); err != nil {
		return nil, fmt.Errorf("rule %s: %w", spec.RuleID, err)
	}
	if spec.Condition == nil {
		return nil, fmt.Errorf("rule %s: missing condition: %w", spec.RuleID, ErrSchema)
	}
	if v := spec.Velocity; v != nil {
		if v.Dimension == "" || v.WindowSeconds == 0 || v.Threshold == 0 {
			return nil, fmt.Errorf("rule %s: malformed velocity config: %w", spec.RuleID, ErrSchema)
		}
		if err := validAction(v.Action); err != nil {
			return nil, fmt.Errorf("rule %s velocity: %w", spec.RuleID, err)
		}
	}

	pred, err := c.Compile(spec.Condition)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", spec.RuleID, err)
	}

	return &CompiledRule{
		RuleID:    spec.RuleID,
		Name:      spec.Name,
		Priority:  spec.Priority,
		Enabled:   spec.Enabled,
		Action:    spec.Action,
		Reason:    spec.Reason,
		Scope:     newScope(spec.Scope),
		Velocity:  spec.Velocity,
		Predicate: pred,
	}, nil
}

func validAction(a core.Action) error {
	switch a {
	case core.ActionApprove, core.ActionDecline:
		return nil
	default:
		return fmt.Errorf("unknown action %q: %w", a, ErrSchema)
	}
}

// Compile builds a single predicate closure for a condition tree.
func (c *Compiler) Compile(node *ConditionNode) (Predicate, error) {
	if node == nil {
		return nil, fmt.Errorf("nil condition node: %w", ErrSchema)
	}

	switch node.Op {
	case OpAnd, OpOr:
		if len(node.Children) == 0 {
			return nil, fmt.Errorf("%s node has no children: %w", node.Op, ErrSchema)
		}
		children := make([]Predicate, len(node.Children))
		for i, child := range node.Children {
			p, err := c.Compile(child)
			if err != nil {
				return nil, err
			}
			children[i] = p
		}
		if node.Op == OpAnd {
			return func(v *fields.Vector) bool {
				for _, p := range children {
					if !p(v) {
						return false
					}
				}
				return true
			}, nil
		}
		return func(v *fields.Vector) bool {
			for _, p := range children {
				if p(v) {
					return true
				}
			}
			return false
		}, nil

	case OpNot:
		if len(node.Children) != 1 {
			return nil, fmt.Errorf("NOT node needs exactly one child, got %d: %w", len(node.Children), ErrSchema)
		}
		inner, err := c.Compile(node.Children[0])
		if err != nil {
			return nil, err
		}
		return func(v *fields.Vector) bool { return !inner(v) }, nil

	default:
		return c.compileLeaf(node)
	}
}

func (c *Compiler) compileLeaf(node *ConditionNode) (Predicate, error) {
	if node.Field == "" {
		return nil, fmt.Errorf("%s leaf has no field: %w", node.Op, ErrSchema)
	}

	field, ok := c.registry.Resolve(node.Field)
	if !ok {
		if c.registry.IsCustom(node.Field) {
			return c.compileCustomLeaf(node)
		}
		return nil, fmt.Errorf("condition references field %q: %w", node.Field, ErrUnresolvedField)
	}
	if !field.AllowsOperator(node.Op) {
		return nil, fmt.Errorf("operator %s not allowed on field %q: %w", node.Op, node.Field, ErrSchema)
	}

	switch node.Op {
	case OpExists:
		id := field.ID
		return func(v *fields.Vector) bool { return !v.Slot(id).IsAbsent() }, nil
	case OpEQ, OpNE:
		return c.compileEquality(node, field)
	case OpGT, OpGTE, OpLT, OpLTE:
		return c.compileOrdered(node, field)
	case OpIn, OpNotIn:
		return c.compileMembership(node, field)
	case OpBetween:
		return c.compileBetween(node, field)
	case OpContains, OpStartsWith, OpEndsWith:
		return c.compileSubstring(node, field)
	case OpRegex:
		return c.compileRegex(node, field)
	default:
		return nil, fmt.Errorf("unknown operator %q: %w", node.Op, ErrSchema)
	}
}

func (c *Compiler) compileEquality(node *ConditionNode, field fields.Field) (Predicate, error) {
	id := field.ID
	negate := node.Op == OpNE

	switch field.DataType {
	case fields.TypeNumber:
		want, ok := constFloat(node.Value)
		if !ok {
			return nil, constErr(node)
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			if s.Kind != fields.KindNumber {
				return false
			}
			return (s.Num == want) != negate
		}, nil

	case fields.TypeString:
		want, ok := constString(node.Value)
		if !ok {
			return nil, constErr(node)
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			if s.Kind != fields.KindString {
				return false
			}
			return (s.Str == want) != negate
		}, nil

	case fields.TypeBoolean:
		want, ok := constBool(node.Value)
		if !ok {
			return nil, constErr(node)
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			if s.Kind != fields.KindBool {
				return false
			}
			return (s.Bool == want) != negate
		}, nil

	case fields.TypeTimestamp:
		want, ok := constTime(node.Value)
		if !ok {
			return nil, constErr(node)
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			if s.Kind != fields.KindTime {
				return false
			}
			return s.Time.Equal(want) != negate
		}, nil
	}
	return nil, fmt.Errorf("field %q: %s unsupported for %s: %w", node.Field, node.Op, field.DataType, ErrSchema)
}

func (c *Compiler) compileOrdered(node *ConditionNode, field fields.Field) (Predicate, error) {
	id := field.ID

	switch field.DataType {
	case fields.TypeNumber:
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
			s := v.Slot(id)
			return s.Kind == fields.KindNumber && cmp(s.Num)
		}, nil

	case fields.TypeTimestamp:
		want, ok := constTime(node.Value)
		if !ok {
			return nil, constErr(node)
		}
		var cmp func(time.Time) bool
		switch node.Op {
		case OpGT:
			cmp = func(t time.Time) bool { return t.After(want) }
		case OpGTE:
			cmp = func(t time.Time) bool { return !t.Before(want) }
		case OpLT:
			cmp = func(t time.Time) bool { return t.Before(want) }
		case OpLTE:
			cmp = func(t time.Time) bool { return !t.After(want) }
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			return s.Kind == fields.KindTime && cmp(s.Time)
		}, nil
	}
	return nil, fmt.Errorf("field %q: ordered comparison on %s: %w", node.Field, field.DataType, ErrSchema)
}

func (c *Compiler) compileMembership(node *ConditionNode, field fields.Field) (Predicate, error) {
	id := field.ID
	negate := node.Op == OpNotIn
	if len(node.Values) == 0 {
		return nil, fmt.Errorf("%s leaf on %q has no values: %w", node.Op, node.Field, ErrSchema)
	}

	switch field.DataType {
	case fields.TypeString:
		vals := make([]string, len(node.Values))
		for i, raw := range node.Values {
			s, ok := constString(raw)
			if !ok {
				return nil, constErr(node)
			}
			vals[i] = s
		}
		if len(vals) >= hashedSetMin {
			set := make(map[string]struct{}, len(vals))
			for _, s := range vals {
				set[s] = struct{}{}
			}
			return func(v *fields.Vector) bool {
				s := v.Slot(id)
				if s.Kind != fields.KindString {
					return false
				}
				_, in := set[s.Str]
				return in != negate
			}, nil
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			if s.Kind != fields.KindString {
				return false
			}
			in := false
			for _, w := range vals {
				if s.Str == w {
					in = true
					break
				}
			}
			return in != negate
		}, nil

	case fields.TypeNumber:
		vals := make([]float64, len(node.Values))
		for i, raw := range node.Values {
			n, ok := constFloat(raw)
			if !ok {
				return nil, constErr(node)
			}
			vals[i] = n
		}
		if len(vals) >= hashedSetMin {
			set := make(map[float64]struct{}, len(vals))
			for _, n := range vals {
				set[n] = struct{}{}
			}
			return func(v *fields.Vector) bool {
				s := v.Slot(id)
				if s.Kind != fields.KindNumber {
					return false
				}
				_, in := set[s.Num]
				return in != negate
			}, nil
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			if s.Kind != fields.KindNumber {
				return false
			}
			in := false
			for _, w := range vals {
				if s.Num == w {
					in = true
					break
				}
			}
			return in != negate
		}, nil
	}
	return nil, fmt.Errorf("field %q: %s on %s: %w", node.Field, node.Op, field.DataType, ErrSchema)
}

func (c *Compiler) compileBetween(node *ConditionNode, field fields.Field) (Predicate, error) {
	id := field.ID
	if len(node.Values) != 2 {
		return nil, fmt.Errorf("BETWEEN on %q needs two bounds, got %d: %w", node.Field, len(node.Values), ErrSchema)
	}

	switch field.DataType {
	case fields.TypeNumber:
		lo, okLo := constFloat(node.Values[0])
		hi, okHi := constFloat(node.Values[1])
		if !okLo || !okHi {
			return nil, constErr(node)
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			return s.Kind == fields.KindNumber && s.Num >= lo && s.Num <= hi
		}, nil

	case fields.TypeTimestamp:
		lo, okLo := constTime(node.Values[0])
		hi, okHi := constTime(node.Values[1])
		if !okLo || !okHi {
			return nil, constErr(node)
		}
		if lo.After(hi) {
			lo, hi = hi, lo
		}
		return func(v *fields.Vector) bool {
			s := v.Slot(id)
			return s.Kind == fields.KindTime && !s.Time.Before(lo) && !s.Time.After(hi)
		}, nil
	}
	return nil, fmt.Errorf("field %q: BETWEEN on %s: %w", node.Field, field.DataType, ErrSchema)
}

func (c *Compiler) compileSubstring(node *ConditionNode, field fields.Field) (Predicate, error) {
	if field.DataType != fields.TypeString {
		return nil, fmt.Errorf("field %q: %s on %s: %w", node.Field, node.Op, field.DataType, ErrSchema)
	}
	want, ok := constString(node.Value)
	if !ok {
		return nil, constErr(node)
	}
	id := field.ID
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
		s := v.Slot(id)
		return s.Kind == fields.KindString && match(s.Str)
	}, nil
}

func (c *Compiler) compileRegex(node *ConditionNode, field fields.Field) (Predicate, error) {
	if field.DataType != fields.TypeString {
		return nil, fmt.Errorf("field %q: REGEX on %s: %w", node.Field, field.DataType, ErrSchema)
	}
	pattern, ok := constString(node.Value)
	if !ok {
		return nil, constErr(node)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("field %q: bad pattern %q: %v: %w", node.Field, pattern, err, ErrSchema)
	}
	id := field.ID
	return func(v *fields.Vector) bool {
		s := v.Slot(id)
		return s.Kind == fields.KindString && re.MatchString(s.Str)
	}, nil
}

func constErr(node *ConditionNode) error {
	return fmt.Errorf("%s leaf on %q has an incompatible constant: %w", node.Op, node.Field, ErrSchema)
}

// constFloat accepts JSON numbers plus numeric strings, so published rules
// may quote amounts.
func constFloat(v any) (float64, bool) {
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

func constString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func constBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		return parsed, err == nil
	}
	return false, false
}

func constTime(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, err == nil
}
