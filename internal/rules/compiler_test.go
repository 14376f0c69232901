package rules

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/fraudengine/internal/core"
	"github.com/stratuspay/fraudengine/internal/fields"
)

func testRegistry(t *testing.T) *fields.Registry {
	t.Helper()
	reg, err := fields.New(7, []fields.Field{
		{Name: "amount", ID: 0, DataType: fields.TypeNumber},
		{Name: "currency", ID: 1, DataType: fields.TypeString},
		{Name: "merchant_category_code", ID: 2, DataType: fields.TypeString},
		{Name: "card_network", ID: 3, DataType: fields.TypeString},
		{Name: "card_bin", ID: 4, DataType: fields.TypeString},
		{Name: "card_logo", ID: 5, DataType: fields.TypeString},
		{Name: "card_hash", ID: 6, DataType: fields.TypeString, AllowedOperators: []string{"EQ", "NE", "IN", "EXISTS"}},
		{Name: "country_code", ID: 7, DataType: fields.TypeString},
		{Name: "ip_address", ID: 8, DataType: fields.TypeString},
		{Name: "timestamp", ID: 9, DataType: fields.TypeTimestamp},
	}, []string{"device_fingerprint", "session_score"})
	require.NoError(t, err)
	return reg
}

func bind(t *testing.T, reg *fields.Registry, tx core.Transaction) *fields.Vector {
	t.Helper()
	return reg.Bind(&tx)
}

func TestCompileHighAmountMCCRule(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)

	// Gambling MCC above 100 declines; the shape every seed ruleset uses.
	pred, err := c.Compile(&ConditionNode{
		Op: OpAnd,
		Children: []*ConditionNode{
			{Op: OpEQ, Field: "merchant_category_code", Value: "7995"},
			{Op: OpGT, Field: "amount", Value: 100.0},
		},
	})
	require.NoError(t, err)

	assert.True(t, pred(bind(t, reg, core.Transaction{MerchantCategoryCode: "7995", Amount: 250})))
	assert.False(t, pred(bind(t, reg, core.Transaction{MerchantCategoryCode: "7995", Amount: 100})))
	assert.False(t, pred(bind(t, reg, core.Transaction{MerchantCategoryCode: "5411", Amount: 250})))
	assert.False(t, pred(bind(t, reg, core.Transaction{Amount: 250})), "absent mcc never matches")
}

func TestOperatorSemantics(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)

	compile := func(t *testing.T, node *ConditionNode) Predicate {
		t.Helper()
		p, err := c.Compile(node)
		require.NoError(t, err)
		return p
	}

	t.Run("string equality is byte exact", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpEQ, Field: "currency", Value: "BRL"})
		assert.True(t, p(bind(t, reg, core.Transaction{Currency: "BRL"})))
		assert.False(t, p(bind(t, reg, core.Transaction{Currency: "brl"})))
		assert.False(t, p(bind(t, reg, core.Transaction{})), "absent is false")
	})

	t.Run("NE on an absent slot is still false", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpNE, Field: "currency", Value: "BRL"})
		assert.True(t, p(bind(t, reg, core.Transaction{Currency: "USD"})))
		assert.False(t, p(bind(t, reg, core.Transaction{})))
	})

	t.Run("numeric compare accepts quoted constants", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpGTE, Field: "amount", Value: "250"})
		assert.True(t, p(bind(t, reg, core.Transaction{Amount: 250})))
		assert.False(t, p(bind(t, reg, core.Transaction{Amount: 249.99})))
	})

	t.Run("IN small list scans", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpIn, Field: "card_network", Values: []any{"VISA", "MASTERCARD"}})
		assert.True(t, p(bind(t, reg, core.Transaction{CardNetwork: "MASTERCARD"})))
		assert.False(t, p(bind(t, reg, core.Transaction{CardNetwork: "AMEX"})))
	})

	t.Run("IN large list uses the hashed set", func(t *testing.T) {
		vals := make([]any, 0, 12)
		for _, mcc := range []string{"7995", "7994", "7800", "7801", "7802", "5967", "5993", "4829", "6051", "6211", "7273", "9406"} {
			vals = append(vals, mcc)
		}
		p := compile(t, &ConditionNode{Op: OpIn, Field: "merchant_category_code", Values: vals})
		assert.True(t, p(bind(t, reg, core.Transaction{MerchantCategoryCode: "6051"})))
		assert.False(t, p(bind(t, reg, core.Transaction{MerchantCategoryCode: "5411"})))
	})

	t.Run("NOT_IN on absent slot is false, not vacuously true", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpNotIn, Field: "currency", Values: []any{"BRL"}})
		assert.True(t, p(bind(t, reg, core.Transaction{Currency: "USD"})))
		assert.False(t, p(bind(t, reg, core.Transaction{})))
	})

	t.Run("BETWEEN normalizes unordered bounds", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpBetween, Field: "amount", Values: []any{500.0, 100.0}})
		assert.True(t, p(bind(t, reg, core.Transaction{Amount: 100})))
		assert.True(t, p(bind(t, reg, core.Transaction{Amount: 500})))
		assert.False(t, p(bind(t, reg, core.Transaction{Amount: 99.99})))
	})

	t.Run("substring operators", func(t *testing.T) {
		starts := compile(t, &ConditionNode{Op: OpStartsWith, Field: "card_bin", Value: "4111"})
		assert.True(t, starts(bind(t, reg, core.Transaction{CardBIN: "411111"})))
		assert.False(t, starts(bind(t, reg, core.Transaction{CardBIN: "511111"})))

		contains := compile(t, &ConditionNode{Op: OpContains, Field: "ip_address", Value: "10.0."})
		assert.True(t, contains(bind(t, reg, core.Transaction{IPAddress: "10.0.3.7"})))

		ends := compile(t, &ConditionNode{Op: OpEndsWith, Field: "currency", Value: "RL"})
		assert.True(t, ends(bind(t, reg, core.Transaction{Currency: "BRL"})))
	})

	t.Run("REGEX compiled at load", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpRegex, Field: "ip_address", Value: `^10\.`})
		assert.True(t, p(bind(t, reg, core.Transaction{IPAddress: "10.1.2.3"})))
		assert.False(t, p(bind(t, reg, core.Transaction{IPAddress: "192.168.1.1"})))
	})

	t.Run("timestamp ordering", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpGT, Field: "timestamp", Value: "2026-01-01T00:00:00Z"})
		assert.True(t, p(bind(t, reg, core.Transaction{Timestamp: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)})))
		assert.False(t, p(bind(t, reg, core.Transaction{Timestamp: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})))
		assert.False(t, p(bind(t, reg, core.Transaction{})))
	})

	t.Run("EXISTS", func(t *testing.T) {
		p := compile(t, &ConditionNode{Op: OpExists, Field: "card_hash"})
		assert.True(t, p(bind(t, reg, core.Transaction{CardHash: "h1"})))
		assert.False(t, p(bind(t, reg, core.Transaction{})))
	})
}

func TestCompositeShortCircuit(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)

	pred, err := c.Compile(&ConditionNode{
		Op: OpOr,
		Children: []*ConditionNode{
			{Op: OpEQ, Field: "card_network", Value: "AMEX"},
			{Op: OpNot, Children: []*ConditionNode{
				{Op: OpExists, Field: "card_hash"},
			}},
			{Op: OpAnd, Children: []*ConditionNode{
				{Op: OpGT, Field: "amount", Value: 1000.0},
				{Op: OpEQ, Field: "currency", Value: "USD"},
			}},
		},
	})
	require.NoError(t, err)

	assert.True(t, pred(bind(t, reg, core.Transaction{CardNetwork: "AMEX", CardHash: "h"})))
	assert.True(t, pred(bind(t, reg, core.Transaction{CardNetwork: "VISA"})), "missing card_hash satisfies the NOT branch")
	assert.True(t, pred(bind(t, reg, core.Transaction{CardNetwork: "VISA", CardHash: "h", Amount: 2000, Currency: "USD"})))
	assert.False(t, pred(bind(t, reg, core.Transaction{CardNetwork: "VISA", CardHash: "h", Amount: 2000, Currency: "BRL"})))
}

func TestCustomFieldLeaves(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)

	t.Run("EXISTS sees the custom map", func(t *testing.T) {
		p, err := c.Compile(&ConditionNode{Op: OpExists, Field: "device_fingerprint"})
		require.NoError(t, err)
		assert.True(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"device_fingerprint": "fp"}})))
		assert.False(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"device_fingerprint": ""}})))
		assert.False(t, p(bind(t, reg, core.Transaction{})))
	})

	t.Run("numeric coercion on slow leaves", func(t *testing.T) {
		p, err := c.Compile(&ConditionNode{Op: OpGT, Field: "session_score", Value: 75.0})
		require.NoError(t, err)
		assert.True(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"session_score": 80.0}})))
		assert.True(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"session_score": "90"}})))
		assert.False(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"session_score": "low"}})))
		assert.False(t, p(bind(t, reg, core.Transaction{})))
	})

	t.Run("EQ matches number or quoted number", func(t *testing.T) {
		p, err := c.Compile(&ConditionNode{Op: OpEQ, Field: "session_score", Value: "42"})
		require.NoError(t, err)
		assert.True(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"session_score": 42.0}})))
		assert.True(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"session_score": "42"}})))
		assert.False(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"session_score": 41.0}})))
	})

	t.Run("IN on custom strings", func(t *testing.T) {
		p, err := c.Compile(&ConditionNode{Op: OpIn, Field: "device_fingerprint", Values: []any{"fp-1", "fp-2"}})
		require.NoError(t, err)
		assert.True(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"device_fingerprint": "fp-2"}})))
		assert.False(t, p(bind(t, reg, core.Transaction{Custom: map[string]any{"device_fingerprint": "fp-3"}})))
	})
}

func TestCompileErrors(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)

	t.Run("unknown field", func(t *testing.T) {
		_, err := c.Compile(&ConditionNode{Op: OpEQ, Field: "issuer_risk_band", Value: "A"})
		require.ErrorIs(t, err, ErrUnresolvedField)
	})

	t.Run("operator outside the field allow-list", func(t *testing.T) {
		_, err := c.Compile(&ConditionNode{Op: OpRegex, Field: "card_hash", Value: ".*"})
		require.ErrorIs(t, err, ErrSchema)
	})

	t.Run("schema violations", func(t *testing.T) {
		bad := []*ConditionNode{
			{Op: "LIKE", Field: "currency", Value: "x"},
			{Op: OpAnd},
			{Op: OpNot, Children: []*ConditionNode{{Op: OpExists, Field: "amount"}, {Op: OpExists, Field: "amount"}}},
			{Op: OpRegex, Field: "ip_address", Value: "("},
			{Op: OpBetween, Field: "amount", Values: []any{1.0}},
			{Op: OpIn, Field: "currency"},
			{Op: OpGT, Field: "currency", Value: "BRL"},
			{Op: OpEQ, Field: "amount", Value: "not-a-number"},
			{Op: OpEQ, Field: ""},
		}
		for _, node := range bad {
			_, err := c.Compile(node)
			require.ErrorIs(t, err, ErrSchema, "op=%s field=%s", node.Op, node.Field)
		}
	})

	t.Run("rule level validation", func(t *testing.T) {
		_, err := c.CompileRule(&RuleSpec{Priority: 1, Action: core.ActionDecline, Condition: &ConditionNode{Op: OpExists, Field: "amount"}})
		require.ErrorIs(t, err, ErrSchema, "missing rule_id")

		_, err = c.CompileRule(&RuleSpec{RuleID: "r1", Action: "ESCALATE", Condition: &ConditionNode{Op: OpExists, Field: "amount"}})
		require.ErrorIs(t, err, ErrSchema, "unknown action")

		_, err = c.CompileRule(&RuleSpec{RuleID: "r1", Action: core.ActionApprove})
		require.ErrorIs(t, err, ErrSchema, "missing condition")

		_, err = c.CompileRule(&RuleSpec{
			RuleID: "r1", Action: core.ActionApprove,
			Condition: &ConditionNode{Op: OpExists, Field: "amount"},
			Velocity:  &core.VelocityConfig{Dimension: "card_hash", WindowSeconds: 0, Threshold: 3, Action: core.ActionDecline},
		})
		require.ErrorIs(t, err, ErrSchema, "zero velocity window")
	})
}

// Compiling a condition that round-tripped through its wire form must yield
// an observationally identical predicate.
func TestCompileAfterRoundTrip(t *testing.T) {
	reg := testRegistry(t)
	c := NewCompiler(reg)

	node := &ConditionNode{
		Op: OpAnd,
		Children: []*ConditionNode{
			{Op: OpIn, Field: "card_network", Values: []any{"VISA", "MASTERCARD"}},
			{Op: OpBetween, Field: "amount", Values: []any{50.0, 5000.0}},
			{Op: OpOr, Children: []*ConditionNode{
				{Op: OpExists, Field: "device_fingerprint"},
				{Op: OpStartsWith, Field: "card_bin", Value: "4111"},
			}},
		},
	}

	direct, err := c.Compile(node)
	require.NoError(t, err)

	raw, err := json.Marshal(node)
	require.NoError(t, err)
	var decoded ConditionNode
	require.NoError(t, json.Unmarshal(raw, &decoded))
	roundTripped, err := c.Compile(&decoded)
	require.NoError(t, err)

	corpus := []core.Transaction{
		{CardNetwork: "VISA", Amount: 100, CardBIN: "411122"},
		{CardNetwork: "VISA", Amount: 100, Custom: map[string]any{"device_fingerprint": "fp"}},
		{CardNetwork: "VISA", Amount: 100},
		{CardNetwork: "AMEX", Amount: 100, CardBIN: "411122"},
		{CardNetwork: "MASTERCARD", Amount: 10, CardBIN: "411122"},
		{},
	}
	for i, tx := range corpus {
		v := bind(t, reg, tx)
		assert.Equal(t, direct(v), roundTripped(v), "corpus case %d diverged", i)
	}
}
