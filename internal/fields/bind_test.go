package fields

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratuspay/fraudengine/internal/core"
)

func bindTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := New(3, []Field{
		{Name: "amount", ID: 0, DataType: TypeNumber},
		{Name: "merchant_category_code", ID: 1, DataType: TypeString},
		{Name: "card_network", ID: 2, DataType: TypeString},
		{Name: "card_hash", ID: 3, DataType: TypeString},
		{Name: "timestamp", ID: 4, DataType: TypeTimestamp},
		{Name: "hour_of_day", ID: 5, DataType: TypeNumber},
		{Name: "settlement_bucket", ID: 6, DataType: TypeString},
	}, []string{"device_fingerprint"})
	require.NoError(t, err)
	return reg
}

func TestBindFillsSlots(t *testing.T) {
	reg := bindTestRegistry(t)
	ts := time.Date(2026, 3, 14, 22, 15, 0, 0, time.UTC)

	vec := reg.Bind(&core.Transaction{
		TransactionID:        "tx-1",
		Amount:               250.0,
		MerchantCategoryCode: "7995",
		CardNetwork:          "VISA",
		CardHash:             "h-abc",
		Timestamp:            ts,
		Custom:               map[string]any{"device_fingerprint": "fp-9"},
	})

	amount := vec.Slot(0)
	assert.Equal(t, KindNumber, amount.Kind)
	assert.Equal(t, 250.0, amount.Num)

	mcc := vec.Slot(1)
	assert.Equal(t, KindString, mcc.Kind)
	assert.Equal(t, "7995", mcc.Str)

	hour := vec.Slot(5)
	assert.Equal(t, KindNumber, hour.Kind)
	assert.Equal(t, 22.0, hour.Num)

	// Registry field without a built-in extractor binds as absent.
	assert.True(t, vec.Slot(6).IsAbsent())

	fp, ok := vec.Custom("device_fingerprint")
	require.True(t, ok)
	assert.Equal(t, "fp-9", fp)
}

func TestBindMissingAttributesAreAbsent(t *testing.T) {
	reg := bindTestRegistry(t)
	vec := reg.Bind(&core.Transaction{TransactionID: "tx-2", Amount: 10})

	assert.True(t, vec.Slot(2).IsAbsent(), "card_network unset")
	assert.True(t, vec.Slot(3).IsAbsent(), "card_hash unset")
	assert.True(t, vec.Slot(4).IsAbsent(), "timestamp unset")
	assert.True(t, vec.Slot(5).IsAbsent(), "hour_of_day derives from timestamp")

	_, ok := vec.Custom("device_fingerprint")
	assert.False(t, ok)
}

func TestSlotOutOfRangeReadsAbsent(t *testing.T) {
	reg := bindTestRegistry(t)
	vec := reg.Bind(&core.Transaction{TransactionID: "tx-3"})
	assert.True(t, vec.Slot(200).IsAbsent())
}

func TestDimensionValue(t *testing.T) {
	tx := &core.Transaction{
		CardHash: "h-1",
		CardBIN:  "411111",
		Custom:   map[string]any{"session_id": "s-1", "attempts": 3},
	}

	v, ok := tx.DimensionValue("card_hash")
	require.True(t, ok)
	assert.Equal(t, "h-1", v)

	v, ok = tx.DimensionValue("card_bin")
	require.True(t, ok)
	assert.Equal(t, "411111", v)

	_, ok = tx.DimensionValue("ip_address")
	assert.False(t, ok, "unset attribute has no dimension value")

	v, ok = tx.DimensionValue("session_id")
	require.True(t, ok)
	assert.Equal(t, "s-1", v)

	_, ok = tx.DimensionValue("attempts")
	assert.False(t, ok, "non-string custom values are not dimensions")
}
