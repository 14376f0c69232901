package fields

import (
	"github.com/stratuspay/fraudengine/internal/core"
)

type extractor func(*core.Transaction) Value

// extractors maps built-in field names to transaction accessors. Registry
// versions may declare any subset; names absent here bind as absent unless
// declared custom.
var extractors = map[string]extractor{
	"transaction_id": func(t *core.Transaction) Value { return StringValue(t.TransactionID) },
	"card_hash":      func(t *core.Transaction) Value { return StringValue(t.CardHash) },
	"amount":         func(t *core.Transaction) Value { return NumberValue(t.Amount) },
	"currency":       func(t *core.Transaction) Value { return StringValue(t.Currency) },
	"country_code":   func(t *core.Transaction) Value { return StringValue(t.CountryCode) },
	"merchant_category_code": func(t *core.Transaction) Value {
		return StringValue(t.MerchantCategoryCode)
	},
	"card_network": func(t *core.Transaction) Value { return StringValue(t.CardNetwork) },
	"card_bin":     func(t *core.Transaction) Value { return StringValue(t.CardBIN) },
	"card_logo":    func(t *core.Transaction) Value { return StringValue(t.CardLogo) },
	"ip_address":   func(t *core.Transaction) Value { return StringValue(t.IPAddress) },
	"device_id":    func(t *core.Transaction) Value { return StringValue(t.DeviceID) },
	"timestamp":    func(t *core.Transaction) Value { return TimeValue(t.Timestamp) },
	"hour_of_day": func(t *core.Transaction) Value {
		if t.Timestamp.IsZero() {
			return Value{}
		}
		return NumberValue(float64(t.Timestamp.UTC().Hour()))
	},
}

// Bind builds the dense slot vector for one transaction. The vector carries
// the transaction's custom map by reference; the transaction stays owned by
// the request.
func (r *Registry) Bind(tx *core.Transaction) *Vector {
	slots := make([]Value, r.slotCount)
	for _, b := range r.binders {
		slots[b.id] = b.extract(tx)
	}
	return &Vector{slots: slots, custom: tx.Custom}
}
