package velocity

import "strings"

const (
	keyPrefix       = "vel:global:"
	maxEncodedValue = 64
)

// Key builds the counter key for one (dimension, value) pair. Counters are
// shared across rulesets, so two rules watching the same dimension see the
// same count.
func Key(dimension, value string) string {
	return keyPrefix + dimension + ":" + EncodeValue(value)
}

func safeKeyByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '.' || b == '_' || b == '-':
		return true
	}
	return false
}

// EncodeValue maps every byte outside [a-zA-Z0-9._-] to '_' and truncates
// the result to 64 bytes, keeping counter keys bounded and glob-safe.
func EncodeValue(v string) string {
	n := len(v)
	if n > maxEncodedValue {
		n = maxEncodedValue
	}

	clean := true
	for i := 0; i < n; i++ {
		if !safeKeyByte(v[i]) {
			clean = false
			break
		}
	}
	if clean {
		return v[:n]
	}

	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		if safeKeyByte(v[i]) {
			b.WriteByte(v[i])
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
