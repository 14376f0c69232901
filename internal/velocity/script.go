package velocity

import (
	"errors"
	"fmt"
)

// ErrInternal marks failures inside this package (malformed script replies)
// as opposed to the store being unreachable. Callers fail differently on
// the two classes.
var ErrInternal = errors.New("velocity: internal error")

// counterScript increments the window counter and stamps its TTL in one
// round trip. The TTL is only set when the key is born, so the window is
// anchored to the first transaction that opened it.
//
// KEYS[1] counter key, ARGV[1] window seconds, ARGV[2] threshold.
const counterScript = `local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('EXPIRE', KEYS[1], tonumber(ARGV[1]))
end
local exceeded = 0
if count >= tonumber(ARGV[2]) then
  exceeded = 1
end
return {count, exceeded}`

func parseScriptReply(v interface{}) (int64, bool, error) {
	arr, ok := v.([]interface{})
	if !ok || len(arr) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected script reply %T", ErrInternal, v)
	}
	count, ok := arr[0].(int64)
	if !ok {
		return 0, false, fmt.Errorf("%w: unexpected count type %T", ErrInternal, arr[0])
	}
	flag, ok := arr[1].(int64)
	if !ok {
		return 0, false, fmt.Errorf("%w: unexpected flag type %T", ErrInternal, arr[1])
	}
	return count, flag == 1, nil
}
