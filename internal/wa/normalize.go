package wa

import (
	"encoding/json"
	"math"
	"time"
)

// millisFloor: epoch values at or above this are taken to be milliseconds.
const millisFloor = int64(1) << 40

// UnixSeconds coerces the numeric-ish timestamp shapes that occur on the
// wire and in decoded JSON into canonical Unix seconds. Unknown shapes and
// negative values normalize to 0.
func UnixSeconds(v any) int64 {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return 0
		}
		return t.Unix()
	case int64:
		return epochSeconds(t)
	case int:
		return epochSeconds(int64(t))
	case uint64:
		if t > math.MaxInt64 {
			return 0
		}
		return epochSeconds(int64(t))
	case uint32:
		return epochSeconds(int64(t))
	case float64:
		return epochSeconds(int64(t))
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0
		}
		return epochSeconds(i)
	default:
		return 0
	}
}

func epochSeconds(v int64) int64 {
	if v < 0 {
		return 0
	}
	if v >= millisFloor {
		return v / 1000
	}
	return v
}

// byteCount coerces a wire file length to a non-negative int64.
func byteCount(v uint64) int64 {
	if v > math.MaxInt64 {
		return 0
	}
	return int64(v)
}
