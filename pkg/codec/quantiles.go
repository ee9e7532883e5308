package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

var ErrInvalidQuantile = errors.New("invalid quantile level")

// Quantiles maps quantile levels to forecast values while remembering the
// order in which the levels appeared.
type Quantiles struct {
	levels []string
	values map[string][]float64
}

// NewQuantiles returns an empty Quantiles.
func NewQuantiles() Quantiles {
	return Quantiles{values: make(map[string][]float64)}
}

// Set stores values under level. A new level is appended to the order; an
// existing one keeps its position.
func (q *Quantiles) Set(level string, values []float64) {
	if q.values == nil {
		q.values = make(map[string][]float64)
	}
	if _, ok := q.values[level]; !ok {
		q.levels = append(q.levels, level)
	}
	q.values[level] = values
}

// Get returns the values stored under level.
func (q Quantiles) Get(level string) ([]float64, bool) {
	v, ok := q.values[level]
	return v, ok
}

// Levels returns the levels in insertion order.
func (q Quantiles) Levels() []string {
	out := make([]string, len(q.levels))
	copy(out, q.levels)
	return out
}

// Len returns the number of levels.
func (q Quantiles) Len() int { return len(q.levels) }

// MarshalJSON implements json.Marshaler, keeping level order.
func (q Quantiles) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, level := range q.levels {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendQuote(buf, level)
		buf = append(buf, ':')
		var err error
		buf, err = appendValues(buf, q.values[level])
		if err != nil {
			return nil, fmt.Errorf("quantile %s: %w", level, err)
		}
	}
	return append(buf, '}'), nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping level order.
func (q *Quantiles) UnmarshalJSON(b []byte) error {
	parsed, err := parseQuantiles(gjson.ParseBytes(b))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

func parseQuantiles(r gjson.Result) (Quantiles, error) {
	q := NewQuantiles()
	if !r.Exists() || r.Type == gjson.Null {
		return q, nil
	}
	if !r.IsObject() {
		return Quantiles{}, fmt.Errorf("%w: quantiles must be an object", ErrInvalidElement)
	}

	var perr error
	r.ForEach(func(key, value gjson.Result) bool {
		if !value.IsArray() {
			perr = fmt.Errorf("%w: quantile %s must be an array", ErrInvalidElement, key.String())
			return false
		}
		values, err := parseValues(value)
		if err != nil {
			perr = fmt.Errorf("quantile %s: %w", key.String(), err)
			return false
		}
		q.Set(key.String(), values)
		return true
	})
	if perr != nil {
		return Quantiles{}, perr
	}
	return q, nil
}

// ParseQuantileLevel parses a quantile level from either p-notation (p90, p95)
// or decimal notation (0.90, 0.95).
//
// Examples:
//   - "p50" → 0.50
//   - "p90" → 0.90
//   - "0.1" → 0.10
//
// Levels must lie strictly between 0 and 1.
func ParseQuantileLevel(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidQuantile)
	}

	if strings.HasPrefix(strings.ToLower(s), "p") {
		percentile, err := strconv.ParseFloat(s[1:], 64)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid p-notation %q", ErrInvalidQuantile, s)
		}
		if percentile <= 0 || percentile >= 100 {
			return 0, fmt.Errorf("%w: percentile %v out of range (0, 100)", ErrInvalidQuantile, percentile)
		}
		return percentile / 100.0, nil
	}

	level, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuantile, s)
	}
	if level <= 0 || level >= 1 {
		return 0, fmt.Errorf("%w: %v out of range (0, 1)", ErrInvalidQuantile, level)
	}
	return level, nil
}

// FormatQuantileLevel renders a level in the decimal form the model expects.
//
// Examples:
//   - 0.5  → "0.5"
//   - 0.90 → "0.9"
//   - 0.95 → "0.95"
func FormatQuantileLevel(level float64) string {
	return strconv.FormatFloat(level, 'f', -1, 64)
}

// NormalizeQuantiles parses every level and returns them in decimal form,
// rejecting empty lists and duplicates. Order is preserved.
func NormalizeQuantiles(levels []string) ([]string, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("%w: at least one quantile is required", ErrInvalidQuantile)
	}

	seen := make(map[float64]bool, len(levels))
	out := make([]string, 0, len(levels))
	for _, s := range levels {
		level, err := ParseQuantileLevel(s)
		if err != nil {
			return nil, err
		}
		if seen[level] {
			return nil, fmt.Errorf("%w: duplicate level %s", ErrInvalidQuantile, s)
		}
		seen[level] = true
		out = append(out, FormatQuantileLevel(level))
	}
	return out, nil
}
