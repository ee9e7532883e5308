package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// nanLiteral is how missing observations travel on the wire. JSON has no NaN,
// so the model accepts the string "NaN" in place of a number.
const nanLiteral = "NaN"

// Target is a sequence of observations that encodes NaN as "NaN".
type Target []float64

// MarshalJSON implements json.Marshaler.
func (t Target) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return appendValues(make([]byte, 0, 8*len(t)+2), t)
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Target) UnmarshalJSON(b []byte) error {
	r := gjson.ParseBytes(b)
	if r.Type == gjson.Null {
		*t = nil
		return nil
	}
	if !r.IsArray() {
		return fmt.Errorf("%w: target must be an array", ErrInvalidElement)
	}
	values, err := parseValues(r)
	if err != nil {
		return err
	}
	*t = values
	return nil
}

func appendValues(buf []byte, values []float64) ([]byte, error) {
	buf = append(buf, '[')
	for i, v := range values {
		if i > 0 {
			buf = append(buf, ',')
		}
		switch {
		case math.IsNaN(v):
			buf = append(buf, '"')
			buf = append(buf, nanLiteral...)
			buf = append(buf, '"')
		case math.IsInf(v, 0):
			return nil, fmt.Errorf("value %d is infinite", i)
		default:
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
	}
	return append(buf, ']'), nil
}

func parseValues(r gjson.Result) ([]float64, error) {
	arr := r.Array()
	values := make([]float64, len(arr))
	for i, v := range arr {
		f, err := parseValue(v)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		values[i] = f
	}
	return values, nil
}

func parseValue(v gjson.Result) (float64, error) {
	switch v.Type {
	case gjson.Number:
		return v.Num, nil
	case gjson.String:
		if strings.EqualFold(v.Str, nanLiteral) {
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidElement, v.Str)
		}
		return f, nil
	case gjson.Null:
		return math.NaN(), nil
	default:
		return 0, fmt.Errorf("%w: unexpected %s", ErrInvalidElement, v.Type)
	}
}
