package series

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Unit is the base time unit of a Frequency.
type Unit int

const (
	UnitNone Unit = iota
	UnitSecond
	UnitMinute
	UnitHour
	UnitDay
	UnitWeek
	UnitMonth
	UnitYear
)

var ErrInvalidFrequency = errors.New("invalid frequency")

// unitAliases maps the pandas-style offset aliases accepted by forecasting
// endpoints to their unit. Single letters are matched case-sensitively because
// "M" (month) and "min" differ only by case in common usage.
var unitAliases = map[string]Unit{
	"S":   UnitSecond,
	"s":   UnitSecond,
	"T":   UnitMinute,
	"min": UnitMinute,
	"H":   UnitHour,
	"h":   UnitHour,
	"D":   UnitDay,
	"d":   UnitDay,
	"W":   UnitWeek,
	"w":   UnitWeek,
	"M":   UnitMonth,
	"MS":  UnitMonth,
	"Y":   UnitYear,
	"A":   UnitYear,
	"YS":  UnitYear,
}

var unitNames = map[Unit]string{
	UnitSecond: "S",
	UnitMinute: "min",
	UnitHour:   "H",
	UnitDay:    "D",
	UnitWeek:   "W",
	UnitMonth:  "M",
	UnitYear:   "Y",
}

// Frequency is the step between two consecutive points of a series, e.g.
// "D" (one day) or "15min" (fifteen minutes).
//
// The zero Frequency means "not set".
type Frequency struct {
	N    int
	Unit Unit
}

// ParseFrequency parses a pandas-style frequency string: an optional positive
// multiple followed by a unit alias.
//
// Examples:
//   - "D"     → 1 day
//   - "H"     → 1 hour
//   - "15min" → 15 minutes
//   - "2W"    → 2 weeks
//   - "M"     → 1 calendar month
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Frequency{}, fmt.Errorf("%w: empty string", ErrInvalidFrequency)
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}

	n := 1
	if i > 0 {
		v, err := strconv.Atoi(s[:i])
		if err != nil {
			return Frequency{}, fmt.Errorf("%w: %q: %v", ErrInvalidFrequency, s, err)
		}
		if v <= 0 {
			return Frequency{}, fmt.Errorf("%w: %q: multiple must be positive", ErrInvalidFrequency, s)
		}
		n = v
	}

	alias := s[i:]
	unit, ok := unitAliases[alias]
	if !ok {
		unit, ok = unitAliases[strings.ToLower(alias)]
		if !ok || len(alias) == 1 {
			return Frequency{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidFrequency, alias)
		}
	}

	return Frequency{N: n, Unit: unit}, nil
}

// MustParseFrequency is like ParseFrequency but panics on error.
// Useful for static configurations where errors indicate programmer bugs.
func MustParseFrequency(s string) Frequency {
	f, err := ParseFrequency(s)
	if err != nil {
		panic(fmt.Sprintf("parse frequency: %v", err))
	}
	return f
}

// IsZero reports whether the frequency is unset.
func (f Frequency) IsZero() bool {
	return f.Unit == UnitNone || f.N <= 0
}

// String renders the frequency in the same alias form ParseFrequency accepts.
func (f Frequency) String() string {
	if f.IsZero() {
		return ""
	}
	name := unitNames[f.Unit]
	if f.N == 1 {
		return name
	}
	return strconv.Itoa(f.N) + name
}

// Add returns t moved forward by n steps of f (backwards for negative n).
// Calendar units use time.AddDate so month lengths and DST are respected.
func (f Frequency) Add(t time.Time, n int) time.Time {
	k := f.N * n
	switch f.Unit {
	case UnitSecond:
		return t.Add(time.Duration(k) * time.Second)
	case UnitMinute:
		return t.Add(time.Duration(k) * time.Minute)
	case UnitHour:
		return t.Add(time.Duration(k) * time.Hour)
	case UnitDay:
		return t.AddDate(0, 0, k)
	case UnitWeek:
		return t.AddDate(0, 0, 7*k)
	case UnitMonth:
		return t.AddDate(0, k, 0)
	case UnitYear:
		return t.AddDate(k, 0, 0)
	default:
		return t
	}
}

// MarshalText implements encoding.TextMarshaler.
func (f Frequency) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Frequency) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*f = Frequency{}
		return nil
	}
	parsed, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// FrequencyOf converts a fixed step duration into a Frequency using the
// largest whole unit, e.g. 48h → "2D", 90s → "90S".
func FrequencyOf(d time.Duration) (Frequency, error) {
	if d <= 0 {
		return Frequency{}, fmt.Errorf("%w: step must be positive, got %v", ErrInvalidFrequency, d)
	}
	if d%time.Second != 0 {
		return Frequency{}, fmt.Errorf("%w: step %v is not a whole number of seconds", ErrInvalidFrequency, d)
	}

	units := []struct {
		size time.Duration
		unit Unit
	}{
		{24 * time.Hour, UnitDay},
		{time.Hour, UnitHour},
		{time.Minute, UnitMinute},
		{time.Second, UnitSecond},
	}
	for _, u := range units {
		if d%u.size == 0 {
			return Frequency{N: int(d / u.size), Unit: u.unit}, nil
		}
	}
	return Frequency{}, fmt.Errorf("%w: step %v", ErrInvalidFrequency, d)
}
