// Package series models the evenly spaced, time-indexed numeric series that
// deepcast sends to a remote forecasting model.
//
// A Series does not store its index explicitly: the timestamp of point i is
// Start moved forward by i steps of the series frequency. This keeps the index
// strictly increasing and evenly spaced by construction.
package series

import (
	"math"
	"time"
)

// StartLayout is the timestamp layout used for the "start" field of a
// prediction instance.
const StartLayout = "2006-01-02 15:04:05"

// Series is an ordered sequence of observations. NaN marks a missing value.
type Series struct {
	// Name is optional and only used for logging and charts.
	Name string

	// Start is the timestamp of the first observation.
	Start time.Time

	// Freq is the step between observations. When zero, the frequency
	// configured on the predictor is used.
	Freq Frequency

	Values []float64
}

// New returns a series starting at start with the given frequency and values.
func New(start time.Time, freq Frequency, values []float64) Series {
	return Series{Start: start, Freq: freq, Values: values}
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Values) }

// FreqOr returns the series' own frequency, or fallback if it has none.
func (s Series) FreqOr(fallback Frequency) Frequency {
	if s.Freq.IsZero() {
		return fallback
	}
	return s.Freq
}

// Index returns the timestamp of every observation.
func (s Series) Index(fallback Frequency) []time.Time {
	freq := s.FreqOr(fallback)
	idx := make([]time.Time, len(s.Values))
	for i := range s.Values {
		idx[i] = freq.Add(s.Start, i)
	}
	return idx
}

// Last returns the timestamp of the last observation. ok is false for an
// empty series.
func (s Series) Last(fallback Frequency) (t time.Time, ok bool) {
	if len(s.Values) == 0 {
		return time.Time{}, false
	}
	return s.FreqOr(fallback).Add(s.Start, len(s.Values)-1), true
}

// Next returns the timestamp one step after the last observation, which is
// where a forecast for this series begins. For an empty series it is Start.
func (s Series) Next(fallback Frequency) time.Time {
	return s.FreqOr(fallback).Add(s.Start, len(s.Values))
}

// Missing returns the number of NaN observations.
func (s Series) Missing() int {
	n := 0
	for _, v := range s.Values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

// FormatStart renders the first timestamp the way prediction instances expect it.
func (s Series) FormatStart() string {
	return s.Start.Format(StartLayout)
}

// ParseStart parses an instance "start" field. Besides StartLayout it accepts
// a bare date and RFC 3339.
func ParseStart(v string) (time.Time, error) {
	layouts := []string{StartLayout, "2006-01-02", time.RFC3339}
	var err error
	for _, layout := range layouts {
		var t time.Time
		t, err = time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
