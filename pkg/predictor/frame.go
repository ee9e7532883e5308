package predictor

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/series"
)

// Frame is the forecast for one input series: a table indexed by the
// forecast horizon, with one column per quantile level.
type Frame struct {
	// Start is the first forecast timestamp, one step after the last
	// observation of the input series.
	Start time.Time
	Freq  series.Frequency

	// Index holds one timestamp per row.
	Index []time.Time

	// Columns lists quantile levels in the order the model returned them.
	Columns []string

	values map[string][]float64
}

func newFrame(start time.Time, freq series.Frequency, length int) Frame {
	idx := make([]time.Time, length)
	for i := range idx {
		idx[i] = freq.Add(start, i)
	}
	return Frame{
		Start:  start,
		Freq:   freq,
		Index:  idx,
		values: make(map[string][]float64),
	}
}

func (f *Frame) addColumn(level string, values []float64) {
	col := make([]float64, len(values))
	copy(col, values)
	f.Columns = append(f.Columns, level)
	f.values[level] = col
}

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.Index) }

// Column returns the values of one quantile level.
func (f Frame) Column(level string) ([]float64, bool) {
	v, ok := f.values[level]
	return v, ok
}

// At returns the value at row i of the given level. ok is false when the
// level is unknown or i is out of range.
func (f Frame) At(i int, level string) (v float64, ok bool) {
	col, found := f.values[level]
	if !found || i < 0 || i >= len(col) {
		return 0, false
	}
	return col[i], true
}

// Row returns row i keyed by quantile level.
func (f Frame) Row(i int) map[string]float64 {
	row := make(map[string]float64, len(f.Columns))
	for _, level := range f.Columns {
		if v, ok := f.At(i, level); ok {
			row[level] = v
		}
	}
	return row
}

// Quantiles returns the columns as an ordered level to values mapping.
func (f Frame) Quantiles() codec.Quantiles {
	q := codec.NewQuantiles()
	for _, level := range f.Columns {
		q.Set(level, f.values[level])
	}
	return q
}

type frameJSON struct {
	Start     string           `json:"start"`
	Freq      series.Frequency `json:"freq"`
	Index     []string         `json:"index"`
	Quantiles codec.Quantiles  `json:"quantiles"`
}

// MarshalJSON renders the frame as
//
//	{"start":"2020-01-11 00:00:00","freq":"D","index":[...],"quantiles":{"0.5":[...]}}
//
// with quantile levels in column order and NaN written as "NaN".
func (f Frame) MarshalJSON() ([]byte, error) {
	idx := make([]string, len(f.Index))
	for i, t := range f.Index {
		idx[i] = t.Format(series.StartLayout)
	}
	return json.Marshal(frameJSON{
		Start:     f.Start.Format(series.StartLayout),
		Freq:      f.Freq,
		Index:     idx,
		Quantiles: f.Quantiles(),
	})
}
