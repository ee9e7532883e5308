// Package sources loads the series deepcast sends to a forecasting model.
//
// Each source implements the Source interface and returns a Batch: the series
// in a stable order plus, optionally, one category per series. Available
// sources:
//   - FileSource: JSON Lines file of prediction instances
//   - URLSource: JSON Lines fetched over HTTP(S), with download progress
//   - PrometheusSource: one series per stream of a Prometheus range query
//   - HTTPSource: one series extracted from any JSON API with gjson paths
//
// Sources only fetch and shape data; encoding and prediction happen in the
// codec and predictor packages.
package sources

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/series"
)

var ErrEmpty = errors.New("source returned no series")

// Batch is the output of a Source.
type Batch struct {
	Series []series.Series

	// Categories is nil when no series carries a category; otherwise it has
	// one entry per series.
	Categories []int
}

// Len returns the number of series.
func (b Batch) Len() int { return len(b.Series) }

// Source loads a batch of series.
//
// Load is synchronous and must respect context cancellation and deadlines.
type Source interface {
	Load(ctx context.Context) (Batch, error)

	// Name returns a short identifier such as "file" or "prometheus".
	Name() string
}

// batchFromInstances converts decoded instances into a batch. Categories are
// kept only if every instance has one; a partial set cannot be sent because
// the request would mix grouped and ungrouped instances.
func batchFromInstances(instances []codec.Instance, freq series.Frequency) (Batch, error) {
	if len(instances) == 0 {
		return Batch{}, ErrEmpty
	}

	b := Batch{Series: make([]series.Series, len(instances))}
	withCat := 0
	for i, in := range instances {
		s, err := in.Series(freq)
		if err != nil {
			return Batch{}, err
		}
		b.Series[i] = s
		if in.Cat != nil {
			withCat++
		}
	}

	if withCat == len(instances) {
		b.Categories = make([]int, len(instances))
		for i, in := range instances {
			b.Categories[i] = *in.Cat
		}
	}
	return b, nil
}

type point struct {
	ts    time.Time
	value float64
}

// seriesFromPoints builds an evenly spaced series from timestamped points.
// Points are aligned to step; missing steps become NaN and duplicate
// timestamps are summed.
func seriesFromPoints(name string, points []point, step time.Duration) (series.Series, error) {
	freq, err := series.FrequencyOf(step)
	if err != nil {
		return series.Series{}, err
	}
	if len(points) == 0 {
		return series.Series{}, ErrEmpty
	}

	sort.Slice(points, func(i, j int) bool { return points[i].ts.Before(points[j].ts) })

	start := points[0].ts.UTC().Truncate(step)
	end := points[len(points)-1].ts.UTC().Truncate(step)
	n := int(end.Sub(start)/step) + 1

	values := make([]float64, n)
	seen := make([]bool, n)
	for i := range values {
		values[i] = math.NaN()
	}
	for _, p := range points {
		i := int(p.ts.UTC().Truncate(step).Sub(start) / step)
		if seen[i] {
			values[i] += p.value
		} else {
			values[i] = p.value
			seen[i] = true
		}
	}

	return series.Series{Name: name, Start: start, Freq: freq, Values: values}, nil
}
