package predictor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/series"
)

var daily = series.MustParseFrequency("D")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoModel answers every instance with one column per requested quantile,
// each holding the instance's last target value repeated predictionLength
// times. That makes it easy to tell which response entry belongs to which
// series.
func echoModel(t *testing.T, predictionLength int, encoding string) TransportFunc {
	t.Helper()
	return func(_ context.Context, body []byte) ([]byte, error) {
		raw, err := codec.ToUTF8(body, encoding)
		if err != nil {
			return nil, err
		}
		var req codec.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, err
		}

		resp := codec.Response{Predictions: make([]codec.Prediction, len(req.Instances))}
		for k, in := range req.Instances {
			last := in.Target[len(in.Target)-1]
			q := codec.NewQuantiles()
			for _, level := range req.Configuration.Quantiles {
				values := make([]float64, predictionLength)
				for i := range values {
					values[i] = last
				}
				q.Set(level, values)
			}
			resp.Predictions[k] = codec.Prediction{Quantiles: q}
		}
		return codec.EncodeResponse(resp, encoding)
	}
}

func newConfigured(t *testing.T, tr Transport, predictionLength int) *Predictor {
	t.Helper()
	p := New(tr, WithLogger(quietLogger()))
	require.NoError(t, p.SetPredictionParameters(daily, predictionLength))
	return p
}

func TestPredict_Scenario(t *testing.T) {
	s := series.New(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	var gotReq codec.Request
	tr := TransportFunc(func(_ context.Context, body []byte) ([]byte, error) {
		require.NoError(t, json.Unmarshal(body, &gotReq))
		return []byte(`{"predictions":[{"quantiles":{"0.5":[1,2,3,4,5]}}]}`), nil
	})

	p := newConfigured(t, tr, 5)
	frames, err := p.Predict(context.Background(), []series.Series{s}, WithQuantiles("0.5"))
	require.NoError(t, err)
	require.Len(t, frames, 1)

	f := frames[0]
	require.Equal(t, 5, f.Len())
	assert.Equal(t, time.Date(2020, 1, 11, 0, 0, 0, 0, time.UTC), f.Index[0])
	assert.Equal(t, time.Date(2020, 1, 15, 0, 0, 0, 0, time.UTC), f.Index[4])
	assert.Equal(t, []string{"0.5"}, f.Columns)

	col, ok := f.Column("0.5")
	require.True(t, ok)
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, col)

	require.Len(t, gotReq.Instances, 1)
	assert.Equal(t, "2020-01-01 00:00:00", gotReq.Instances[0].Start)
	assert.Nil(t, gotReq.Instances[0].Cat)
	assert.Equal(t, 100, gotReq.Configuration.NumSamples)
	assert.Equal(t, []string{"quantiles"}, gotReq.Configuration.OutputTypes)
	assert.Equal(t, []string{"0.5"}, gotReq.Configuration.Quantiles)
}

func TestPredict_AlignmentAndShape(t *testing.T) {
	list := []series.Series{
		series.New(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{1, 2, 3}),
		series.New(time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{4}),
		series.New(time.Date(2019, 3, 30, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{5, 6}),
	}

	p := newConfigured(t, echoModel(t, 4, codec.DefaultEncoding), 4)
	frames, err := p.Predict(context.Background(), list, WithQuantiles("0.1", "0.5"), WithCategories([]int{0, 1, 2}))
	require.NoError(t, err)
	require.Len(t, frames, len(list))

	for i, f := range frames {
		last, ok := list[i].Last(daily)
		require.True(t, ok)
		assert.Equal(t, daily.Add(last, 1), f.Index[0], "frame %d", i)
		assert.Equal(t, 4, f.Len())
		assert.Equal(t, []string{"0.1", "0.5"}, f.Columns)

		v, ok := f.At(0, "0.5")
		require.True(t, ok)
		assert.Equal(t, list[i].Values[len(list[i].Values)-1], v)
	}
}

func TestPredict_PreservesOrder(t *testing.T) {
	a := series.New(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{10})
	b := series.New(time.Date(2020, 1, 5, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{20})

	p := newConfigured(t, echoModel(t, 2, codec.DefaultEncoding), 2)

	forward, err := p.Predict(context.Background(), []series.Series{a, b})
	require.NoError(t, err)
	reversed, err := p.Predict(context.Background(), []series.Series{b, a})
	require.NoError(t, err)

	assert.Equal(t, forward[0], reversed[1])
	assert.Equal(t, forward[1], reversed[0])
}

func TestPredict_SeriesFrequencyDeterminesStart(t *testing.T) {
	hourly := series.MustParseFrequency("H")
	s := series.New(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), hourly, []float64{1, 2})

	p := newConfigured(t, echoModel(t, 2, codec.DefaultEncoding), 2)
	frames, err := p.Predict(context.Background(), []series.Series{s})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2020, 1, 1, 2, 0, 0, 0, time.UTC), frames[0].Start)
	assert.Equal(t, time.Date(2020, 1, 2, 2, 0, 0, 0, time.UTC), frames[0].Index[1])
}

func TestPredict_UTF16(t *testing.T) {
	s := series.New(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{3})

	p := newConfigured(t, echoModel(t, 3, "utf-16le"), 3)
	frames, err := p.Predict(context.Background(), []series.Series{s}, WithEncoding("utf-16le"))
	require.NoError(t, err)

	col, ok := frames[0].Column("0.9")
	require.True(t, ok)
	assert.Equal(t, []float64{3, 3, 3}, col)
}

func TestPredict_NotConfigured(t *testing.T) {
	called := false
	p := New(TransportFunc(func(context.Context, []byte) ([]byte, error) {
		called = true
		return nil, nil
	}))

	_, err := p.Predict(context.Background(), []series.Series{{Values: []float64{1}}})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, called)
}

func TestPredict_Preconditions(t *testing.T) {
	s := series.New(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{1})
	p := newConfigured(t, echoModel(t, 1, codec.DefaultEncoding), 1)

	tests := []struct {
		name string
		list []series.Series
		opts []PredictOption
		want error
	}{
		{name: "empty list", list: nil, want: ErrNoSeries},
		{name: "category mismatch", list: []series.Series{s}, opts: []PredictOption{WithCategories([]int{1, 2})}, want: ErrCategoryMismatch},
		{name: "bad samples", list: []series.Series{s}, opts: []PredictOption{WithNumSamples(0)}, want: ErrInvalidParameters},
		{name: "bad quantile", list: []series.Series{s}, opts: []PredictOption{WithQuantiles("1.5")}, want: codec.ErrInvalidQuantile},
		{name: "bad encoding", list: []series.Series{s}, opts: []PredictOption{WithEncoding("nope")}, want: codec.ErrUnknownEncoding},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Predict(context.Background(), tt.list, tt.opts...)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

type statusErr struct{ code int }

func (e *statusErr) Error() string { return "status" }

func TestPredict_TransportErrorPassesThrough(t *testing.T) {
	want := &statusErr{code: 503}
	p := newConfigured(t, TransportFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, want
	}), 1)

	_, err := p.Predict(context.Background(), []series.Series{{Values: []float64{1}}})
	assert.Same(t, want, err)
}

func TestPredict_MalformedResponse(t *testing.T) {
	two := []series.Series{{Values: []float64{1}}, {Values: []float64{2}}}

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{`},
		{name: "missing predictions", body: `{}`},
		{name: "too few predictions", body: `{"predictions":[{"quantiles":{"0.5":[1,2]}}]}`},
		{name: "missing quantiles", body: `{"predictions":[{"quantiles":{"0.5":[1,2]}},{}]}`},
		{name: "short column", body: `{"predictions":[{"quantiles":{"0.5":[1,2]}},{"quantiles":{"0.5":[1]}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newConfigured(t, TransportFunc(func(context.Context, []byte) ([]byte, error) {
				return []byte(tt.body), nil
			}), 2)

			frames, err := p.Predict(context.Background(), two)
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Nil(t, frames)
		})
	}
}

func TestSetPredictionParameters(t *testing.T) {
	p := New(echoModel(t, 1, codec.DefaultEncoding))

	assert.ErrorIs(t, p.SetPredictionParameters(series.Frequency{}, 5), ErrInvalidParameters)
	assert.ErrorIs(t, p.SetPredictionParameters(daily, 0), ErrInvalidParameters)

	_, _, ok := p.Parameters()
	assert.False(t, ok)

	require.NoError(t, p.SetPredictionParameters(daily, 5))
	assert.ErrorIs(t, p.SetPredictionParameters(series.MustParseFrequency("H"), 3), ErrAlreadyConfigured)

	freq, n, ok := p.Parameters()
	assert.True(t, ok)
	assert.Equal(t, daily, freq)
	assert.Equal(t, 5, n)
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []Observation
}

func (r *recordingObserver) ObservePredict(o Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, o)
}

func TestPredict_Observer(t *testing.T) {
	rec := &recordingObserver{}
	fail := errors.New("boom")
	calls := 0
	tr := TransportFunc(func(ctx context.Context, body []byte) ([]byte, error) {
		calls++
		if calls == 2 {
			return nil, fail
		}
		return echoModel(t, 1, codec.DefaultEncoding)(ctx, body)
	})

	p := New(tr, WithObserver(rec), WithLogger(quietLogger()))
	require.NoError(t, p.SetPredictionParameters(daily, 1))

	list := []series.Series{{Values: []float64{1}}, {Values: []float64{2}}}
	_, err := p.Predict(context.Background(), list)
	require.NoError(t, err)
	_, err = p.Predict(context.Background(), list)
	require.ErrorIs(t, err, fail)

	require.Len(t, rec.obs, 2)
	assert.Equal(t, 2, rec.obs[0].Series)
	assert.Positive(t, rec.obs[0].RequestBytes)
	assert.Positive(t, rec.obs[0].ResponseBytes)
	assert.NoError(t, rec.obs[0].Err)
	assert.ErrorIs(t, rec.obs[1].Err, fail)
	assert.Zero(t, rec.obs[1].ResponseBytes)
}

func TestFrame_Row(t *testing.T) {
	f := newFrame(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), daily, 2)
	f.addColumn("0.1", []float64{1, 2})
	f.addColumn("0.9", []float64{3, 4})

	assert.Equal(t, map[string]float64{"0.1": 2, "0.9": 4}, f.Row(1))
	_, ok := f.At(2, "0.1")
	assert.False(t, ok)
	_, ok = f.Column("0.5")
	assert.False(t, ok)
}

func TestFrame_MarshalJSON(t *testing.T) {
	f := newFrame(time.Date(2020, 1, 11, 0, 0, 0, 0, time.UTC), daily, 2)
	f.addColumn("0.9", []float64{3, math.NaN()})
	f.addColumn("0.1", []float64{1, 2})

	b, err := json.Marshal(f)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"start": "2020-01-11 00:00:00",
		"freq": "D",
		"index": ["2020-01-11 00:00:00", "2020-01-12 00:00:00"],
		"quantiles": {"0.9": [3, "NaN"], "0.1": [1, 2]}
	}`, string(b))
	assert.Less(t, strings.Index(string(b), `"0.9"`), strings.Index(string(b), `"0.1"`))
}
