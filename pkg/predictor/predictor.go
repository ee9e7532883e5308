// Package predictor requests batch forecasts from a remote probabilistic
// forecasting model and reshapes the answer into one Frame per input series.
//
// The Predictor holds a Transport that performs the actual request/response
// exchange (typically HTTP, see package transport). It never retries and never
// reorders: the i-th Frame returned by Predict always belongs to the i-th input
// series.
//
// Example:
//
//	p := predictor.New(transport.NewHTTPTransport(endpoint))
//	if err := p.SetPredictionParameters(series.MustParseFrequency("D"), 30); err != nil {
//	    return err
//	}
//	frames, err := p.Predict(ctx, list, predictor.WithQuantiles("0.1", "0.5", "0.9"))
package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/series"
)

var (
	ErrNotConfigured     = errors.New("predictor: prediction parameters not set")
	ErrAlreadyConfigured = errors.New("predictor: prediction parameters already set")
	ErrInvalidParameters = errors.New("predictor: invalid prediction parameters")
	ErrNoSeries          = errors.New("predictor: series list cannot be empty")
	ErrCategoryMismatch  = errors.New("predictor: categories and series differ in length")
	ErrMalformedResponse = errors.New("predictor: malformed response")
)

// Transport exchanges an encoded request for an encoded response.
// Implementations own connection handling, authentication and endpoint
// resolution.
type Transport interface {
	Send(ctx context.Context, body []byte) ([]byte, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, body []byte) ([]byte, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, body []byte) ([]byte, error) {
	return f(ctx, body)
}

// Observer is notified once per Predict call that reached the transport.
type Observer interface {
	ObservePredict(o Observation)
}

// Observation describes one completed Predict call.
type Observation struct {
	Series        int
	RequestBytes  int
	ResponseBytes int
	Duration      time.Duration
	Err           error
}

// Predictor requests forecasts for batches of series.
type Predictor struct {
	transport Transport
	logger    *slog.Logger
	observer  Observer

	mu               sync.RWMutex
	freq             series.Frequency
	predictionLength int
	configured       bool
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Predictor) { p.logger = logger }
}

// WithObserver registers an observer for completed calls.
func WithObserver(o Observer) Option {
	return func(p *Predictor) { p.observer = o }
}

// New creates a Predictor that sends requests through t.
// SetPredictionParameters must be called before Predict.
func New(t Transport, opts ...Option) *Predictor {
	p := &Predictor{transport: t}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// SetPredictionParameters sets the frequency used to build the forecast index
// and the number of steps the remote model produces per series. It may only
// be called once.
func (p *Predictor) SetPredictionParameters(freq series.Frequency, predictionLength int) error {
	if freq.IsZero() {
		return fmt.Errorf("%w: frequency is required", ErrInvalidParameters)
	}
	if predictionLength <= 0 {
		return fmt.Errorf("%w: prediction length must be > 0, got %d", ErrInvalidParameters, predictionLength)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.configured {
		return ErrAlreadyConfigured
	}
	p.freq = freq
	p.predictionLength = predictionLength
	p.configured = true
	return nil
}

// Parameters returns the configured frequency and prediction length.
// ok is false until SetPredictionParameters succeeded.
func (p *Predictor) Parameters() (freq series.Frequency, predictionLength int, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.freq, p.predictionLength, p.configured
}

type predictOptions struct {
	categories []int
	encoding   string
	numSamples int
	quantiles  []string
}

// PredictOption customizes a single Predict call.
type PredictOption func(*predictOptions)

// WithCategories attaches cats[k] to series k. The lengths must match.
func WithCategories(cats []int) PredictOption {
	return func(o *predictOptions) { o.categories = cats }
}

// WithEncoding sets the text encoding of request and response bodies.
// Defaults to utf-8.
func WithEncoding(name string) PredictOption {
	return func(o *predictOptions) { o.encoding = name }
}

// WithNumSamples sets how many sample paths the model draws. Defaults to 100.
func WithNumSamples(n int) PredictOption {
	return func(o *predictOptions) { o.numSamples = n }
}

// WithQuantiles sets the quantile levels to compute.
// Defaults to "0.1", "0.5", "0.9".
func WithQuantiles(levels ...string) PredictOption {
	return func(o *predictOptions) { o.quantiles = levels }
}

// Predict requests forecasts for every series in list and returns one Frame
// per series, in the same order.
//
// Errors returned by the transport are passed through unchanged.
func (p *Predictor) Predict(ctx context.Context, list []series.Series, opts ...PredictOption) ([]Frame, error) {
	freq, predictionLength, ok := p.Parameters()
	if !ok {
		return nil, ErrNotConfigured
	}

	o := predictOptions{
		encoding:   codec.DefaultEncoding,
		numSamples: codec.DefaultNumSamples,
		quantiles:  codec.DefaultQuantiles(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(list) == 0 {
		return nil, ErrNoSeries
	}
	if o.categories != nil && len(o.categories) != len(list) {
		return nil, fmt.Errorf("%w: %d categories for %d series", ErrCategoryMismatch, len(o.categories), len(list))
	}
	if o.numSamples <= 0 {
		return nil, fmt.Errorf("%w: num samples must be > 0, got %d", ErrInvalidParameters, o.numSamples)
	}
	if _, err := codec.NormalizeQuantiles(o.quantiles); err != nil {
		return nil, fmt.Errorf("predictor: %w", err)
	}

	starts := make([]time.Time, len(list))
	for k, s := range list {
		starts[k] = s.Next(freq)
	}

	req := codec.NewRequest(list, o.categories, codec.NewConfiguration(o.numSamples, o.quantiles))
	body, err := codec.EncodeRequest(req, o.encoding)
	if err != nil {
		return nil, fmt.Errorf("predictor: encode request: %w", err)
	}

	start := time.Now()
	respBody, err := p.transport.Send(ctx, body)
	duration := time.Since(start)

	if err != nil {
		p.observe(Observation{Series: len(list), RequestBytes: len(body), Duration: duration, Err: err})
		return nil, err
	}

	frames, err := p.decode(respBody, o.encoding, starts, freq, predictionLength)
	p.observe(Observation{
		Series:        len(list),
		RequestBytes:  len(body),
		ResponseBytes: len(respBody),
		Duration:      duration,
		Err:           err,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("prediction complete",
		"series", len(list),
		"prediction_length", predictionLength,
		"freq", freq.String(),
		"request_bytes", len(body),
		"response_bytes", len(respBody),
		"duration_ms", duration.Milliseconds(),
	)

	return frames, nil
}

// decode reshapes the response into frames. Entry k of the response belongs to
// series k; its index starts at starts[k].
func (p *Predictor) decode(body []byte, encoding string, starts []time.Time, freq series.Frequency, predictionLength int) ([]Frame, error) {
	resp, err := codec.DecodeResponse(body, encoding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	frames := make([]Frame, len(starts))
	for k := range starts {
		if k >= len(resp.Predictions) {
			return nil, fmt.Errorf("%w: expected %d predictions, got %d", ErrMalformedResponse, len(starts), len(resp.Predictions))
		}

		q := resp.Predictions[k].Quantiles
		if q.Len() == 0 {
			return nil, fmt.Errorf("%w: predictions[%d] has no quantiles", ErrMalformedResponse, k)
		}

		frame := newFrame(starts[k], freq, predictionLength)
		for _, level := range q.Levels() {
			values, _ := q.Get(level)
			if len(values) != predictionLength {
				return nil, fmt.Errorf("%w: predictions[%d] quantile %s has %d values, expected %d",
					ErrMalformedResponse, k, level, len(values), predictionLength)
			}
			frame.addColumn(level, values)
		}
		frames[k] = frame
	}

	return frames, nil
}

func (p *Predictor) observe(o Observation) {
	if p.observer != nil {
		p.observer.ObservePredict(o)
	}
}
