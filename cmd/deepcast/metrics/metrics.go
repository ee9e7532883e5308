// Package metrics provides Prometheus instrumentation for deepcast.
//
// Metrics exposed:
//   - deepcast_predict_seconds: Histogram of model round-trip duration
//   - deepcast_predict_series_total: Counter of series sent for prediction
//   - deepcast_request_bytes: Histogram of encoded request sizes
//   - deepcast_response_bytes: Histogram of response sizes
//   - deepcast_errors_total: Counter of errors by component and reason
//
// Metrics implements predictor.Observer so it can be handed to
// predictor.WithObserver directly.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HatiCode/deepcast/pkg/predictor"
	"github.com/HatiCode/deepcast/pkg/transport"
)

// Metrics holds all Prometheus metrics for deepcast.
type Metrics struct {
	PredictSeconds     prometheus.Histogram
	PredictSeriesTotal prometheus.Counter
	RequestBytes       prometheus.Histogram
	ResponseBytes      prometheus.Histogram
	ErrorsTotal        *prometheus.CounterVec
}

// New creates all metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer, endpoint string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"endpoint": endpoint}
	sizeBuckets := prometheus.ExponentialBuckets(256, 4, 10)

	return &Metrics{
		PredictSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "deepcast_predict_seconds",
			Help:        "Time spent waiting for the model endpoint",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),

		PredictSeriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name:        "deepcast_predict_series_total",
			Help:        "Total number of series sent for prediction",
			ConstLabels: labels,
		}),

		RequestBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "deepcast_request_bytes",
			Help:        "Size of encoded prediction requests",
			ConstLabels: labels,
			Buckets:     sizeBuckets,
		}),

		ResponseBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "deepcast_response_bytes",
			Help:        "Size of prediction responses",
			ConstLabels: labels,
			Buckets:     sizeBuckets,
		}),

		ErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "deepcast_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
	}
}

// ObservePredict implements predictor.Observer.
func (m *Metrics) ObservePredict(o predictor.Observation) {
	m.PredictSeconds.Observe(o.Duration.Seconds())
	m.PredictSeriesTotal.Add(float64(o.Series))
	m.RequestBytes.Observe(float64(o.RequestBytes))
	if o.Err != nil {
		m.RecordError("predictor", reason(o.Err))
		return
	}
	m.ResponseBytes.Observe(float64(o.ResponseBytes))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func reason(err error) string {
	var statusErr *transport.StatusError
	switch {
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, predictor.ErrMalformedResponse):
		return "malformed_response"
	default:
		return "transport"
	}
}
