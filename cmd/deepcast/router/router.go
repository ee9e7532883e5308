// Package router configures HTTP routes for deepcast serve mode.
//
// Serve mode turns deepcast into a small forecasting proxy: clients post plain
// series and receive forecast tables, while deepcast handles the model's wire
// format, encoding and time alignment.
//
// Routes configured:
//   - POST /predict - Forecast a batch of series
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//
// A /predict request looks like
//
//	{
//	  "series": [{"start": "2020-01-01 00:00:00", "target": [1, 2, "NaN"], "cat": 0}],
//	  "numSamples": 100,
//	  "quantiles": ["0.1", "0.5", "0.9"],
//	  "encoding": "utf-8"
//	}
//
// and is answered with {"forecasts": [<frame>, ...]}, one frame per series.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/httpx"
	"github.com/HatiCode/deepcast/pkg/predictor"
	"github.com/HatiCode/deepcast/pkg/series"
)

// maxBodyBytes bounds a /predict request body.
const maxBodyBytes = 32 << 20

// Forecaster is the part of *predictor.Predictor the router needs.
type Forecaster interface {
	Parameters() (freq series.Frequency, predictionLength int, ok bool)
	Predict(ctx context.Context, list []series.Series, opts ...predictor.PredictOption) ([]predictor.Frame, error)
}

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	Series     []codec.Instance `json:"series"`
	NumSamples int              `json:"numSamples"`
	Quantiles  []string         `json:"quantiles"`
	Encoding   string           `json:"encoding"`
}

// PredictResponse is the body of a successful POST /predict.
type PredictResponse struct {
	Forecasts []predictor.Frame `json:"forecasts"`
}

// SetupRoutes configures HTTP endpoints for serve mode. gatherer backs
// /metrics; nil means the default gatherer.
func SetupRoutes(f Forecaster, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(func() error {
		if _, _, ok := f.Parameters(); !ok {
			return predictor.ErrNotConfigured
		}
		return nil
	}))

	mux.HandleFunc("POST /predict", handlePredict(f, logger))

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return httpx.Chain(mux,
		httpx.RequestIDMiddleware(),
		httpx.LoggingMiddleware(logger),
		httpx.RecoveryMiddleware(logger),
	)
}

func handlePredict(f Forecaster, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PredictRequest
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		freq, _, ok := f.Parameters()
		if !ok {
			httpx.WriteError(w, http.StatusServiceUnavailable, predictor.ErrNotConfigured)
			return
		}

		list, cats, err := toSeries(req.Series, freq)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		var opts []predictor.PredictOption
		if cats != nil {
			opts = append(opts, predictor.WithCategories(cats))
		}
		if req.NumSamples != 0 {
			opts = append(opts, predictor.WithNumSamples(req.NumSamples))
		}
		if len(req.Quantiles) > 0 {
			opts = append(opts, predictor.WithQuantiles(req.Quantiles...))
		}
		if req.Encoding != "" {
			opts = append(opts, predictor.WithEncoding(req.Encoding))
		}

		frames, err := f.Predict(r.Context(), list, opts...)
		if err != nil {
			status := statusFor(err)
			logger.Warn("prediction failed",
				"series", len(list),
				"status", status,
				"request_id", r.Header.Get("X-Request-Id"),
				"error", err,
			)
			httpx.WriteError(w, status, err)
			return
		}

		if err := httpx.WriteJSON(w, http.StatusOK, PredictResponse{Forecasts: frames}); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

// toSeries converts request instances. Categories must be given for every
// series or for none.
func toSeries(instances []codec.Instance, freq series.Frequency) ([]series.Series, []int, error) {
	list := make([]series.Series, len(instances))
	withCat := 0
	for i, in := range instances {
		s, err := in.Series(freq)
		if err != nil {
			return nil, nil, fmt.Errorf("series[%d]: %w", i, err)
		}
		list[i] = s
		if in.Cat != nil {
			withCat++
		}
	}

	switch withCat {
	case 0:
		return list, nil, nil
	case len(instances):
		cats := make([]int, len(instances))
		for i, in := range instances {
			cats[i] = *in.Cat
		}
		return list, cats, nil
	default:
		return nil, nil, fmt.Errorf("%d of %d series have a category; give one for every series or none", withCat, len(instances))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, predictor.ErrNoSeries),
		errors.Is(err, predictor.ErrCategoryMismatch),
		errors.Is(err, predictor.ErrInvalidParameters),
		errors.Is(err, codec.ErrInvalidQuantile),
		errors.Is(err, codec.ErrUnknownEncoding):
		return http.StatusBadRequest
	case errors.Is(err, predictor.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
