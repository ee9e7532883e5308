// Package codec encodes batch prediction requests for a remote probabilistic
// forecasting model and decodes its responses.
//
// Request wire format:
//
//	{"instances": [{"start": "2020-01-01 00:00:00", "target": [1, 2, "NaN"], "cat": 3}, ...],
//	 "configuration": {"num_samples": 100, "output_types": ["quantiles"], "quantiles": ["0.1", "0.5", "0.9"]}}
//
// Response wire format:
//
//	{"predictions": [{"quantiles": {"0.1": [...], "0.5": [...], "0.9": [...]}}, ...]}
//
// Predictions are positionally aligned with instances. The codec keeps the
// order of the quantile keys exactly as the service sent them.
package codec

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/HatiCode/deepcast/pkg/series"
)

// OutputQuantiles is the only output type requested from the model.
const OutputQuantiles = "quantiles"

// DefaultNumSamples is the number of sample paths drawn by the model when the
// caller does not ask for a specific number.
const DefaultNumSamples = 100

// DefaultQuantiles returns the quantile levels requested by default.
func DefaultQuantiles() []string {
	return []string{"0.1", "0.5", "0.9"}
}

var (
	ErrInvalidJSON    = errors.New("invalid JSON")
	ErrNoPredictions  = errors.New("response has no predictions array")
	ErrInvalidElement = errors.New("invalid response element")
)

// Instance is one series in a prediction request.
type Instance struct {
	Start  string `json:"start"`
	Target Target `json:"target"`
	Cat    *int   `json:"cat,omitempty"`
}

// Configuration is shared by every instance of a request.
type Configuration struct {
	NumSamples  int      `json:"num_samples"`
	OutputTypes []string `json:"output_types"`
	Quantiles   []string `json:"quantiles"`
}

// Request is the body sent to the prediction endpoint.
type Request struct {
	Instances     []Instance    `json:"instances"`
	Configuration Configuration `json:"configuration"`
}

// Prediction is the forecast for one instance.
type Prediction struct {
	Quantiles Quantiles `json:"quantiles"`
}

// Response is the body returned by the prediction endpoint.
type Response struct {
	Predictions []Prediction `json:"predictions"`
}

// NewInstance converts a series into a request instance. cat is omitted from
// the wire when nil.
func NewInstance(s series.Series, cat *int) Instance {
	target := make(Target, len(s.Values))
	copy(target, s.Values)
	return Instance{
		Start:  s.FormatStart(),
		Target: target,
		Cat:    cat,
	}
}

// Series converts an instance back into a series with the given frequency.
func (in Instance) Series(freq series.Frequency) (series.Series, error) {
	start, err := series.ParseStart(in.Start)
	if err != nil {
		return series.Series{}, fmt.Errorf("parse start %q: %w", in.Start, err)
	}
	values := make([]float64, len(in.Target))
	copy(values, in.Target)
	return series.New(start, freq, values), nil
}

// NewConfiguration returns a configuration requesting quantile output.
func NewConfiguration(numSamples int, quantiles []string) Configuration {
	q := make([]string, len(quantiles))
	copy(q, quantiles)
	return Configuration{
		NumSamples:  numSamples,
		OutputTypes: []string{OutputQuantiles},
		Quantiles:   q,
	}
}

// NewRequest builds a request for the given series. cats may be nil; otherwise
// cats[k] is attached to series k and the caller guarantees equal lengths.
func NewRequest(list []series.Series, cats []int, cfg Configuration) Request {
	instances := make([]Instance, len(list))
	for k, s := range list {
		var cat *int
		if cats != nil {
			c := cats[k]
			cat = &c
		}
		instances[k] = NewInstance(s, cat)
	}
	return Request{Instances: instances, Configuration: cfg}
}

// EncodeRequest serializes req as JSON in the named text encoding.
func EncodeRequest(req Request, encoding string) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return FromUTF8(body, encoding)
}

// DecodeResponse parses a response body in the named text encoding.
//
// Only the shape that is present gets decoded: a prediction without a
// "quantiles" object decodes to an empty Quantiles, and nothing checks the
// number of predictions or values. Callers decide what a short response means.
func DecodeResponse(body []byte, encoding string) (Response, error) {
	raw, err := ToUTF8(body, encoding)
	if err != nil {
		return Response{}, err
	}
	if !gjson.ValidBytes(raw) {
		return Response{}, ErrInvalidJSON
	}

	preds := gjson.GetBytes(raw, "predictions")
	if !preds.IsArray() {
		return Response{}, ErrNoPredictions
	}

	var resp Response
	var perr error
	preds.ForEach(func(_, p gjson.Result) bool {
		q, err := parseQuantiles(p.Get("quantiles"))
		if err != nil {
			perr = fmt.Errorf("predictions[%d]: %w", len(resp.Predictions), err)
			return false
		}
		resp.Predictions = append(resp.Predictions, Prediction{Quantiles: q})
		return true
	})
	if perr != nil {
		return Response{}, perr
	}

	return resp, nil
}

// EncodeResponse serializes a response. It is the inverse of DecodeResponse
// and is used by the proxy and by test doubles of the model.
func EncodeResponse(resp Response, encoding string) ([]byte, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return FromUTF8(body, encoding)
}
