package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/tidwall/gjson"

	"github.com/HatiCode/deepcast/pkg/series"
)

// HTTPSource calls any REST endpoint and extracts a single series using
// gjson path expressions.
//
// Example configuration for a custom metrics API:
//
//	src := &HTTPSource{
//	    URL:    "https://api.example.com/metrics",
//	    Method: "POST",
//	    Headers: map[string]string{
//	        "Authorization": "Bearer {{.Token}}",
//	    },
//	    Body:          `{"metric": "orders", "window": "{{.WindowSeconds}}s"}`,
//	    ValuePath:     "data.#.value",
//	    TimestampPath: "data.#.timestamp",
//	    Step:          24 * time.Hour,
//	}
type HTTPSource struct {
	// URL is the endpoint to call (required).
	URL string

	// Method defaults to GET.
	Method string

	// Headers may use template variables, e.g. {{.Token}}.
	Headers map[string]string

	// Body is a request body template. Available variables:
	//   {{.WindowSeconds}} {{.Start}} {{.End}} {{.Step}} {{.StartRFC3339}} {{.EndRFC3339}}
	// plus everything in TemplateVars.
	Body string

	// ValuePath and TimestampPath are gjson paths returning arrays of equal length.
	ValuePath     string
	TimestampPath string

	// TimestampFormat is "rfc3339" (default), "unix" or "unix_milli".
	TimestampFormat string

	// Name labels the resulting series.
	SeriesName string

	// Window is the history requested through the template variables.
	Window time.Duration

	// Step is the spacing of the resulting series (defaults to one minute).
	Step time.Duration

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	TemplateVars map[string]string
}

func (h *HTTPSource) Name() string { return "http" }

// Load implements Source.
func (h *HTTPSource) Load(ctx context.Context) (Batch, error) {
	if err := h.Validate(); err != nil {
		return Batch{}, fmt.Errorf("http source: %w", err)
	}

	step := h.Step
	if step <= 0 {
		step = time.Minute
	}
	window := h.Window
	if window <= 0 {
		window = time.Hour
	}

	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-window)

	data := map[string]any{
		"WindowSeconds": int(window.Seconds()),
		"Start":         start.Unix(),
		"End":           now.Unix(),
		"Step":          int(step.Seconds()),
		"StartRFC3339":  start.Format(time.RFC3339),
		"EndRFC3339":    now.Format(time.RFC3339),
	}
	for k, v := range h.TemplateVars {
		data[k] = v
	}

	method := h.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader
	if h.Body != "" {
		rendered, err := renderTemplate(h.Body, data)
		if err != nil {
			return Batch{}, fmt.Errorf("render body template: %w", err)
		}
		bodyReader = strings.NewReader(rendered)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.URL, bodyReader)
	if err != nil {
		return Batch{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range h.Headers {
		rendered, err := renderTemplate(value, data)
		if err != nil {
			return Batch{}, fmt.Errorf("render header %s: %w", key, err)
		}
		req.Header.Set(key, rendered)
	}

	cli := h.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := cli.Do(req)
	if err != nil {
		return Batch{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Batch{}, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Batch{}, fmt.Errorf("read response: %w", err)
	}

	values := gjson.GetBytes(respBody, h.ValuePath)
	timestamps := gjson.GetBytes(respBody, h.TimestampPath)
	if !values.Exists() {
		return Batch{}, fmt.Errorf("value path %q not found in response", h.ValuePath)
	}
	if !timestamps.Exists() {
		return Batch{}, fmt.Errorf("timestamp path %q not found in response", h.TimestampPath)
	}

	valArray := values.Array()
	tsArray := timestamps.Array()
	if len(valArray) != len(tsArray) {
		return Batch{}, fmt.Errorf("value count (%d) != timestamp count (%d)", len(valArray), len(tsArray))
	}

	points := make([]point, len(valArray))
	for i := range valArray {
		ts, err := h.parseTimestamp(tsArray[i])
		if err != nil {
			return Batch{}, fmt.Errorf("parse timestamp[%d]: %w", i, err)
		}
		points[i] = point{ts: ts, value: valArray[i].Float()}
	}

	s, err := seriesFromPoints(h.SeriesName, points, step)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Series: []series.Series{s}}, nil
}

func (h *HTTPSource) parseTimestamp(value gjson.Result) (time.Time, error) {
	switch h.TimestampFormat {
	case "", "rfc3339":
		return time.Parse(time.RFC3339, value.String())
	case "unix":
		return time.Unix(int64(value.Float()), 0).UTC(), nil
	case "unix_milli":
		return time.UnixMilli(int64(value.Float())).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp format: %s", h.TimestampFormat)
	}
}

// Validate checks the static configuration.
func (h *HTTPSource) Validate() error {
	if h.URL == "" {
		return errors.New("url is required")
	}
	if h.ValuePath == "" {
		return errors.New("valuePath is required")
	}
	if h.TimestampPath == "" {
		return errors.New("timestampPath is required")
	}
	switch h.TimestampFormat {
	case "", "rfc3339", "unix", "unix_milli":
	default:
		return fmt.Errorf("invalid timestampFormat: %s (must be rfc3339, unix, or unix_milli)", h.TimestampFormat)
	}
	return nil
}

func renderTemplate(tmplStr string, data map[string]any) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}

	tmpl, err := template.New("").Option("missingkey=error").Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
