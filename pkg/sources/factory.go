package sources

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/HatiCode/deepcast/pkg/series"
)

// Options carries settings shared by every source kind.
type Options struct {
	// Freq is attached to series read from files and URLs.
	Freq series.Frequency

	// Window and Step apply to prometheus and http sources.
	Window time.Duration
	Step   time.Duration

	// Progress receives download progress for url sources.
	Progress io.Writer

	HTTPClient *http.Client
}

// New creates a source from its kind and a generic configuration map.
//
// Supported kinds:
//   - "file":            path
//   - "url":             url
//   - "prometheus":      url (default http://localhost:9090), query
//   - "victoriametrics": url (default http://localhost:8428), query
//   - "http":            url, valuePath, timestampPath, method, body,
//     timestampFormat, name, headers (JSON object), templateVars (JSON object)
func New(kind string, config map[string]string, opts Options) (Source, error) {
	switch kind {
	case "file":
		return newFile(config, opts)
	case "url":
		return newURL(config, opts)
	case "prometheus":
		return newPrometheus(config, opts, "http://localhost:9090")
	case "victoriametrics":
		return newPrometheus(config, opts, "http://localhost:8428")
	case "http":
		return newHTTP(config, opts)
	default:
		return nil, fmt.Errorf("unknown source kind: %s (must be file, url, prometheus, victoriametrics, or http)", kind)
	}
}

func newFile(config map[string]string, opts Options) (Source, error) {
	path := config["path"]
	if path == "" {
		return nil, fmt.Errorf("file source requires 'path' config")
	}
	return &FileSource{Path: path, Freq: opts.Freq}, nil
}

func newURL(config map[string]string, opts Options) (Source, error) {
	u := config["url"]
	if u == "" {
		return nil, fmt.Errorf("url source requires 'url' config")
	}
	return &URLSource{URL: u, Freq: opts.Freq, Progress: opts.Progress, HTTPClient: opts.HTTPClient}, nil
}

func newPrometheus(config map[string]string, opts Options, defaultURL string) (Source, error) {
	query := config["query"]
	if query == "" {
		return nil, fmt.Errorf("prometheus source requires 'query' config")
	}

	u := config["url"]
	if u == "" {
		u = defaultURL
	}

	return &PrometheusSource{
		ServerURL:  u,
		Query:      query,
		Window:     opts.Window,
		Step:       opts.Step,
		HTTPClient: opts.HTTPClient,
	}, nil
}

func newHTTP(config map[string]string, opts Options) (Source, error) {
	var headers map[string]string
	if headersJSON := config["headers"]; headersJSON != "" {
		if err := json.Unmarshal([]byte(headersJSON), &headers); err != nil {
			return nil, fmt.Errorf("invalid 'headers' JSON: %w", err)
		}
	}

	var templateVars map[string]string
	if varsJSON := config["templateVars"]; varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &templateVars); err != nil {
			return nil, fmt.Errorf("invalid 'templateVars' JSON: %w", err)
		}
	}

	src := &HTTPSource{
		URL:             config["url"],
		Method:          config["method"],
		Headers:         headers,
		Body:            config["body"],
		ValuePath:       config["valuePath"],
		TimestampPath:   config["timestampPath"],
		TimestampFormat: config["timestampFormat"],
		SeriesName:      config["name"],
		Window:          opts.Window,
		Step:            opts.Step,
		HTTPClient:      opts.HTTPClient,
		TemplateVars:    templateVars,
	}
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("http source: %w", err)
	}
	return src, nil
}
