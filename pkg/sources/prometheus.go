package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/HatiCode/deepcast/pkg/series"
)

// PrometheusSource turns a Prometheus range query into one series per
// returned stream. Streams are named after their label set and sorted by
// name so the batch order is stable between runs.
//
// VictoriaMetrics and other Prometheus-compatible backends work as well.
type PrometheusSource struct {
	// ServerURL is the base URL, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate.
	Query string
	// Window is how much history to fetch, ending now.
	Window time.Duration
	// Step is the query resolution and the frequency of the resulting series.
	Step time.Duration
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client

	now func() time.Time
}

func (p *PrometheusSource) Name() string { return "prometheus" }

type promRangeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		ResultType string            `json:"resultType"`
		Result     []promRangeStream `json:"result"`
	} `json:"data"`
}

type promRangeStream struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

// Load implements Source.
func (p *PrometheusSource) Load(ctx context.Context) (Batch, error) {
	if p.ServerURL == "" || p.Query == "" {
		return Batch{}, errors.New("prometheus source: ServerURL and Query are required")
	}
	step := p.Step
	if step <= 0 {
		step = time.Minute
	}
	window := p.Window
	if window <= 0 {
		window = time.Hour
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	end := now().UTC().Truncate(step)
	start := end.Add(-window)

	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return Batch{}, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/v1/query_range"

	q := u.Query()
	q.Set("query", p.Query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("step", strconv.FormatInt(int64(step/time.Second), 10))
	u.RawQuery = q.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Batch{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return Batch{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Batch{}, fmt.Errorf("read prometheus response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Batch{}, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	var pr promRangeResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return Batch{}, fmt.Errorf("decode prometheus response: %w", err)
	}
	if pr.Status != "success" {
		return Batch{}, fmt.Errorf("prometheus status %s: %s", pr.Status, pr.Error)
	}

	return streamsToBatch(pr.Data.Result, step)
}

func streamsToBatch(streams []promRangeStream, step time.Duration) (Batch, error) {
	if len(streams) == 0 {
		return Batch{}, ErrEmpty
	}

	b := Batch{Series: make([]series.Series, 0, len(streams))}
	for _, st := range streams {
		points, err := parseStreamValues(st.Values)
		if err != nil {
			return Batch{}, fmt.Errorf("stream %s: %w", labelSetName(st.Metric), err)
		}
		if len(points) == 0 {
			continue
		}
		s, err := seriesFromPoints(labelSetName(st.Metric), points, step)
		if err != nil {
			return Batch{}, err
		}
		b.Series = append(b.Series, s)
	}
	if len(b.Series) == 0 {
		return Batch{}, ErrEmpty
	}

	sort.SliceStable(b.Series, func(i, j int) bool { return b.Series[i].Name < b.Series[j].Name })
	return b, nil
}

func parseStreamValues(pairs [][]any) ([]point, error) {
	points := make([]point, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
		}

		var tsSec float64
		switch v := pair[0].(type) {
		case float64:
			tsSec = v
		default:
			return nil, fmt.Errorf("unexpected timestamp type %T", v)
		}

		var val float64
		switch vv := pair[1].(type) {
		case string:
			f, err := strconv.ParseFloat(vv, 64)
			if err != nil {
				return nil, fmt.Errorf("parse value: %w", err)
			}
			val = f
		case float64:
			val = vv
		default:
			return nil, fmt.Errorf("unexpected value type %T", vv)
		}

		points = append(points, point{ts: time.Unix(int64(tsSec), 0).UTC(), value: val})
	}
	return points, nil
}

// labelSetName renders labels as {a="1",b="2"} with keys sorted; __name__
// is used as a prefix when present.
func labelSetName(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		if k != "__name__" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(labels["__name__"])
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(labels[k])
		sb.WriteByte('"')
	}
	sb.WriteByte('}')
	return sb.String()
}
