//go:build integration

package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/HatiCode/deepcast/pkg/httpx"
	"github.com/HatiCode/deepcast/pkg/predictor"
	"github.com/HatiCode/deepcast/pkg/series"
	"github.com/HatiCode/deepcast/pkg/sources"
	"github.com/HatiCode/deepcast/pkg/tls"
	"github.com/HatiCode/deepcast/pkg/transport"
)

const predictionLength = 3

// modelScript mimics a DeepAR inference endpoint: every quantile of every
// instance repeats the instance's last target value. POST /fail answers 500.
const modelScript = `
import http.server, json, socketserver

class Model(http.server.BaseHTTPRequestHandler):
    def do_POST(self):
        body = self.rfile.read(int(self.headers['Content-Length']))
        if self.path == '/fail':
            self.send_response(500)
            self.end_headers()
            self.wfile.write(b'model exploded')
            return
        req = json.loads(body)
        preds = []
        for inst in req['instances']:
            last = float(inst['target'][-1])
            q = {level: [last] * %d for level in req['configuration']['quantiles']}
            preds.append({'quantiles': q})
        out = json.dumps({'predictions': preds}).encode()
        self.send_response(200)
        self.send_header('Content-Type', 'application/json')
        self.send_header('X-Seen-Request-Id', self.headers.get('X-Request-Id', ''))
        self.end_headers()
        self.wfile.write(out)

    def log_message(self, format, *args):
        pass

with socketserver.TCPServer(("", 8080), Model) as httpd:
    httpd.serve_forever()
`

// promScript mimics the Prometheus range query API with two streams.
const promScript = `
import http.server, json, socketserver, time

class Prom(http.server.BaseHTTPRequestHandler):
    def do_GET(self):
        if not self.path.startswith('/api/v1/query_range'):
            self.send_response(404)
            self.end_headers()
            return
        now = int(time.time()) // 60 * 60
        def values(base):
            return [[now - 60 * (4 - i), str(base + i)] for i in range(5)]
        result = [
            {'metric': {'__name__': 'rps', 'service': 'b'}, 'values': values(200)},
            {'metric': {'__name__': 'rps', 'service': 'a'}, 'values': values(100)},
        ]
        out = json.dumps({'status': 'success', 'data': {'resultType': 'matrix', 'result': result}}).encode()
        self.send_response(200)
        self.send_header('Content-Type', 'application/json')
        self.end_headers()
        self.wfile.write(out)

    def log_message(self, format, *args):
        pass

with socketserver.TCPServer(("", 9090), Prom) as httpd:
    httpd.serve_forever()
`

func startPython(ctx context.Context, t *testing.T, script, port string) string {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "python:3.11-alpine",
		ExposedPorts: []string{port + "/tcp"},
		Cmd:          []string{"python", "-c", script},
		WaitingFor:   wait.ForListeningPort(nat.Port(port + "/tcp")).WithStartupTimeout(30 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start container: %v", err)
	}
	t.Cleanup(func() {
		if t.Failed() {
			if logs, err := c.Logs(ctx); err == nil {
				b, _ := io.ReadAll(logs)
				logs.Close()
				t.Logf("container logs:\n%s", b)
			}
		}
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("http://%s:%s", host, mapped.Port())
}

// TestPrometheusToModelE2E loads two streams from a mock Prometheus and
// forecasts them through a mock model container.
func TestPrometheusToModelE2E(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	modelURL := startPython(ctx, t, fmt.Sprintf(modelScript, predictionLength), "8080")
	promURL := startPython(ctx, t, promScript, "9090")

	src := &sources.PrometheusSource{
		ServerURL: promURL,
		Query:     `sum by (service) (rate(http_requests_total[1m]))`,
		Window:    10 * time.Minute,
		Step:      time.Minute,
	}
	batch, err := src.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if batch.Len() != 2 {
		t.Fatalf("expected 2 series, got %d", batch.Len())
	}

	client, err := httpx.NewClient(tls.Config{}, 10*time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	p := predictor.New(transport.NewHTTPTransport(modelURL+"/invocations", transport.WithClient(client)))
	if err := p.SetPredictionParameters(series.MustParseFrequency("min"), predictionLength); err != nil {
		t.Fatal(err)
	}

	frames, err := p.Predict(ctx, batch.Series, predictor.WithQuantiles("0.5", "0.9"))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}

	// Series are sorted by name, so service "a" comes first.
	for k, wantLast := range []float64{104, 204} {
		f := frames[k]
		if f.Len() != predictionLength {
			t.Errorf("frame %d: expected %d rows, got %d", k, predictionLength, f.Len())
		}
		last, _ := batch.Series[k].Last(series.Frequency{})
		if want := last.Add(time.Minute); !f.Start.Equal(want) {
			t.Errorf("frame %d: expected start %v, got %v", k, want, f.Start)
		}
		if v, ok := f.At(predictionLength-1, "0.9"); !ok || v != wantLast {
			t.Errorf("frame %d: expected %v, got %v (ok=%v)", k, wantLast, v, ok)
		}
	}
}

// TestModelStatusError checks that a failing endpoint surfaces as a
// *transport.StatusError through the predictor.
func TestModelStatusError(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	modelURL := startPython(ctx, t, fmt.Sprintf(modelScript, predictionLength), "8080")

	p := predictor.New(transport.NewHTTPTransport(modelURL + "/fail"))
	if err := p.SetPredictionParameters(series.MustParseFrequency("D"), predictionLength); err != nil {
		t.Fatal(err)
	}

	s := series.New(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), series.Frequency{}, []float64{1, 2, 3})
	_, err := p.Predict(ctx, []series.Series{s})

	var statusErr *transport.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusInternalServerError || statusErr.Body != "model exploded" {
		t.Errorf("unexpected status error %+v", statusErr)
	}
}
