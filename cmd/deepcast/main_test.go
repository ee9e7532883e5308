package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const seriesFile = `{"start":"2020-01-01 00:00:00","target":[1,2,3,4,5,6,7,8,9,10]}
{"start":"2020-01-01 00:00:00","target":[5,5,5]}
`

// modelServer answers like a DeepAR endpoint: one prediction per instance,
// each quantile holding the instance's last target value.
func modelServer(t *testing.T, predictionLength int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var preds []string
		gjson.GetBytes(body, "instances").ForEach(func(_, in gjson.Result) bool {
			target := in.Get("target").Array()
			last := target[len(target)-1].Float()
			var cols []string
			gjson.GetBytes(body, "configuration.quantiles").ForEach(func(_, q gjson.Result) bool {
				vals := strings.TrimSuffix(strings.Repeat(fmt.Sprintf("%g,", last), predictionLength), ",")
				cols = append(cols, fmt.Sprintf("%q:[%s]", q.String(), vals))
				return true
			})
			preds = append(preds, `{"quantiles":{`+strings.Join(cols, ",")+`}}`)
			return true
		})
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"predictions":[%s]}`, strings.Join(preds, ","))
	}))
}

func writeSeries(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "series.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(seriesFile), 0o600))
	return path
}

func TestRun_PredictTSV(t *testing.T) {
	srv := modelServer(t, 5)
	defer srv.Close()

	var out bytes.Buffer
	code := run([]string{
		"-endpoint", srv.URL,
		"-prediction-length", "5",
		"-quantiles", "0.5",
		"-log-level", "error",
		writeSeries(t),
	}, &out)
	require.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.GreaterOrEqual(t, len(lines), 7)
	assert.Equal(t, "# series 0", lines[0])
	assert.Equal(t, "timestamp\t0.5", lines[1])
	assert.Equal(t, "2020-01-11 00:00:00\t10", lines[2])
	assert.Equal(t, "2020-01-15 00:00:00\t10", lines[6])
	assert.Contains(t, out.String(), "2020-01-04 00:00:00\t5")
}

func TestRun_PredictJSONWithPlot(t *testing.T) {
	srv := modelServer(t, 2)
	defer srv.Close()

	plotPath := filepath.Join(t.TempDir(), "forecast.html")
	var out bytes.Buffer
	code := run([]string{
		"-endpoint", srv.URL,
		"-prediction-length", "2",
		"-output", "json",
		"-plot", plotPath,
		"-log-level", "error",
		writeSeries(t),
	}, &out)
	require.Equal(t, 0, code)

	body := out.Bytes()
	assert.Equal(t, int64(2), gjson.GetBytes(body, "forecasts.#").Int())
	assert.Equal(t, "2020-01-04 00:00:00", gjson.GetBytes(body, "forecasts.1.start").String())
	assert.Equal(t, 5.0, gjson.GetBytes(body, `forecasts.1.quantiles.0\.9.1`).Float())

	html, err := os.ReadFile(plotPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "echarts")
}

func TestRun_JSONLines(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"-mode", "jsonlines", "-log-level", "error", writeSeries(t)}, &out)
	require.Equal(t, 0, code)
	assert.Equal(t, seriesFile, out.String())
}

func TestRun_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	assert.Equal(t, 2, run([]string{"-mode", "train"}, io.Discard), "invalid config")
	assert.Equal(t, 0, run([]string{"-h"}, io.Discard), "help")
	assert.Equal(t, 1, run([]string{
		"-endpoint", srv.URL, "-prediction-length", "1", "-log-level", "error", writeSeries(t),
	}, io.Discard), "model error")
	assert.Equal(t, 1, run([]string{
		"-endpoint", srv.URL, "-prediction-length", "1", "-log-level", "error",
		filepath.Join(t.TempDir(), "missing.jsonl"),
	}, io.Discard), "missing file")
}
