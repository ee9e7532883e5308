// Package plot renders forecasts as interactive HTML line charts.
package plot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/HatiCode/deepcast/pkg/predictor"
	"github.com/HatiCode/deepcast/pkg/series"
)

// TimeLayout formats x axis labels.
const TimeLayout = "2006-01-02 15:04:05"

var ErrLengthMismatch = errors.New("plot: history and forecast counts differ")

// Line builds one chart with the observed history followed by every quantile
// column of the forecast. freq is used to index history when the series
// carries no frequency of its own. NaN observations are drawn as gaps.
func Line(title string, history series.Series, forecast predictor.Frame, freq series.Frequency) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: forecastSubtitle(forecast),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Top: "bottom"}),
	)

	hist := history.Index(freq)
	n := len(hist) + forecast.Len()

	xAxis := make([]string, 0, n)
	for _, t := range hist {
		xAxis = append(xAxis, t.Format(TimeLayout))
	}
	for _, t := range forecast.Index {
		xAxis = append(xAxis, t.Format(TimeLayout))
	}
	line.SetXAxis(xAxis)

	observed := make([]opts.LineData, 0, n)
	for _, v := range history.Values {
		observed = append(observed, point(v))
	}
	line.AddSeries("observed", observed)

	for _, level := range forecast.Columns {
		col, _ := forecast.Column(level)
		data := make([]opts.LineData, 0, n)
		for range hist {
			data = append(data, opts.LineData{Value: nil})
		}
		for _, v := range col {
			data = append(data, point(v))
		}
		line.AddSeries(level, data)
	}

	return line
}

// RenderHTML writes one chart per series to w as a single HTML page. history
// and forecasts are matched by position.
func RenderHTML(w io.Writer, title string, history []series.Series, forecasts []predictor.Frame, freq series.Frequency) error {
	if len(history) != len(forecasts) {
		return fmt.Errorf("%w: %d series, %d forecasts", ErrLengthMismatch, len(history), len(forecasts))
	}

	page := components.NewPage()
	page.PageTitle = title
	for i := range history {
		name := history[i].Name
		if name == "" {
			name = fmt.Sprintf("series %d", i)
		}
		page.AddCharts(Line(name, history[i], forecasts[i], freq))
	}
	return page.Render(w)
}

func point(v float64) opts.LineData {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return opts.LineData{Value: nil}
	}
	return opts.LineData{Value: v}
}

func forecastSubtitle(f predictor.Frame) string {
	if f.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("%d steps of %s from %s", f.Len(), f.Freq, f.Start.Format(time.DateOnly))
}
