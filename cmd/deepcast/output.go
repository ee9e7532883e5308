package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/HatiCode/deepcast/cmd/deepcast/router"
	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/predictor"
	"github.com/HatiCode/deepcast/pkg/series"
	"github.com/HatiCode/deepcast/pkg/sources"
)

func instancesOf(b sources.Batch) []codec.Instance {
	out := make([]codec.Instance, b.Len())
	for i, s := range b.Series {
		var cat *int
		if b.Categories != nil {
			c := b.Categories[i]
			cat = &c
		}
		out[i] = codec.NewInstance(s, cat)
	}
	return out
}

// writeTSV prints one table per series:
//
//	# series 0: store-1
//	timestamp	0.1	0.5	0.9
//	2020-01-11 00:00:00	1.5	2	2.5
//
// Tables are separated by a blank line.
func writeTSV(w io.Writer, list []series.Series, frames []predictor.Frame) error {
	bw := bufio.NewWriter(w)
	for k, f := range frames {
		if k > 0 {
			bw.WriteByte('\n')
		}
		name := ""
		if k < len(list) {
			name = list[k].Name
		}
		fmt.Fprintf(bw, "# series %d", k)
		if name != "" {
			fmt.Fprintf(bw, ": %s", name)
		}
		bw.WriteByte('\n')

		bw.WriteString("timestamp")
		for _, level := range f.Columns {
			bw.WriteByte('\t')
			bw.WriteString(level)
		}
		bw.WriteByte('\n')

		for i, t := range f.Index {
			bw.WriteString(t.Format(series.StartLayout))
			for _, level := range f.Columns {
				v, _ := f.At(i, level)
				bw.WriteByte('\t')
				bw.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			}
			bw.WriteByte('\n')
		}
	}
	return bw.Flush()
}

// writeJSON prints {"forecasts":[...]}, the same body serve mode returns.
func writeJSON(w io.Writer, frames []predictor.Frame) error {
	b, err := json.MarshalIndent(router.PredictResponse{Forecasts: frames}, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}
