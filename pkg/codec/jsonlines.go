package codec

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
)

// maxLineSize bounds a single JSON Lines record. Long daily histories fit
// comfortably; anything larger is almost certainly not a series file.
const maxLineSize = 64 << 20

// WriteJSONLines writes one instance per line, the layout training and test
// channels of the model expect.
func WriteJSONLines(w io.Writer, instances []Instance) error {
	bw := bufio.NewWriter(w)
	for i, in := range instances {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal instance %d: %w", i, err)
		}
		if _, err := bw.Write(b); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadJSONLines reads instances written by WriteJSONLines. Blank lines are
// skipped.
func ReadJSONLines(r io.Reader) ([]Instance, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var out []Instance
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var in Instance
		if err := json.Unmarshal(b, &in); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, in)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read json lines: %w", err)
	}
	return out, nil
}
