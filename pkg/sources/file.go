package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/HatiCode/deepcast/pkg/codec"
	"github.com/HatiCode/deepcast/pkg/progress"
	"github.com/HatiCode/deepcast/pkg/series"
)

// FileSource reads prediction instances from a JSON Lines file.
type FileSource struct {
	// Path is the file to read; "-" reads standard input.
	Path string

	// Freq is attached to every series. It may be zero, in which case the
	// predictor's frequency applies.
	Freq series.Frequency

	stdin io.Reader
}

func (f *FileSource) Name() string { return "file" }

// Load implements Source.
func (f *FileSource) Load(ctx context.Context) (Batch, error) {
	if f.Path == "" {
		return Batch{}, errors.New("file source: path is required")
	}
	if err := ctx.Err(); err != nil {
		return Batch{}, err
	}

	var r io.Reader
	if f.Path == "-" {
		r = f.stdin
		if r == nil {
			r = os.Stdin
		}
	} else {
		file, err := os.Open(f.Path)
		if err != nil {
			return Batch{}, fmt.Errorf("open series file: %w", err)
		}
		defer file.Close()
		r = file
	}

	instances, err := codec.ReadJSONLines(r)
	if err != nil {
		return Batch{}, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return batchFromInstances(instances, f.Freq)
}

// URLSource downloads a JSON Lines file over HTTP(S).
type URLSource struct {
	URL  string
	Freq series.Frequency

	// Progress receives "\r<N> MB downloaded" lines. Nil disables reporting.
	Progress io.Writer

	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (u *URLSource) Name() string { return "url" }

// Load implements Source.
func (u *URLSource) Load(ctx context.Context) (Batch, error) {
	if u.URL == "" {
		return Batch{}, errors.New("url source: URL is required")
	}

	cli := u.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 5 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.URL, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("create request: %w", err)
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

	var r io.Reader = resp.Body
	var pr *progress.Reader
	if u.Progress != nil {
		pr = progress.NewReader(resp.Body, resp.ContentLength, progress.MegabyteHook(u.Progress, progress.DefaultEvery))
		r = pr
	}

	instances, err := codec.ReadJSONLines(r)
	if err != nil {
		return Batch{}, fmt.Errorf("read %s: %w", u.URL, err)
	}
	if pr != nil {
		fmt.Fprintf(u.Progress, "\r%d MB downloaded\n", pr.BytesRead()/1_000_000)
	}
	return batchFromInstances(instances, u.Freq)
}
