// Package progress reports the progress of large downloads, such as series
// files fetched over HTTP.
package progress

import (
	"fmt"
	"io"
)

const (
	// DefaultBlockSize is the block size Reader reports progress in.
	DefaultBlockSize = 8192

	// DefaultEvery is how many blocks pass between two progress lines.
	DefaultEvery = 500
)

// Hook is called after every block with the number of blocks transferred so
// far, the block size and the total size (-1 when unknown).
type Hook func(count, blockSize int, totalSize int64)

// MegabyteHook returns a Hook that writes "\r<N> MB downloaded" to w every
// `every` blocks, overwriting the previous line on a terminal.
func MegabyteHook(w io.Writer, every int) Hook {
	if every <= 0 {
		every = DefaultEvery
	}
	return func(count, blockSize int, _ int64) {
		if count%every != 0 {
			return
		}
		mb := int64(count) * int64(blockSize) / 1_000_000
		fmt.Fprintf(w, "\r%d MB downloaded", mb)
	}
}

// Reader counts bytes read from R in blocks of BlockSize and calls Hook each
// time a block completes, plus once more at EOF for a trailing partial block.
type Reader struct {
	R         io.Reader
	Hook      Hook
	BlockSize int
	Total     int64

	read   int64
	blocks int
}

// NewReader wraps r. total may be -1 when the size is unknown.
func NewReader(r io.Reader, total int64, hook Hook) *Reader {
	return &Reader{R: r, Hook: hook, BlockSize: DefaultBlockSize, Total: total}
}

// Read implements io.Reader.
func (p *Reader) Read(b []byte) (int, error) {
	n, err := p.R.Read(b)
	p.read += int64(n)

	size := p.BlockSize
	if size <= 0 {
		size = DefaultBlockSize
	}

	for p.read >= int64(p.blocks+1)*int64(size) {
		p.blocks++
		p.call(size)
	}
	if err == io.EOF && p.read > int64(p.blocks)*int64(size) {
		p.blocks++
		p.call(size)
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (p *Reader) BytesRead() int64 { return p.read }

func (p *Reader) call(size int) {
	if p.Hook != nil {
		p.Hook(p.blocks, size, p.Total)
	}
}
