package codec

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is the text encoding of request and response bodies unless
// the caller chooses another one.
const DefaultEncoding = "utf-8"

var ErrUnknownEncoding = errors.New("unknown text encoding")

func isUTF8(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return true
	}
	return false
}

// LookupEncoding resolves a WHATWG encoding label such as "utf-8",
// "utf-16le" or "latin1".
func LookupEncoding(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return enc, nil
}

// FromUTF8 transcodes UTF-8 text into the named encoding.
func FromUTF8(b []byte, name string) ([]byte, error) {
	if isUTF8(name) {
		return b, nil
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	out, err := enc.NewEncoder().Bytes(b)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return out, nil
}

// ToUTF8 transcodes text in the named encoding into UTF-8.
func ToUTF8(b []byte, name string) ([]byte, error) {
	if isUTF8(name) {
		return b, nil
	}
	enc, err := LookupEncoding(name)
	if err != nil {
		return nil, err
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return out, nil
}
