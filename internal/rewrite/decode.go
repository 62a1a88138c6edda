package rewrite

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
)

// ErrUnsupportedEncoding is returned for a Content-Encoding the rewriter
// cannot undo. Such bodies are passed through untouched.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// ErrDecodedTooLarge is returned when a decompressed body exceeds the limit.
var ErrDecodedTooLarge = errors.New("decoded body exceeds limit")

// Decompress undoes the content codings listed in contentEncoding, last
// applied first. limit bounds the decoded size; zero means no bound.
func Decompress(raw []byte, contentEncoding string, limit int64) ([]byte, error) {
	codings := parseCodings(contentEncoding)
	if len(codings) == 0 {
		return raw, nil
	}

	for _, c := range codings {
		switch c {
		case "gzip", "x-gzip", "deflate", "br":
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, c)
		}
	}

	out := raw
	for i := len(codings) - 1; i >= 0; i-- {
		decoded, err := decompressOne(out, codings[i], limit)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", codings[i], err)
		}
		out = decoded
	}
	return out, nil
}

func parseCodings(contentEncoding string) []string {
	var codings []string
	for _, c := range strings.Split(contentEncoding, ",") {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && c != "identity" {
			codings = append(codings, c)
		}
	}
	return codings
}

func decompressOne(raw []byte, coding string, limit int64) ([]byte, error) {
	var r io.Reader
	switch coding {
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case "deflate":
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		switch {
		case errors.Is(err, zlib.ErrHeader):
			// Some servers send raw DEFLATE without the zlib wrapper.
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close()
			r = fr
		case err != nil:
			return nil, err
		default:
			defer zr.Close()
			r = zr
		}
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	}

	if limit <= 0 {
		return io.ReadAll(r)
	}
	out, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, ErrDecodedTooLarge
	}
	return out, nil
}
