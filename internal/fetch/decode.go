package fetch

import (
	"bufio"
	"errors"
	"io"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// decodingBody decodes a Content-Encoding lazily on the first Read, so that
// building a response never blocks on body bytes.
type decodingBody struct {
	raw      io.ReadCloser
	encoding string

	started bool
	reader  io.Reader
	decoder io.Closer
	err     error
}

func newDecodingBody(raw io.ReadCloser, contentEncoding string) io.ReadCloser {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))
	switch encoding {
	case "gzip", "x-gzip", "deflate", "zstd":
		return &decodingBody{raw: raw, encoding: encoding}
	}
	return raw
}

func (d *decodingBody) Read(p []byte) (int, error) {
	if !d.started {
		d.started = true
		d.err = d.init()
	}
	if d.err != nil {
		return 0, d.err
	}
	return d.reader.Read(p)
}

func (d *decodingBody) init() error {
	switch d.encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(d.raw)
		if err != nil {
			return emptyOr(err)
		}
		d.reader, d.decoder = zr, zr

	case "deflate":
		// Servers send both zlib-wrapped and raw deflate under this name.
		br := bufio.NewReader(d.raw)
		head, err := br.Peek(2)
		if err != nil && len(head) == 0 {
			return emptyOr(err)
		}
		if isZlibHeader(head) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return emptyOr(err)
			}
			d.reader, d.decoder = zr, zr
		} else {
			fr := flate.NewReader(br)
			d.reader, d.decoder = fr, fr
		}

	case "zstd":
		zr, err := zstd.NewReader(d.raw, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return err
		}
		rc := zr.IOReadCloser()
		d.reader, d.decoder = rc, rc
	}
	return nil
}

func (d *decodingBody) Close() error {
	if d.decoder != nil {
		d.decoder.Close()
	}
	return d.raw.Close()
}

// emptyOr treats an immediately exhausted body as empty content.
func emptyOr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}

func isZlibHeader(head []byte) bool {
	if len(head) < 2 {
		return false
	}
	return head[0]&0x0f == 8 && (uint16(head[0])<<8|uint16(head[1]))%31 == 0
}
