// Package tinycompress writes zlib streams without the allocation-heavy
// compress/flate encoder. Data is carried in stored (uncompressed) DEFLATE
// blocks: any zlib reader accepts it, and the firmware only needs a single
// output buffer.
package tinycompress

import (
	"errors"
	"hash/adler32"
	"io"
)

// maxStored is the largest payload of one stored block.
const maxStored = 0xffff

var ErrClosed = errors.New("tinycompress: write after close")

// zlib header for deflate with a 32K window and default level.
var header = [2]byte{0x78, 0x9c}

// Compress returns data wrapped as a zlib stream.
func Compress(data []byte) []byte {
	blocks := len(data)/maxStored + 1
	out := make([]byte, 0, len(header)+blocks*5+len(data)+4)
	out = append(out, header[:]...)
	for rest := data; ; {
		n := min(len(rest), maxStored)
		final := n == len(rest)
		out = appendStored(out, rest[:n], final)
		rest = rest[n:]
		if final {
			break
		}
	}
	sum := adler32.Checksum(data)
	return append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
}

func appendStored(out, block []byte, final bool) []byte {
	var bfinal byte
	if final {
		bfinal = 1
	}
	n := uint16(len(block))
	out = append(out, bfinal, byte(n), byte(n>>8), byte(^n), byte(^n>>8))
	return append(out, block...)
}

// Writer buffers everything written and emits the zlib stream on Close.
type Writer struct {
	output io.Writer
	buf    []byte
	closed bool
}

// NewWriter returns a Writer for w. sizeHint pre-sizes the buffer so Write
// does not reallocate on the firmware.
func NewWriter(w io.Writer, sizeHint int) *Writer {
	return &Writer{output: w, buf: make([]byte, 0, sizeHint)}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Close writes the stream. Closing twice is a no-op.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	_, err := w.output.Write(Compress(w.buf))
	return err
}
