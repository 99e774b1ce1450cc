// Package codec streams the LZMA2-compressed payloads this module embeds
// (the daemon binary and the init script dumped by Bootstrap) through a
// bounded working buffer, as an external collaborator to the rest of the
// tree: nothing else in this repository parses LZMA2 itself.
package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// maxWorkingBuffer caps the total number of decompressed bytes Decompress
// will produce for one payload, regardless of how large the compressed
// stream claims to be; the copy itself goes through a fixed 32 KiB buffer.
const maxWorkingBuffer = 64 << 20 // 64 MiB

// ErrCorrupt is returned when the underlying decoder reports a non-terminal
// error, or when the input is exhausted before the decoder signals end of
// stream.
var ErrCorrupt = errors.New("codec: corrupt payload")

// Decompress streams r through an LZMA2 reader into w. It refuses to emit
// more than maxWorkingBuffer bytes of output, and only reports success when
// the input was fully consumed and the decoder reached a clean end of
// stream; any other condition is reported as ErrCorrupt.
func Decompress(r io.Reader, w io.Writer) error {
	dec, err := lzma.NewReader2(r)
	if err != nil {
		return fmt.Errorf("codec: opening stream: %w: %s", ErrCorrupt, err)
	}

	buf := make([]byte, 32<<10)
	var total int64
	for {
		n, rerr := dec.Read(buf)
		if n > 0 {
			if total += int64(n); total > maxWorkingBuffer {
				return fmt.Errorf("codec: payload exceeds %d byte bound: %w", maxWorkingBuffer, ErrCorrupt)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("codec: writing decompressed output: %w", werr)
			}
		}
		if rerr == io.EOF {
			// The decoder stops at its end-of-stream marker; any input left
			// after it means the payload was not fully consumed.
			var probe [1]byte
			if n, _ := r.Read(probe[:]); n > 0 {
				return fmt.Errorf("codec: trailing data after end of stream: %w", ErrCorrupt)
			}
			return nil
		}
		if rerr != nil {
			return fmt.Errorf("codec: decoding: %w: %s", ErrCorrupt, rerr)
		}
	}
}

// Compress streams r through an LZMA2 writer into w. It exists only to
// support round-trip property tests (Decompress(Compress(x)) == x); neither
// production binary in this module calls it.
func Compress(r io.Reader, w io.Writer) error {
	enc, err := lzma.NewWriter2(w)
	if err != nil {
		return fmt.Errorf("codec: opening stream: %w", err)
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return fmt.Errorf("codec: encoding: %w", err)
	}
	return enc.Close()
}
