// Package reassemble turns a stream of arbitrarily-chunked TCP reads into
// complete protocol frames. Each dialect supplies a Scanner that knows its
// own frame boundary rule; the Buffer does the chunk-independent bookkeeping.
package reassemble

import "errors"

// ErrOverflow is returned by Feed when the unconsumed buffer would exceed
// the configured maximum without yielding a complete frame.
var ErrOverflow = errors.New("reassemble: buffer exceeds maximum size")

// Scanner inspects the bytes accumulated so far and reports:
//
//   - junk: bytes at the front that can never be part of a frame and should
//     be discarded now (e.g. noise preceding a Manitou STX).
//   - frameLen: the length of a complete frame starting right after junk,
//     valid only when complete is true.
//   - complete: whether a full frame was found.
//
// Scanner must not retain buf; Buffer may reuse or discard it after the call.
type Scanner func(buf []byte) (junk int, frameLen int, complete bool)

// DefaultMaxBuffer is the bound applied when a Buffer is built with New(0).
const DefaultMaxBuffer = 1 << 20 // 1 MiB

// Buffer accumulates bytes fed from a single connection and extracts
// complete frames as they become available.
type Buffer struct {
	max  int
	data []byte
}

// New returns a Buffer bounded at max bytes. A max of 0 selects
// DefaultMaxBuffer.
func New(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxBuffer
	}
	return &Buffer{max: max}
}

// Feed appends chunk to the internal buffer and repeatedly applies scan,
// returning every complete frame it can extract. Frames are copied out so
// callers may retain them independent of the buffer's lifetime.
//
// If, after extracting all available frames, the remaining unconsumed bytes
// exceed the configured maximum, Feed returns ErrOverflow alongside any
// frames already produced; the caller should treat the connection as
// unrecoverable.
func (b *Buffer) Feed(chunk []byte, scan Scanner) (frames [][]byte, err error) {
	if len(chunk) > 0 {
		b.data = append(b.data, chunk...)
	}

	for {
		junk, n, ok := scan(b.data)
		if junk > 0 {
			if junk > len(b.data) {
				junk = len(b.data)
			}
			b.data = b.data[junk:]
		}
		if !ok {
			// Bytes were discarded without a frame: scan what is left
			// before waiting for more input.
			if junk > 0 && len(b.data) > 0 {
				continue
			}
			break
		}
		frame := make([]byte, n)
		copy(frame, b.data[:n])
		frames = append(frames, frame)
		b.data = b.data[n:]
	}

	if len(b.data) > b.max {
		return frames, ErrOverflow
	}
	return frames, nil
}

// Reset discards any unconsumed bytes, as done after a fatal framing error.
func (b *Buffer) Reset() {
	b.data = nil
}

// Pending reports how many unconsumed bytes are currently buffered.
func (b *Buffer) Pending() int {
	return len(b.data)
}
