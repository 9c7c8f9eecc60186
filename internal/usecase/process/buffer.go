package process

import (
	"sync"
	"unicode/utf8"
)

// TruncationMarker is appended to a lineBuffer the first time it overflows.
const TruncationMarker = "\n... <truncated> ..."

// truncationHeadroom is how far below the cap a truncated buffer is cut.
const truncationHeadroom = 100

// lineBuffer is a thread-safe, capped byte buffer. It is not a sliding
// window. On the first write that would exceed the cap, with
// keep = max(cap-100, 0):
//   - a write longer than keep contributes only its first keep bytes,
//     after the existing content;
//   - a shorter write is appended whole after the existing content has
//     been cut to keep bytes.
//
// Either way the result is clipped to cap bytes, TruncationMarker is
// appended and every later write is dropped, so the length never exceeds
// cap+len(TruncationMarker).
type lineBuffer struct {
	mu      sync.Mutex
	data    []byte
	max     int
	sealed  bool
	dropped int64 // bytes discarded by truncation
}

func newLineBuffer(maxBytes int) *lineBuffer {
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &lineBuffer{
		data: make([]byte, 0, min(maxBytes, 4096)),
		max:  maxBytes,
	}
}

// Write implements io.Writer. It never fails; overflow is reported through
// Truncated and Dropped.
func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		b.dropped += int64(len(p))
		return len(p), nil
	}
	if len(b.data)+len(p) <= b.max {
		b.data = append(b.data, p...)
		return len(p), nil
	}

	keep := max(b.max-truncationHeadroom, 0)
	total := len(b.data) + len(p)
	take := len(p)
	if take > keep {
		take = keep
	} else if len(b.data) > keep {
		b.data = b.data[:runeBoundary(b.data, keep)]
	}
	take = min(take, b.max-len(b.data))
	b.data = append(b.data, p[:runeBoundary(p, take)]...)
	b.dropped += int64(total - len(b.data))
	b.data = append(b.data, TruncationMarker...)
	b.sealed = true
	return len(p), nil
}

// WriteString implements io.StringWriter.
func (b *lineBuffer) WriteString(s string) (int, error) {
	return b.Write([]byte(s))
}

// String returns a copy of the buffered content.
func (b *lineBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

// Len returns the current buffer length in bytes, marker included.
func (b *lineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Truncated reports whether the cap has been hit.
func (b *lineBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed
}

// Dropped returns the number of bytes discarded since the cap was hit.
func (b *lineBuffer) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// runeBoundary returns the largest n' <= n such that s[:n'] does not end in
// the middle of a UTF-8 sequence.
func runeBoundary(s []byte, n int) int {
	if n >= len(s) {
		return len(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
