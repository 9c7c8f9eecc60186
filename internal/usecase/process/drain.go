package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"unicode/utf8"
)

// drainChunk bounds how much of a single line is held before it is written
// out. Longer lines reach the buffer in pieces.
const drainChunk = 32 << 10

var replacementChar = []byte("\uFFFD")

// drain copies r into buf line by line until EOF, a read error or ctx
// cancellation. Every line, including an unterminated last one, is written
// with a trailing newline; a line longer than drainChunk is written in
// pieces as it arrives. Invalid UTF-8 is replaced, never reported.
// The returned channel is closed when the goroutine exits.
//
// A drain blocked in Read only observes cancellation once the caller closes
// the reader, so the timeout path cancels ctx and then closes the pipe.
func drain(ctx context.Context, stream string, r io.Reader, buf *lineBuffer, logger *slog.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		br := bufio.NewReaderSize(r, drainChunk)
		var carry []byte // incomplete rune held back from a partial chunk
		for {
			chunk, err := br.ReadSlice('\n')
			if ctx.Err() != nil {
				return
			}

			switch {
			case errors.Is(err, bufio.ErrBufferFull):
				if buf.Truncated() {
					carry = carry[:0]
					buf.Write(chunk)
					continue
				}
				piece := append(carry, chunk...)
				cut := completeRunes(piece)
				buf.Write(bytes.ToValidUTF8(piece[:cut], replacementChar))
				carry = append([]byte(nil), piece[cut:]...)
				continue
			case len(chunk) > 0 || len(carry) > 0:
				line := append(carry, chunk...)
				carry = carry[:0]
				line = bytes.TrimSuffix(line, []byte("\n"))
				line = bytes.TrimSuffix(line, []byte("\r"))
				line = append(bytes.ToValidUTF8(line, replacementChar), '\n')
				buf.Write(line)
			}

			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, fs.ErrClosed) {
					logger.Debug("drain stopped", "stream", stream, "error", err)
				}
				return
			}
		}
	}()
	return done
}

// completeRunes returns the length of the longest prefix of p that does not
// end in the middle of a UTF-8 sequence which more input could complete.
func completeRunes(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}
