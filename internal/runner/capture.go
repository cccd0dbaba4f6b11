package runner

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// maxLineBytes bounds an unterminated line. Longer runs without a newline
// are emitted in chunks of this size.
const maxLineBytes = 64 << 10

type stream int

const (
	stdoutStream stream = iota
	stderrStream
)

func (s stream) tag() string {
	if s == stderrStream {
		return "STDERR"
	}
	return "STDOUT"
}

// line is one completed output line tagged with the stream it came from.
type line struct {
	stream stream
	text   string
}

// capture collects both output streams of a single child process. Completed
// lines from either stream land in one queue in the order they arrived; the
// trailing partial line of each stream is held back until its newline shows up.
//
// Only the last limit bytes of each stream are retained (all of them when
// limit is zero), while total keeps counting every byte written.
type capture struct {
	limit int

	mu      sync.Mutex
	total   [2]int
	kept    [2][]byte
	partial [2][]byte
	queue   []line
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

func (c *capture) writer(s stream) io.Writer {
	return &streamWriter{c: c, s: s}
}

// sizes returns the number of bytes written so far on stdout and stderr.
func (c *capture) sizes() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total[stdoutStream], c.total[stderrStream]
}

// drain removes and returns all completed lines.
func (c *capture) drain() []line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.queue
	c.queue = nil
	return out
}

// flushPartial removes and returns the unterminated tail of each stream,
// stdout first. Empty tails are skipped.
func (c *capture) flushPartial() []line {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []line
	for _, s := range []stream{stdoutStream, stderrStream} {
		if len(c.partial[s]) > 0 {
			out = append(out, line{stream: s, text: strings.TrimSuffix(string(c.partial[s]), "\r")})
			c.partial[s] = nil
		}
	}
	return out
}

// tail returns a copy of the retained bytes of a stream and whether
// anything was cut off.
func (c *capture) tail(s stream) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b := c.kept[s]
	if c.limit > 0 && len(b) > c.limit {
		b = b[len(b)-c.limit:]
	}
	return append([]byte(nil), b...), c.total[s] > len(b)
}

// retain appends p to the kept bytes of s. The buffer is compacted to the
// last limit bytes whenever it grows past twice the limit.
func (c *capture) retain(s stream, p []byte) {
	if c.limit > 0 && len(p) > c.limit {
		p = p[len(p)-c.limit:]
	}
	c.kept[s] = append(c.kept[s], p...)
	if c.limit > 0 && len(c.kept[s]) > 2*c.limit {
		c.kept[s] = append([]byte(nil), c.kept[s][len(c.kept[s])-c.limit:]...)
	}
}

type streamWriter struct {
	c *capture
	s stream
}

func (w *streamWriter) Write(p []byte) (int, error) {
	c := w.c
	c.mu.Lock()
	defer c.mu.Unlock()

	c.total[w.s] += len(p)
	c.retain(w.s, p)

	data := append(c.partial[w.s], p...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		c.queue = append(c.queue, line{stream: w.s, text: strings.TrimSuffix(string(data[:i]), "\r")})
		data = data[i+1:]
	}
	for len(data) > maxLineBytes {
		c.queue = append(c.queue, line{stream: w.s, text: string(data[:maxLineBytes])})
		data = data[maxLineBytes:]
	}
	c.partial[w.s] = append([]byte(nil), data...)
	return len(p), nil
}
