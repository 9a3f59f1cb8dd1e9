package process

import (
	"bytes"
	"sync"
)

// defaultRingCapacity bounds the retained line count per entry (§9 Design
// Notes: "a fixed upper bound on retained lines").
const defaultRingCapacity = 1000

// logRing is a bounded, line-oriented, concurrency-safe in-memory log
// buffer. It implements io.Writer so it can sit directly in a child's
// stdout/stderr pipeline alongside an optional rotated file writer.
type logRing struct {
	mu      sync.Mutex
	lines   []string
	cap     int
	partial bytes.Buffer
}

func newLogRing(capacity int) *logRing {
	if capacity <= 0 {
		capacity = defaultRingCapacity
	}
	return &logRing{cap: capacity}
}

// Write implements io.Writer, splitting arbitrary byte chunks into lines.
// Only newline-terminated lines are emitted; a trailing unterminated chunk
// stays in r.partial until either a later Write completes it or Close
// flushes it.
func (r *logRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partial.Write(p)
	buf := r.partial.Bytes()
	var consumed int
	for {
		i := bytes.IndexByte(buf[consumed:], '\n')
		if i < 0 {
			break
		}
		r.appendLocked(string(buf[consumed : consumed+i]))
		consumed += i + 1
	}
	if consumed > 0 {
		remaining := append([]byte(nil), buf[consumed:]...)
		r.partial.Reset()
		r.partial.Write(remaining)
	}
	return len(p), nil
}

func (r *logRing) appendLocked(line string) {
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

// Close flushes any trailing partial line without a terminating newline.
func (r *logRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.partial.Len() > 0 {
		r.appendLocked(r.partial.String())
		r.partial.Reset()
	}
	return nil
}

// Tail returns the last n lines, or the whole buffer if shorter — the
// original's get_logs slicing arithmetic (original_source/src/process.rs).
func (r *logRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := len(r.lines)
	start := 0
	if total > n {
		start = total - n
	}
	out := make([]string, total-start)
	copy(out, r.lines[start:])
	return out
}
