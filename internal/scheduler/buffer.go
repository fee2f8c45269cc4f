package scheduler

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// outputCap bounds how much unread output a single stream buffer retains.
// Once exceeded, the oldest bytes are dropped and counted, per spec.md
// §4.F's "take_all() additionally returns the cumulative byte count that
// was dropped by any cap applied during streaming."
const outputCap = 1 << 20 // 1 MiB

// streamBuffer is a read-and-clear byte buffer for one background shell's
// stdout or stderr, draining only at UTF-8 character boundaries so a
// caller never sees a split multi-byte rune — the same concern the
// teacher's terminal handler solves with strings.ToValidUTF8 on each PTY
// read, applied here to an accumulating buffer instead of a single chunk.
type streamBuffer struct {
	mu      sync.Mutex
	buf     []byte
	dropped uint64
}

func (b *streamBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - outputCap; over > 0 {
		cut := validUTF8Prefix(b.buf, over)
		b.dropped += uint64(cut)
		b.buf = b.buf[cut:]
	}
	return len(p), nil
}

// validUTF8Prefix returns the smallest n >= min such that b[:n] ends on a
// UTF-8 rune boundary, so truncating there never splits a multi-byte rune.
func validUTF8Prefix(b []byte, min int) int {
	n := min
	for n < len(b) && !utf8.RuneStart(b[n]) {
		n++
	}
	return n
}

// drain removes and returns up to limit bytes from the front of the
// buffer, trimmed to the last full rune boundary so multi-byte runes
// aren't split across calls. limit <= 0 means unlimited.
func (b *streamBuffer) drain(limit int) (out []byte, truncated bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) == 0 {
		return nil, false
	}
	n := len(b.buf)
	if limit > 0 && limit < n {
		n = limit
		truncated = true
	}
	// Back off to the last rune boundary so we never split a multi-byte
	// character across two drains.
	for n > 0 && n < len(b.buf) && !utf8.RuneStart(b.buf[n]) {
		n--
	}
	out = make([]byte, n)
	copy(out, b.buf[:n])
	b.buf = b.buf[n:]
	return out, truncated
}

func (b *streamBuffer) takeAll() (out []byte, dropped uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out = b.buf
	b.buf = nil
	dropped = b.dropped
	b.dropped = 0
	return out, dropped
}

// filterLines applies re line-wise to s, keeping only matching lines, per
// spec.md §4.F's "optional regex filter applied line-wise to both streams
// after draining."
func filterLines(s string, re *regexp.Regexp) string {
	if re == nil || s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if re.MatchString(line) {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
