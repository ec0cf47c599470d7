package logbuf

import (
	"fmt"
	"sync"
)

// DefaultMaxLines is the retention bound used when New is given a non-positive size.
const DefaultMaxLines = 1000

// Buffer is a bounded, ordered sequence of output lines shared between the
// capture goroutines of a process and the readers that snapshot it.
// Once full, appending evicts the oldest line.
// It must be safe for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	lines []string // ring storage, len == max once full
	start int      // index of the oldest line
	n     int      // number of retained lines
	max   int
	total uint64 // lines ever appended
}

func New(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxLines
	}
	return &Buffer{lines: make([]string, 0, min(max, 64)), max: max}
}

// Append adds one line, evicting the oldest line when the bound is reached.
func (b *Buffer) Append(line string) {
	b.mu.Lock()
	b.total++
	if b.n < b.max {
		b.lines = append(b.lines, line)
		b.n++
		b.mu.Unlock()
		return
	}
	b.lines[b.start] = line
	b.start = (b.start + 1) % b.max
	b.mu.Unlock()
}

func (b *Buffer) Appendf(format string, args ...any) {
	b.Append(fmt.Sprintf(format, args...))
}

// Lines returns a copy of the retained lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyLocked(b.n)
}

// Tail returns a copy of at most the last n lines.
func (b *Buffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 || n > b.n {
		n = b.n
	}
	return b.copyLocked(n)
}

func (b *Buffer) copyLocked(n int) []string {
	out := make([]string, n)
	skip := b.n - n
	for i := 0; i < n; i++ {
		out[i] = b.lines[(b.start+skip+i)%len(b.lines)]
	}
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

func (b *Buffer) Max() int { return b.max }

// Total reports how many lines were ever appended, evicted ones included.
// The dashboard compares it between ticks to detect new output.
func (b *Buffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
