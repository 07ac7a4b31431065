// Package logging implements the event log of the outer layers.
//
// The filesystem packages never log. Everything serving them to the outside
// (FUSE adapter, dashboard, command line) logs into a [RingBuffer], which
// keeps the most recent lines for the dashboard and mirrors each one to a
// stream such as standard error.
package logging

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const timeFormat = "2006-01-02 15:04:05"

var _ io.Writer = (*RingBuffer)(nil)

// RingBuffer holds the most recent timestamped log lines.
type RingBuffer struct {
	mu      sync.Mutex
	out     io.Writer
	lines   []string
	next    int
	full    bool
	partial []byte
	now     func() time.Time
}

// NewRingBuffer returns a pointer to a new [RingBuffer] holding up to size
// lines, mirroring them to out. A nil out discards the mirrored lines.
func NewRingBuffer(size int, out io.Writer) *RingBuffer {
	if out == nil {
		out = io.Discard
	}

	return &RingBuffer{
		out:   out,
		lines: make([]string, max(size, 1)),
		now:   time.Now,
	}
}

// Size returns the amount of lines the buffer holds at most.
func (b *RingBuffer) Size() int {
	return len(b.lines)
}

// Lines returns a copy of the held lines, oldest first.
func (b *RingBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}

	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)

	return append(out, b.lines[:b.next]...)
}

// Tail returns a copy of the n most recent lines, newest first.
func (b *RingBuffer) Tail(n int) []string {
	lines := b.Lines()
	if n >= 0 && n < len(lines) {
		lines = lines[len(lines)-n:]
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}

	return lines
}

// Reset drops all held lines.
func (b *RingBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.lines)
	b.next = 0
	b.full = false
	b.partial = nil
}

// Printf logs a formatted message.
func (b *RingBuffer) Printf(format string, args ...any) {
	b.log(fmt.Sprintf(format, args...))
}

// Println logs its operands, separated by spaces.
func (b *RingBuffer) Println(args ...any) {
	b.log(fmt.Sprintln(args...))
}

// Write logs every complete line of p. An unterminated remainder is held
// back until a later write completes it.
func (b *RingBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	b.partial = append(b.partial, p...)

	var msgs []string
	for {
		i := bytes.IndexByte(b.partial, '\n')
		if i < 0 {
			break
		}
		msgs = append(msgs, string(b.partial[:i]))
		b.partial = b.partial[i+1:]
	}
	b.mu.Unlock()

	for _, msg := range msgs {
		b.log(msg)
	}

	return len(p), nil
}

func (b *RingBuffer) log(msg string) {
	line := b.now().Format(timeFormat) + " " + strings.TrimRight(msg, "\n")

	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}

	fmt.Fprintln(b.out, line)
}
