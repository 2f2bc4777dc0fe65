package logger

// RingBuffer keeps the most recent lines written to a log file.
type RingBuffer struct {
	lines []string
	next  int // Slot for the next line
	full  bool
}

// NewRingBuffer creates a ring buffer holding up to capacity lines.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{lines: make([]string, capacity)}
}

// Add stores a line, overwriting the oldest once the buffer is full.
func (b *RingBuffer) Add(line string) {
	if len(b.lines) == 0 {
		return
	}

	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns the number of stored lines.
func (b *RingBuffer) Len() int {
	if b.full {
		return len(b.lines)
	}
	return b.next
}

// Lines returns the stored lines oldest first.
func (b *RingBuffer) Lines() []string {
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}

	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}
