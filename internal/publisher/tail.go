package publisher

// tailBuffer keeps the last n lines added to it.
type tailBuffer struct {
	lines []string
	max   int
	next  int
	full  bool
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{lines: make([]string, n), max: n}
}

func (t *tailBuffer) Add(line string) {
	t.lines[t.next] = line
	t.next = (t.next + 1) % t.max
	if t.next == 0 {
		t.full = true
	}
}

// Lines returns the buffered lines in arrival order.
func (t *tailBuffer) Lines() []string {
	if !t.full {
		out := make([]string, t.next)
		copy(out, t.lines[:t.next])
		return out
	}
	out := make([]string, 0, t.max)
	out = append(out, t.lines[t.next:]...)
	out = append(out, t.lines[:t.next]...)
	return out
}
