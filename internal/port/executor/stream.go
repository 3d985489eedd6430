package executor

import (
	"sync"
	"unicode/utf8"
)

const streamBuffer = 256

// Stream is the shared bookkeeping behind a Process: a bounded output
// channel, a trailing output buffer and the exit code. Adapters embed it and
// add Stop.
type Stream struct {
	id   string
	out  chan string
	done chan struct{}

	mu       sync.Mutex
	tail     []byte
	maxTail  int
	code     int
	finished bool
}

// NewStream creates a stream that keeps at most maxTail trailing bytes.
func NewStream(id string, maxTail int) *Stream {
	if maxTail <= 0 {
		maxTail = 4000
	}
	return &Stream{
		id:      id,
		out:     make(chan string, streamBuffer),
		done:    make(chan struct{}),
		maxTail: maxTail,
	}
}

func (s *Stream) ID() string            { return s.id }
func (s *Stream) Output() <-chan string { return s.out }
func (s *Stream) Done() <-chan struct{} { return s.done }

// ExitCode is valid after Done is closed.
func (s *Stream) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Emit records a line. Lines are dropped from the channel, never from the
// tail, when the reader falls behind.
func (s *Stream) Emit(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}

	s.tail = append(s.tail, line...)
	s.tail = append(s.tail, '\n')
	if over := len(s.tail) - s.maxTail; over > 0 {
		over = runeStart(s.tail, over)
		s.tail = append(s.tail[:0], s.tail[over:]...)
	}

	select {
	case s.out <- line:
	default:
	}
}

// Finish records the exit code and closes Output and Done. Later calls are
// ignored.
func (s *Stream) Finish(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.code = code
	close(s.out)
	close(s.done)
}

// Tail returns up to n trailing bytes of the collected output, never
// starting inside a multi-byte character.
func (s *Stream) Tail(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n >= len(s.tail) {
		return string(s.tail)
	}
	return string(s.tail[runeStart(s.tail, len(s.tail)-n):])
}

// runeStart moves i forward to the next UTF-8 character boundary.
func runeStart(b []byte, i int) int {
	for i < len(b) && !utf8.RuneStart(b[i]) {
		i++
	}
	return i
}
