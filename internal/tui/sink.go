package tui

import (
	"bytes"
	"strings"
	"sync"
)

// LogSink is an io.Writer that splits log output into lines for the
// dashboard's log pane. Lines are dropped while the pane is not keeping up.
type LogSink struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	lines chan string
}

// NewLogSink creates a sink buffering up to depth lines.
func NewLogSink(depth int) *LogSink {
	if depth <= 0 {
		depth = 256
	}
	return &LogSink{lines: make(chan string, depth)}
}

// Write implements io.Writer.
func (s *LogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
	for {
		line, err := s.buf.ReadString('\n')
		if err != nil {
			// Keep the partial line for the next write.
			s.buf.Reset()
			s.buf.WriteString(line)
			break
		}
		line = strings.TrimRight(line, "\r\n")
		select {
		case s.lines <- line:
		default:
		}
	}
	return len(p), nil
}

// Lines returns the channel of complete lines.
func (s *LogSink) Lines() <-chan string { return s.lines }
