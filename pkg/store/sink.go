package store

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/odvcencio/classtap/pkg/layout"
)

// Sink receives one formatted context record per captured class. Each call
// must land contiguously, never interleaved with another record.
type Sink interface {
	Emit(id layout.Identity, record []byte) error
}

// InfoFileSink appends each record to the .info file next to the class.
type InfoFileSink struct{}

// Emit appends record to id.InfoPath() in a single write.
func (InfoFileSink) Emit(id layout.Identity, record []byte) error {
	path := id.InfoPath()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("info open %s: %w", path, err)
	}
	if _, err := f.Write(record); err != nil {
		f.Close()
		return fmt.Errorf("info write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("info close %s: %w", path, err)
	}
	return nil
}

// StreamSink writes every record to one shared writer, serialized.
type StreamSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStreamSink returns a StreamSink over w.
func NewStreamSink(w io.Writer) *StreamSink {
	return &StreamSink{w: w}
}

// Emit writes record to the shared stream.
func (s *StreamSink) Emit(_ layout.Identity, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(record); err != nil {
		return fmt.Errorf("info stream write: %w", err)
	}
	return nil
}
