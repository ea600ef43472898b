package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JSONLRecorder is a Sink that writes one JSON object per line. Each event is
// flushed before Emit returns so a killed run still leaves complete lines.
type JSONLRecorder struct {
	mu      sync.Mutex
	out     io.WriteCloser
	buf     *bufio.Writer
	written int
	err     error
}

// NewJSONLRecorder appends to path, creating parent directories as needed.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("events dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("events file: %w", err)
	}
	return NewJSONLWriter(f), nil
}

// NewJSONLWriter records to w. Close closes w.
func NewJSONLWriter(w io.WriteCloser) *JSONLRecorder {
	return &JSONLRecorder{out: w, buf: bufio.NewWriter(w)}
}

func (r *JSONLRecorder) Emit(ev Event) {
	line, err := json.Marshal(ev)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil || r.err != nil {
		return
	}
	if err == nil {
		line = append(line, '\n')
		_, err = r.buf.Write(line)
	}
	if err == nil {
		err = r.buf.Flush()
	}
	if err != nil {
		// first failure sticks; later events are dropped
		r.err = err
		return
	}
	r.written++
}

// Written reports how many events reached the output.
func (r *JSONLRecorder) Written() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Close returns the first write error, if any, or the close error.
// Events emitted afterwards are dropped.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return nil
	}
	err := r.out.Close()
	r.out, r.buf = nil, nil
	if r.err != nil {
		return r.err
	}
	return err
}
