package output

import (
	"encoding/json"
	"io"
	"sync"

	"gopkg.in/yaml.v3"
)

// YAMLWriter writes each document as a YAML document. Values are routed
// through their JSON encoding so field names match the JSON output.
type YAMLWriter struct {
	mu     sync.Mutex
	writer io.Writer
	enc    *yaml.Encoder
	closed bool
}

// NewYAMLWriter creates a new YAML writer.
func NewYAMLWriter(w io.Writer) *YAMLWriter {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	return &YAMLWriter{writer: w, enc: enc}
}

// Write writes one YAML document.
func (y *YAMLWriter) Write(v any) error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}

	doc, err := jsonShaped(v)
	if err != nil {
		return err
	}
	return y.enc.Encode(doc)
}

// WriteEvent writes an event as its own YAML document.
func (y *YAMLWriter) WriteEvent(eventType string, data any) error {
	return y.Write(StreamEvent{Type: eventType, Data: data})
}

// jsonShaped converts v into generic maps and slices via JSON.
func jsonShaped(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Flush is a no-op; documents are written as they are encoded.
func (y *YAMLWriter) Flush() error {
	return nil
}

// Close finishes the YAML stream and closes the underlying writer.
func (y *YAMLWriter) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()

	if y.closed {
		return nil
	}
	y.closed = true

	if err := y.enc.Close(); err != nil {
		return err
	}
	if closer, ok := y.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
