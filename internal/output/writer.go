// Package output writes scan results as JSON or YAML documents.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Writer defines the interface for output writers.
type Writer interface {
	// Write writes one complete document
	Write(v any) error

	// WriteEvent writes a single event (for streaming)
	WriteEvent(eventType string, data any) error

	// Flush flushes any buffered output
	Flush() error

	// Close closes the writer
	Close() error
}

// Supported formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config holds output configuration.
type Config struct {
	Format   string `json:"format" yaml:"format"`
	Pretty   bool   `json:"pretty" yaml:"pretty"`
	Stream   bool   `json:"stream" yaml:"stream"`
	FilePath string `json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns pretty JSON on stdout.
func DefaultConfig() Config {
	return Config{
		Format: FormatJSON,
		Pretty: true,
	}
}

// Validate checks the format name.
func (c Config) Validate() error {
	switch strings.ToLower(c.Format) {
	case "", FormatJSON, FormatYAML, "yml":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q", c.Format)
	}
}

// NewWriter creates a new output writer.
func NewWriter(w io.Writer, config Config) Writer {
	switch strings.ToLower(config.Format) {
	case FormatYAML, "yml":
		return NewYAMLWriter(w)
	default:
		return NewJSONWriter(w, config.Pretty, config.Stream)
	}
}

// Open creates a writer on config.FilePath, or on stdout when no path is
// set. Closing the writer closes the file.
func Open(config Config, stdout io.Writer) (Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.FilePath == "" {
		return NewWriter(nopCloser{stdout}, config), nil
	}

	if dir := filepath.Dir(config.FilePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	f, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return NewWriter(f, config), nil
}

// nopCloser keeps Close from closing stdout.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
