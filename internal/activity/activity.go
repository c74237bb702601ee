// Package activity implements the engine's activity-file sink: a single
// line of human-readable current state consumed by the CLI status
// command.
package activity

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/go-gatedio"
)

// Sink writes "<timestamp> | <message>" lines to a single file through a
// gated writer. Only the write itself passes through the gate; the seek
// and truncate in Record do not, so concurrent Record calls are not
// serialized against each other.
type Sink struct {
	path   string
	writer *gatedio.Writer
	file   *os.File
}

// Open creates (or truncates) the activity file at path.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &Sink{path: path, writer: gatedio.NewWriter(f), file: f}, nil
}

// Record overwrites the activity file with a single timestamped line.
func (s *Sink) Record(message string) error {
	if _, err := s.file.Seek(0, 0); err != nil {
		return err
	}
	if err := s.file.Truncate(0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.writer, "%s | %s\n", time.Now().UTC().Format(time.RFC3339), message)
	return err
}

// Close releases the underlying file handle.
func (s *Sink) Close() error {
	return s.file.Close()
}
