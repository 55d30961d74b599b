// Package sink implements output document writers. The pipeline calls a
// sink once for the capture's global header and once per retained frame,
// in emission order; the serialization format is the sink's business.
package sink

import (
	"fmt"
	"io"
	"os"

	"github.com/xuacker/capkit/internal/core"
)

type Sink interface {
	Emit(name string, doc any) error
	Close() error
}

// Factory builds a sink over a writer.
type Factory func(w io.Writer) Sink

var registry = map[string]Factory{}

func Register(format string, f Factory) {
	registry[format] = f
}

// New resolves a sink for the requested format. An unknown format is a
// configuration error, surfaced before any record is processed. With an
// empty path the sink writes to stdout.
func New(format, path string) (Sink, error) {
	if format == "" || format == "none" {
		return nopSink{}, nil
	}
	factory, ok := registry[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedFormat, format)
	}
	if path == "" {
		return factory(os.Stdout), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output %s: %w", path, err)
	}
	return &closerSink{Sink: factory(f), f: f}, nil
}

// Formats lists registered format names.
func Formats() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}

type nopSink struct{}

func (nopSink) Emit(string, any) error { return nil }
func (nopSink) Close() error           { return nil }

// closerSink closes the backing file after the wrapped sink flushes.
type closerSink struct {
	Sink
	f *os.File
}

func (c *closerSink) Close() error {
	if err := c.Sink.Close(); err != nil {
		c.f.Close()
		return err
	}
	return c.f.Close()
}
