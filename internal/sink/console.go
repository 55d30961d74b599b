package sink

import (
	"fmt"
	"io"
)

func init() {
	Register("console", func(w io.Writer) Sink {
		return &consoleSink{w: w}
	})
}

type consoleSink struct {
	w io.Writer
}

func (s *consoleSink) Emit(name string, doc any) error {
	_, err := fmt.Fprintf(s.w, "%s: %v\n", name, doc)
	return err
}

func (s *consoleSink) Close() error { return nil }
