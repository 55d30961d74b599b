package sink

import (
	"encoding/json"
	"io"
)

func init() {
	Register("json", func(w io.Writer) Sink {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return &jsonSink{enc: enc}
	})
}

// jsonSink writes one JSON document per emission, keyed by name.
type jsonSink struct {
	enc *json.Encoder
}

func (s *jsonSink) Emit(name string, doc any) error {
	return s.enc.Encode(map[string]any{name: doc})
}

func (s *jsonSink) Close() error { return nil }
