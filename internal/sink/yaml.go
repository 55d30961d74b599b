package sink

import (
	"io"

	"gopkg.in/yaml.v3"
)

func init() {
	Register("yaml", func(w io.Writer) Sink {
		return &yamlSink{enc: yaml.NewEncoder(w)}
	})
}

// yamlSink writes each emission as its own YAML document.
type yamlSink struct {
	enc *yaml.Encoder
}

func (s *yamlSink) Emit(name string, doc any) error {
	return s.enc.Encode(map[string]any{name: doc})
}

func (s *yamlSink) Close() error {
	return s.enc.Close()
}
