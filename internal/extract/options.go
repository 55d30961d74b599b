package extract

import "runtime"

// Options configures an Extractor. Ambient process state such as the CPU
// count is resolved once here, not read mid-run.
type Options struct {
	StoreHistory bool `mapstructure:"store_history"`
	AutoDrain    bool `mapstructure:"auto_drain"`
	Parallel     bool `mapstructure:"parallel"`
	Workers      int  `mapstructure:"workers"`

	StrictReassembly bool `mapstructure:"strict_reassembly"`
	EnableIPv4       bool `mapstructure:"enable_ipv4"`
	EnableIPv6       bool `mapstructure:"enable_ipv6"`
	EnableTCP        bool `mapstructure:"enable_tcp"`
	FlushOnDrain     bool `mapstructure:"flush_on_drain"`

	OutputFormat string `mapstructure:"output_format"`
	OutputPath   string `mapstructure:"output_path"`
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.OutputFormat == "" {
		o.OutputFormat = "none"
	}
}
