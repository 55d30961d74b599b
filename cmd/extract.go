package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xuacker/capkit/internal/config"
	"github.com/xuacker/capkit/internal/extract"
	"github.com/xuacker/capkit/internal/log"
	"github.com/xuacker/capkit/internal/reassembly"
)

var (
	extractInput  string
	extractOutput string
	extractFormat string
	extractOpts   = extract.Options{
		StoreHistory: true,
		AutoDrain:    true,
		FlushOnDrain: true,
	}
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract frames from a pcap file and reassemble flows",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{Extract: extractOpts}
		if configFile != "" {
			loaded, err := config.Load(configFile)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		log.Init(cfg.Logger)
		logger := log.GetLogger()

		opts := cfg.Extract
		applyFlagOverrides(cmd, &opts)
		if extractInput == "" {
			extractInput = cfg.Input
		}
		if extractInput == "" {
			return fmt.Errorf("no input file: use -r or set input in the config")
		}

		e, err := extract.New(opts)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.Open(extractInput); err != nil {
			return err
		}
		if err := e.RunToCompletion(); err != nil {
			return err
		}

		logger.Infof("extracted %d frames from %s", e.Length(), extractInput)
		reportEngine(logger, "ipv4", statsOf(e.IPv4()))
		reportEngine(logger, "ipv6", statsOf(e.IPv6()))
		reportEngine(logger, "tcp", tcpStatsOf(e.TCP()))
		return e.Close()
	},
}

func applyFlagOverrides(cmd *cobra.Command, opts *extract.Options) {
	flags := cmd.Flags()
	if flags.Changed("format") {
		opts.OutputFormat = extractFormat
	}
	if flags.Changed("output") {
		opts.OutputPath = extractOutput
	}
	if flags.Changed("parallel") {
		opts.Parallel, _ = flags.GetBool("parallel")
	}
	if flags.Changed("workers") {
		opts.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("ipv4") {
		opts.EnableIPv4, _ = flags.GetBool("ipv4")
	}
	if flags.Changed("ipv6") {
		opts.EnableIPv6, _ = flags.GetBool("ipv6")
	}
	if flags.Changed("tcp") {
		opts.EnableTCP, _ = flags.GetBool("tcp")
	}
	if flags.Changed("strict") {
		opts.StrictReassembly, _ = flags.GetBool("strict")
	}
}

func statsOf(r *reassembly.IPReassembler) *reassembly.Stats {
	if r == nil {
		return nil
	}
	s := r.Stats()
	return &s
}

func tcpStatsOf(t *reassembly.TCPReassembler) *reassembly.Stats {
	if t == nil {
		return nil
	}
	s := t.Stats()
	return &s
}

func reportEngine(logger log.Logger, name string, s *reassembly.Stats) {
	if s == nil {
		return
	}
	logger.WithFields(map[string]interface{}{
		"completed":    s.Completed,
		"active_flows": s.ActiveFlows,
		"rejected":     s.Rejected,
	}).Infof("%s reassembly done", name)
}

func init() {
	flags := extractCmd.Flags()
	flags.StringVarP(&extractInput, "read", "r", "", "pcap file to read")
	flags.StringVarP(&extractOutput, "output", "o", "", "output file path (default stdout)")
	flags.StringVarP(&extractFormat, "format", "f", "none", "output format: json | yaml | console | none")
	flags.Bool("parallel", false, "decode records on a worker pool")
	flags.Int("workers", 0, "worker pool size (default: number of CPUs)")
	flags.Bool("ipv4", false, "enable IPv4 datagram reassembly")
	flags.Bool("ipv6", false, "enable IPv6 datagram reassembly")
	flags.Bool("tcp", false, "enable TCP stream reassembly")
	flags.Bool("strict", false, "fail flows on malformed fragments instead of clamping")
}
