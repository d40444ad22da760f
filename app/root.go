// Package app implements the pgcachectl command line.
package app

import (
	"fmt"
	"os"
	"runtime/pprof"

	"github.com/bonnefoa/pgcachectl/config"
	"github.com/bonnefoa/pgcachectl/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	configFile string
	logLevel   string
	device     string
	cpuprofile string
	metrics    bool
}

// session holds the state shared by a command run
type session struct {
	opts     globalOptions
	cfg      *config.Config
	registry *prometheus.Registry
	profile  *os.File
}

// NewRootCmd builds the pgcachectl command tree
func NewRootCmd() *cobra.Command {
	s := &session{}
	root := &cobra.Command{
		Use:   "pgcachectl",
		Short: "Publish content directly into the page cache of files",
		Long: `pgcachectl drives the pgcachectl control device: it copies a buffer into the
page cache of a file so later reads are served from memory without touching the
disk. It also reports page cache residency of files and PostgreSQL relations.

Use "pgcachectl [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return s.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return s.teardown(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&s.opts.configFile, "config", "", "Config file (YAML)")
	pf.StringVar(&s.opts.logLevel, "log", "", "Log level: debug, info, warning or error")
	pf.StringVar(&s.opts.device, "device", "", `Control device, or "local" for an in-process page cache`)
	pf.StringVar(&s.opts.cpuprofile, "cpuprofile", "", "Write cpu profile to file")
	pf.BoolVar(&s.opts.metrics, "metrics", false, "Dump transfer metrics to stderr after the command")

	root.AddCommand(newInsertCmd(s), newReplaceCmd(s), newStatCmd(s), newBenchCmd(s))
	root.CompletionOptions.DisableDefaultCmd = true
	return root
}

// Execute runs the command line
func Execute() error {
	return NewRootCmd().Execute()
}

func (s *session) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(s.opts.configFile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log") {
		cfg.Log.Level = s.opts.logLevel
	}
	if flags.Changed("device") {
		cfg.Device = s.opts.device
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled = s.opts.metrics
	}
	if err := SetLogLevel(cfg.Log.Level); err != nil {
		return err
	}
	s.cfg = cfg

	if cfg.Metrics.Enabled {
		s.registry = prometheus.NewRegistry()
	}

	if s.opts.cpuprofile != "" {
		f, err := os.Create(s.opts.cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		s.profile = f
	}
	return nil
}

func (s *session) teardown(cmd *cobra.Command) error {
	if s.profile != nil {
		pprof.StopCPUProfile()
		s.profile.Close()
		s.profile = nil
	}
	if s.registry != nil {
		return metrics.Dump(cmd.ErrOrStderr(), s.registry)
	}
	return nil
}

// registerer returns the metrics registry, or a nil interface when metrics
// are disabled
func (s *session) registerer() prometheus.Registerer {
	if s.registry == nil {
		return nil
	}
	return s.registry
}
