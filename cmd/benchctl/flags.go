package main

import (
	"fmt"
	"time"

	"github.com/danmuck/benchctl/internal/config"
	"github.com/danmuck/benchctl/internal/dispatch"
	"github.com/danmuck/benchctl/internal/topology"
	"github.com/spf13/pflag"
)

// dispatchFlags override config values, but only when set on the command line.
type dispatchFlags struct {
	hostsFile      string
	layout         string
	user           string
	keyPath        string
	port           int
	policy         string
	workers        int
	connectTimeout time.Duration
	knownHosts     string
	metricsFile    string
	dryRun         bool
	summary        bool
}

func (f *dispatchFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.hostsFile, "hosts", "", "host mapping file (JSON or YAML)")
	fs.StringVar(&f.layout, "layout", "", "mapping layout: labels|params")
	fs.StringVarP(&f.user, "user", "u", "", "remote login name")
	fs.StringVarP(&f.keyPath, "key", "i", "", "private key file")
	fs.IntVarP(&f.port, "port", "p", 0, "ssh port for addresses without one")
	fs.StringVar(&f.policy, "policy", "", "failure policy: isolate|fail-fast")
	fs.IntVarP(&f.workers, "workers", "w", 0, "concurrent hosts, 0 for one per host")
	fs.DurationVar(&f.connectTimeout, "connect-timeout", 0, "bound on dial and handshake")
	fs.StringVar(&f.knownHosts, "known-hosts", "", "known_hosts file for trust on first use")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "write a prometheus textfile after the run")
	fs.BoolVar(&f.dryRun, "dry-run", false, "print what would run without connecting")
	fs.BoolVar(&f.summary, "summary", true, "print a per-host summary table")
}

func (f *dispatchFlags) apply(fs *pflag.FlagSet, cfg *config.RunConfig) error {
	if fs.Changed("hosts") {
		cfg.HostsFile = config.ExpandHome(f.hostsFile)
	}
	if fs.Changed("layout") {
		cfg.Layout = topology.Layout(f.layout)
	}
	if fs.Changed("user") {
		cfg.User = f.user
	}
	if fs.Changed("key") {
		cfg.KeyPath = config.ExpandHome(f.keyPath)
	}
	if fs.Changed("port") {
		cfg.Port = f.port
	}
	if fs.Changed("policy") {
		cfg.Policy = dispatch.Policy(f.policy)
	}
	if fs.Changed("workers") {
		cfg.Workers = f.workers
	}
	if fs.Changed("connect-timeout") {
		cfg.ConnectTimeout = f.connectTimeout
	}
	if fs.Changed("known-hosts") {
		cfg.KnownHosts = config.ExpandHome(f.knownHosts)
	}
	if fs.Changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	return nil
}
