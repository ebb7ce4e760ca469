package main

import (
	"context"
	"fmt"
	"io"

	"github.com/danmuck/benchctl/internal/config"
	"github.com/danmuck/benchctl/internal/dispatch"
	"github.com/danmuck/benchctl/internal/observability"
	"github.com/danmuck/benchctl/internal/remote"
	"github.com/danmuck/benchctl/internal/topology"
	"github.com/rs/zerolog/log"
)

// loadTargets prefers addresses given as arguments over the hosts file.
func loadTargets(cfg config.RunConfig, args []string) ([]dispatch.Target, error) {
	if len(args) > 0 {
		targets := make([]dispatch.Target, 0, len(args))
		for _, addr := range args {
			targets = append(targets, dispatch.Target{Address: addr})
		}
		return targets, nil
	}
	m, err := topology.LoadMapping(cfg.HostsFile)
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}
	return m.Targets(cfg.Layout)
}

func buildConnector(cfg config.RunConfig, dryRun bool) (remote.Connector, *remote.Credential, error) {
	if dryRun {
		return &remote.DryRunConnector{}, nil, nil
	}
	cred, err := remote.LoadCredential(cfg.KeyPath, cfg.Passphrase())
	if err != nil {
		return nil, nil, err
	}
	connector := remote.SSHConnector{
		Port:    cfg.Port,
		Timeout: cfg.ConnectTimeout,
	}
	if cfg.KnownHosts != "" {
		tofu, err := remote.NewTrustOnFirstUse(cfg.KnownHosts)
		if err != nil {
			return nil, nil, err
		}
		connector.HostKeys = tofu
	}
	return connector, cred, nil
}

type dispatchRequest struct {
	cfg      config.RunConfig
	targets  []dispatch.Target
	commands []string
	dryRun   bool
	summary  bool
	out      io.Writer
}

// runDispatch wires connector, recorder and dispatcher for one run and writes
// the summary and metrics afterwards, whatever the outcome.
func runDispatch(ctx context.Context, req dispatchRequest) (dispatch.Report, error) {
	connector, cred, err := buildConnector(req.cfg, req.dryRun)
	if err != nil {
		return dispatch.Report{}, err
	}

	recorder := observability.NewDispatchRecorder(req.cfg.Policy, log.Logger)
	d, err := dispatch.New(dispatch.Config{
		Connector:  connector,
		User:       req.cfg.User,
		Credential: cred,
		Policy:     req.cfg.Policy,
		Workers:    req.cfg.Workers,
		Output:     req.out,
		Observer:   recorder,
	})
	if err != nil {
		return dispatch.Report{}, err
	}

	report, runErr := d.Dispatch(ctx, req.targets, dispatch.PerTarget(req.commands...))
	recorder.Finish(report)

	if req.summary && len(report.Results) > 0 {
		fmt.Fprintln(req.out)
		dispatch.WriteSummary(req.out, report)
	}
	if req.cfg.MetricsFile != "" {
		if err := observability.WriteTextfile(req.cfg.MetricsFile); err != nil {
			log.Warn().Err(err).Str("component", "cli").Msg("metrics textfile not written")
		}
	}
	return report, runErr
}
