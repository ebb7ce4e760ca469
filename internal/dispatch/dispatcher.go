package dispatch

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/danmuck/benchctl/internal/remote"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Observer receives task events as they happen. Implementations must be safe
// for concurrent use.
type Observer interface {
	CommandDone(t Target, e ExecutionResult)
	TargetDone(r TargetResult)
}

// Config is everything a run needs; nothing is read from package state.
type Config struct {
	Connector  remote.Connector
	User       string
	Credential *remote.Credential
	Policy     Policy
	// Workers caps concurrently running targets. Zero or less is unbounded.
	Workers int
	// Output receives announcements and captured streams. Nil discards them.
	Output   io.Writer
	Observer Observer
}

// Dispatcher fans a command list out over targets.
type Dispatcher struct {
	cfg Config
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Connector == nil {
		return nil, ErrNoConnector
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	return &Dispatcher{cfg: cfg}, nil
}

func (d *Dispatcher) Policy() Policy {
	return d.cfg.Policy
}

// Dispatch runs commandsFor(target) on every target concurrently and returns
// once every task is terminal. Under PolicyIsolate the error is only non-nil
// for invalid input; per-target failures live in the report. Under
// PolicyFailFast the first target failure is returned as a *TargetError.
func (d *Dispatcher) Dispatch(ctx context.Context, targets []Target, commandsFor CommandsFor) (Report, error) {
	report := Report{
		RunID:   uuid.NewString(),
		Policy:  d.cfg.Policy,
		Started: time.Now(),
		Results: make(map[string]TargetResult, len(targets)),
		order:   make([]string, 0, len(targets)),
	}
	targets = normalizeTargets(targets)
	if err := validateTargets(targets); err != nil {
		return report, err
	}
	if len(targets) == 0 {
		report.Finished = time.Now()
		return report, nil
	}
	if commandsFor == nil {
		commandsFor = Static()
	}

	logger := log.With().
		Str("component", "dispatch").
		Str("run_id", report.RunID).
		Str("policy", string(d.cfg.Policy)).
		Logger()
	logger.Info().Int("targets", len(targets)).Int("workers", d.cfg.Workers).Msg("dispatch started")

	r := &run{
		cfg:         d.cfg,
		out:         newPrinter(d.cfg.Output, logger),
		logger:      logger,
		commandsFor: commandsFor,
	}

	results := make([]TargetResult, len(targets))
	group, runCtx := errgroup.WithContext(ctx)
	if d.cfg.Workers > 0 {
		group.SetLimit(d.cfg.Workers)
	}
	for i, target := range targets {
		i, target := i, target
		group.Go(func() error {
			res := r.target(runCtx, target)
			results[i] = res
			if d.cfg.Observer != nil {
				d.cfg.Observer.TargetDone(res)
			}
			if d.cfg.Policy == PolicyFailFast && res.Status() == StatusFailed {
				return &TargetError{Address: target.Address, Err: res.Err}
			}
			return nil
		})
	}
	err := group.Wait()

	for i, target := range targets {
		report.order = append(report.order, target.Address)
		report.Results[target.Address] = results[i]
	}
	report.Finished = time.Now()

	logger.Info().
		Int("ok", report.Count(StatusOK)).
		Int("failed", report.Count(StatusFailed)).
		Int("skipped", report.Count(StatusSkipped)).
		Dur("elapsed", report.Finished.Sub(report.Started)).
		Msg("dispatch finished")
	return report, err
}

// normalizeTargets returns a copy with surrounding whitespace stripped from
// every address, so reports and output key on the address actually dialed.
func normalizeTargets(targets []Target) []Target {
	out := make([]Target, len(targets))
	for i, t := range targets {
		t.Address = strings.TrimSpace(t.Address)
		out[i] = t
	}
	return out
}

func validateTargets(targets []Target) error {
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		addr := t.Address
		if addr == "" {
			return fmt.Errorf("%w: index %d", ErrEmptyAddress, i)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTarget, addr)
		}
		seen[addr] = struct{}{}
	}
	return nil
}

// run holds the per-Dispatch state shared read-only by every task.
type run struct {
	cfg         Config
	out         *printer
	logger      zerolog.Logger
	commandsFor CommandsFor
}

func (r *run) target(ctx context.Context, t Target) (res TargetResult) {
	res = TargetResult{Target: t, Started: time.Now()}
	defer func() { res.Finished = time.Now() }()
	logger := r.logger.With().Str("target", t.Address).Logger()

	commands := append(CommandList(nil), r.commandsFor(t)...)
	res.Planned = len(commands)
	if err := ctx.Err(); err != nil {
		res.Err = skipped(ctx)
		logger.Debug().Err(res.Err).Msg("target skipped before connect")
		return res
	}

	// Connect and Execute are never interrupted once issued; cancellation only
	// takes effect between them.
	opCtx := context.WithoutCancel(ctx)

	r.out.announce(t)
	conn, err := r.cfg.Connector.Connect(opCtx, t.Address, r.cfg.User, r.cfg.Credential)
	if err != nil {
		res.Err = err
		r.out.failure(t, err)
		logger.Warn().Err(err).Msg("connect failed")
		return res
	}
	res.Connected = true
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn().Err(err).Msg("close failed")
		}
	}()

	for i, cmd := range commands {
		if err := ctx.Err(); err != nil {
			res.Err = skipped(ctx)
			logger.Debug().Err(res.Err).Int("remaining", len(commands)-i).Msg("stopping before next command")
			return res
		}

		exec := ExecutionResult{Index: i, Command: cmd, Started: time.Now()}
		out, err := conn.Execute(opCtx, cmd)
		exec.Duration = time.Since(exec.Started)
		exec.Stdout = out.Stdout
		exec.Stderr = out.Stderr
		exec.ExitStatus = out.ExitStatus
		res.Executions = append(res.Executions, exec)
		if r.cfg.Observer != nil {
			r.cfg.Observer.CommandDone(t, exec)
		}
		r.out.execution(exec)

		if err != nil {
			res.Err = fmt.Errorf("command %d %q: %w", i, cmd, err)
			r.out.failure(t, res.Err)
			logger.Warn().Err(err).Int("index", i).Msg("command transport failed")
			return res
		}
		logger.Debug().
			Int("index", i).
			Int("exit_status", exec.ExitStatus).
			Dur("elapsed", exec.Duration).
			Msg("command finished")
	}
	return res
}

func skipped(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrSkipped, cause)
}
