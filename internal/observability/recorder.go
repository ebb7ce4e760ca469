package observability

import (
	"github.com/danmuck/benchctl/internal/dispatch"
	"github.com/rs/zerolog"
)

// DispatchRecorder feeds dispatch events into the metrics and the log.
type DispatchRecorder struct {
	policy string
	logger zerolog.Logger
}

func NewDispatchRecorder(policy dispatch.Policy, logger zerolog.Logger) *DispatchRecorder {
	RegisterMetrics()
	return &DispatchRecorder{
		policy: string(policy),
		logger: logger.With().Str("component", "recorder").Logger(),
	}
}

func (r *DispatchRecorder) CommandDone(t dispatch.Target, e dispatch.ExecutionResult) {
	RecordCommand(e.ExitStatus, e.Duration)
	r.logger.Debug().
		Str("target", t.Address).
		Int("index", e.Index).
		Str("command", e.Command).
		Int("exit_status", e.ExitStatus).
		Dur("duration", e.Duration).
		Int("stdout_bytes", len(e.Stdout)).
		Int("stderr_bytes", len(e.Stderr)).
		Msg("command_done")
}

func (r *DispatchRecorder) TargetDone(res dispatch.TargetResult) {
	status := res.Status()
	RecordTarget(r.policy, status, res.Duration())

	event := r.logger.Info()
	switch status {
	case dispatch.StatusFailed:
		event = r.logger.Error().Err(res.Err)
	case dispatch.StatusSkipped:
		event = r.logger.Warn().Err(res.Err)
	}
	event.
		Str("target", res.Target.Address).
		Str("label", res.Target.Label).
		Str("status", status).
		Int("executed", len(res.Executions)).
		Int("planned", res.Planned).
		Int("non_zero", res.NonZero()).
		Dur("duration", res.Duration()).
		Msg("target_done")
}

// Finish records the run as a whole.
func (r *DispatchRecorder) Finish(report dispatch.Report) {
	RecordRun(r.policy, report.Err() != nil, report.Finished)
}
