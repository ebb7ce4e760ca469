package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
)

var (
	ErrNoConnector     = errors.New("dispatch: no connector configured")
	ErrInvalidPolicy   = errors.New("dispatch: invalid policy")
	ErrDuplicateTarget = errors.New("dispatch: duplicate target address")
	ErrEmptyAddress    = errors.New("dispatch: target address is empty")
	ErrSkipped         = errors.New("dispatch: skipped")
)

const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// ExecutionResult is the captured outcome of one command on one target.
type ExecutionResult struct {
	Index   int
	Command string
	Stdout  []byte
	Stderr  []byte
	// ExitStatus is recorded for reporting only; a non-zero value does not stop
	// the sequence. -1 means the remote side sent no status.
	ExitStatus int
	Started    time.Time
	Duration   time.Duration
}

// TargetResult is the terminal state of one target task.
type TargetResult struct {
	Target     Target
	Planned    int
	Executions []ExecutionResult
	// Err is a connection, transport or skip error; nil when every command ran.
	Err       error
	Connected bool
	Started   time.Time
	Finished  time.Time
}

func (r TargetResult) Status() string {
	switch {
	case r.Err == nil:
		return StatusOK
	case errors.Is(r.Err, ErrSkipped):
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// NonZero counts executions that exited with a status other than zero.
func (r TargetResult) NonZero() int {
	n := 0
	for _, e := range r.Executions {
		if e.ExitStatus != 0 {
			n++
		}
	}
	return n
}

func (r TargetResult) Duration() time.Duration {
	if r.Started.IsZero() || r.Finished.IsZero() {
		return 0
	}
	return r.Finished.Sub(r.Started)
}

// TargetError ties a failure to the target it happened on.
type TargetError struct {
	Address string
	Err     error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("dispatch: target %s: %v", e.Address, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// Report is the per-target outcome of one Dispatch call.
type Report struct {
	RunID    string
	Policy   Policy
	Started  time.Time
	Finished time.Time
	Results  map[string]TargetResult
	order    []string
}

// Ordered returns results in the order targets were handed to Dispatch.
func (r Report) Ordered() []TargetResult {
	out := make([]TargetResult, 0, len(r.order))
	for _, addr := range r.order {
		if res, ok := r.Results[addr]; ok {
			out = append(out, res)
		}
	}
	return out
}

// Records counts captured command executions across all targets.
func (r Report) Records() int {
	n := 0
	for _, res := range r.Results {
		n += len(res.Executions)
	}
	return n
}

func (r Report) Count(status string) int {
	n := 0
	for _, res := range r.Results {
		if res.Status() == status {
			n++
		}
	}
	return n
}

// Err folds every target failure into one error, or returns nil.
func (r Report) Err() error {
	var merr *multierror.Error
	for _, res := range r.Ordered() {
		if res.Err != nil {
			merr = multierror.Append(merr, &TargetError{Address: res.Target.Address, Err: res.Err})
		}
	}
	return merr.ErrorOrNil()
}
