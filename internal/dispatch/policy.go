package dispatch

import (
	"fmt"
	"strings"
)

// Policy selects what a connection or transport failure on one target does to
// the rest of the run.
type Policy string

const (
	// PolicyIsolate records the failure on its target and lets every other
	// target finish.
	PolicyIsolate Policy = "isolate"
	// PolicyFailFast stops issuing new work after the first failure. Running
	// commands finish, open connections are closed, unstarted targets are skipped.
	PolicyFailFast Policy = "fail-fast"
)

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "isolate", "isolate-and-continue", "continue":
		return PolicyIsolate, nil
	case "fail-fast", "failfast", "fail_fast":
		return PolicyFailFast, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}
