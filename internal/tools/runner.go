package tools

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// exitNotFound mirrors the shell's status for a missing binary.
const exitNotFound = 127

// CommandRunner runs a local binary in dir and hands back both streams and the
// exit code. A non-nil error always comes with a non-zero code.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, int32, error)
}

// ExecRunner runs binaries on this machine, e.g. terraform for topology.Fetch.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, int32, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), exitCode(err), err
}

func exitCode(err error) int32 {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return int32(exitErr.ExitCode())
	}
	var lookupErr *exec.Error
	if errors.As(err, &lookupErr) {
		return exitNotFound
	}
	return 1
}
