// Package tools provides local process helpers used around a dispatch run.
//
// Ownership boundary:
// - local command execution (provisioning tool invocation)
//
// Remote execution lives in internal/remote.
package tools
