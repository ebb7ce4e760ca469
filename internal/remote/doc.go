// Package remote owns the remote-shell capability used by a dispatch run.
//
// Ownership boundary:
// - connection establishment (dial, handshake, authentication)
//
// - host key acceptance (accept-any, trust on first use)
//
// - single command execution with captured stdout/stderr
//
// A Conn is owned by exactly one caller for its lifetime and is never shared.
package remote
