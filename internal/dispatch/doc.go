// Package dispatch runs an ordered command list against many targets at once.
//
// Ownership boundary:
// - per-target task lifecycle: connect -> execute in order -> close
//
// - fan-out, worker limit and the join barrier
//
// - failure policy (isolate-and-continue, fail-fast)
//
// - console rendering of captured output and the run summary
//
// Ordering:
// - commands of one target run strictly in sequence on one connection.
//
// - nothing is ordered across targets; their output interleaves.
//
// The transport is a remote.Connector; dispatch never dials on its own.
package dispatch
