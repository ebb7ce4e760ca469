// Package topology turns provisioner state into dispatch targets.
//
// Ownership boundary:
// - mapping files (label -> address, address -> param) in JSON or YAML
//
// - terraform output decoding and host extraction
//
// - shell variable files for the benchmark scripts
//
// It never opens remote connections.
package topology
