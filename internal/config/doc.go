// Package config loads the run configuration of benchctl.
//
// Ownership boundary:
// - TOML decode with default overlay (only keys present in the file override)
//
// - validation and path resolution relative to the config file
//
// - commands file parsing and config templates
//
// CLI flag overrides are applied by cmd/benchctl after Load.
package config
