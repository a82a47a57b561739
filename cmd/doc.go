// Package cmd implements the command-line interface of the dlock toolbox.
// The library itself lives under lib/; the CLI exists to exercise it.
//
// The package is organized into subpackages:
//
//   - sim: Commands for running in-process locking simulations
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dlock -help for a list of all commands.
package cmd
