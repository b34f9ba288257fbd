// Package cmd implements the command-line interface for the aspen embedded
// key-value engine. Since aspen is a library rather than a server, the CLI
// is a workbench: every command embeds a store in-process and drives it.
//
// The package is organized into several subpackages:
//
//   - bench: In-process benchmarks for the store operations
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See aspen -help for a list of all commands.
package cmd
