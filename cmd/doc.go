// Package cmd implements the command-line interface of dMsg. It provides a
// server, a client and a load generator for links.
//
// The package is organized into several subpackages:
//
//   - serve: Accepts links and serves the builtin echo handler and call methods
//   - send: Sends a message, request or call over a fresh link
//   - perf: Measures request, call and send throughput against a server
//   - util: Shared flags, configuration and factories (internal use)
//
// The root command adds config (print the effective configuration as TOML)
// and version. See dmsg -help for a list of all commands.
package cmd
