// Package logging provides opt-in file-based logging with rotation for cogmemd.
// When the --debug flag is set, comprehensive logs are written to ~/.cogmemd/logs/
// for debugging and troubleshooting.
//
// Without --debug, `cogmemd serve` still logs to ~/.cogmemd/logs/server.log
// (never to stdout or stderr; see SetupMCPMode), `cogmemd index scan` logs
// there at info level, and other commands use slog's default stderr logger.
package logging
