// Package logging provides slog construction with console and JSON handlers
// plus typed attribute helpers shared across the daemon and CLI.
package logging
