// Package runstore persists run records and per-stage checkpoints in SQLite.
// Checkpoints are the source of truth for resume-after-crash: a run's
// checkpoint rows form a contiguous, write-once prefix of the stage sequence.
package runstore
