package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel markers used to classify failures across the pipeline. Every error
// that crosses a stage boundary is tagged with exactly one of these so the
// orchestrator and retry controller can decide what to do without string
// matching.
var (
	// ErrTransient marks failures worth retrying (connection resets,
	// timeouts, rate limits, 5xx responses).
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks input or validation failures that will not succeed
	// on retry.
	ErrPermanent = errors.New("permanent failure")
	// ErrUnavailable marks calls rejected because a dependency's circuit
	// breaker is open.
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrConflict marks a checkpoint write that disagrees with an existing
	// checkpoint. Always fatal: it indicates a non-determinism bug.
	ErrConflict = errors.New("checkpoint conflict")
	// ErrNotFound marks lookups for unknown runs.
	ErrNotFound = errors.New("not found")
	// ErrCancelled marks work aborted by a cancellation request.
	ErrCancelled = errors.New("cancelled")
)

// Kind is the stable classification name surfaced through the API and logs.
type Kind string

const (
	KindTransient   Kind = "transient"
	KindPermanent   Kind = "permanent"
	KindUnavailable Kind = "unavailable"
	KindConflict    Kind = "conflict"
	KindNotFound    Kind = "not_found"
	KindCancelled   Kind = "cancelled"
	KindUnknown     Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf returns the classification kind for an already-tagged error.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// Classify tags a raw error with a sentinel marker when it does not already
// carry one. Context cancellation propagates as a cancellation; deadline
// expiry, network failures, and anything else unrecognized default to
// transient so a flaky dependency gets its retry budget.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsRetryable reports whether the retry controller may attempt the operation
// again. Only transient failures qualify; everything else propagates.
func IsRetryable(err error) bool {
	return KindOf(Classify(err)) == KindTransient
}

// Details captures the pieces of a classified error that logging and the API
// surface individually.
type Details struct {
	Kind    Kind
	Message string
}

// Detail extracts classification details from an error chain.
func Detail(err error) Details {
	if err == nil {
		return Details{Kind: KindUnknown}
	}
	return Details{
		Kind:    KindOf(err),
		Message: strings.TrimSpace(err.Error()),
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
