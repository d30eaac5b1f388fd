package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mortdiggiddy/video-translator/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrPermanent, "translate", "validate", "empty text", base)
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected cause to survive wrapping, got %v", err)
	}
	if services.KindOf(err) != services.KindPermanent {
		t.Fatalf("unexpected kind %q", services.KindOf(err))
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "transcribe", "upload", "", nil)
	if services.KindOf(err) != services.KindTransient {
		t.Fatalf("expected transient default, got %q", services.KindOf(err))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want services.Kind
	}{
		{"nil", nil, services.KindUnknown},
		{"already tagged", services.Wrap(services.ErrConflict, "checkpoint", "put", "", nil), services.KindConflict},
		{"context canceled", context.Canceled, services.KindCancelled},
		{"deadline", context.DeadlineExceeded, services.KindTransient},
		{"plain error", errors.New("connection reset by peer"), services.KindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := services.KindOf(services.Classify(tc.err))
			if got != tc.want {
				t.Fatalf("Classify(%v) kind = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !services.IsRetryable(errors.New("i/o timeout")) {
		t.Fatal("untagged errors default to retryable")
	}
	if services.IsRetryable(services.Wrap(services.ErrPermanent, "s", "op", "", nil)) {
		t.Fatal("permanent errors must not be retryable")
	}
	if services.IsRetryable(services.Wrap(services.ErrUnavailable, "s", "op", "", nil)) {
		t.Fatal("circuit-open errors must not be retryable")
	}
	if services.IsRetryable(fmt.Errorf("outer: %w", context.Canceled)) {
		t.Fatal("cancellation must not be retryable")
	}
}

func TestDetail(t *testing.T) {
	err := services.Wrap(services.ErrNotFound, "", "describe", "run missing", nil)
	d := services.Detail(err)
	if d.Kind != services.KindNotFound {
		t.Fatalf("unexpected kind %q", d.Kind)
	}
	if d.Message == "" {
		t.Fatal("expected message")
	}
}
