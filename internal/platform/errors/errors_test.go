package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Wrap(CodeNotFound, "snapshot missing", errors.New("no rows"))

	if !errors.Is(err, New(CodeNotFound, "")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if errors.Is(err, New(CodeConflict, "")) {
		t.Fatal("expected mismatched code to not match")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeStorageUnavailable, "insert failed", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
}

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeEmptySlot, "slot 3 is empty"))
	if got := CodeOf(wrapped); got != CodeEmptySlot {
		t.Fatalf("expected CodeEmptySlot, got %s", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected CodeUnknown for plain error, got %s", got)
	}
}

func TestCodeRetryable(t *testing.T) {
	if !CodeConflict.Retryable() {
		t.Fatal("expected conflict to be retryable")
	}
	if CodeEmptySlot.Retryable() {
		t.Fatal("expected empty slot to not be retryable")
	}
}
