package ssh

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	t.Run("matches sentinels by Kind regardless of message", func(t *testing.T) {
		err := newErr(KindNotFound, "session %q missing", "abc")
		if !errors.Is(err, ErrNotFound) {
			t.Error("expected errors.Is to match ErrNotFound")
		}
	})

	t.Run("does not match a different Kind", func(t *testing.T) {
		err := newErr(KindNotFound, "missing")
		if errors.Is(err, ErrPolicyDenied) {
			t.Error("expected no match against a different Kind sentinel")
		}
	})
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := wrapErr(KindConnectionFailed, cause, "handshake with host")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the wrapped cause via Unwrap")
	}
	if got := errors.Unwrap(err); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestErrorMessage(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := newErr(KindInvalidArgument, "port out of range")
		want := "InvalidArgument: port out of range"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})

	t.Run("with cause", func(t *testing.T) {
		cause := fmt.Errorf("boom")
		err := wrapErr(KindStreamError, cause, "write failed")
		want := "StreamError: write failed: boom"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
	})
}

func TestKindOf(t *testing.T) {
	t.Run("extracts Kind from a core Error", func(t *testing.T) {
		err := newErr(KindLimitExceeded, "pool full")
		if got := KindOf(err); got != KindLimitExceeded {
			t.Errorf("KindOf = %v, want %v", got, KindLimitExceeded)
		}
	})

	t.Run("extracts Kind through fmt.Errorf wrapping", func(t *testing.T) {
		err := fmt.Errorf("context: %w", newErr(KindDuplicate, "dup"))
		if got := KindOf(err); got != KindDuplicate {
			t.Errorf("KindOf = %v, want %v", got, KindDuplicate)
		}
	})

	t.Run("returns KindUnknown for a plain error", func(t *testing.T) {
		if got := KindOf(fmt.Errorf("plain")); got != KindUnknown {
			t.Errorf("KindOf = %v, want %v", got, KindUnknown)
		}
	})
}
