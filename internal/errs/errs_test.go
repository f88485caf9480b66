package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(Validation, "window hours must be positive, got %d", -3)
	want := "msgbridge: validation: window hours must be positive, got -3"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	wrapped := Wrap(Access, errors.New("disk I/O error"), "failed to query chat.db")
	want = "msgbridge: access: failed to query chat.db: disk I/O error"
	if wrapped.Error() != want {
		t.Errorf("Error() = %q, want %q", wrapped.Error(), want)
	}
}

func TestIsKind(t *testing.T) {
	err := New(Delivery, "send failed")
	if !IsKind(err, Delivery) {
		t.Error("IsKind(Delivery) = false")
	}
	if IsKind(err, Validation) {
		t.Error("IsKind should not match a different kind")
	}
	if IsKind(nil, Delivery) {
		t.Error("IsKind(nil) = true")
	}
	if IsKind(errors.New("untagged"), Delivery) {
		t.Error("IsKind should not match untagged errors")
	}

	// Kind survives wrapping by callers.
	outer := fmt.Errorf("request failed: %w", err)
	if !IsKind(outer, Delivery) {
		t.Error("IsKind should see through fmt.Errorf %w wrapping")
	}
}

func TestUnwrap(t *testing.T) {
	inner := errors.New("locked")
	err := Wrap(Access, inner, "chat.db busy")
	if !errors.Is(err, inner) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
}

func TestKindString(t *testing.T) {
	kinds := map[Kind]string{
		Validation: "validation",
		Range:      "range",
		Access:     "access",
		Delivery:   "delivery",
		Selection:  "selection",
		Kind(99):   "unknown",
	}
	for k, want := range kinds {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), k.String(), want)
		}
	}
}
