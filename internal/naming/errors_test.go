package naming

import (
	"errors"
	"testing"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := NewError(KindNotFound, "Query", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("errors.Is(%v, ErrNotFound) = false, want true", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Errorf("errors.Is(%v, ErrTimeout) = true, want false", err)
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewError(KindDecodeError, "Load", inner)
	if !errors.Is(err, inner) {
		t.Errorf("errors.Is(err, inner) = false, want true")
	}
}

func TestErrorString(t *testing.T) {
	err := NewError(KindForbidden, "RegisterInstance", nil)
	want := "RegisterInstance: Forbidden"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
