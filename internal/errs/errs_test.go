package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOfAndIs(t *testing.T) {
	base := errors.New("boom")
	inner := Wrap(base, ModelLoadFailed, "engine")
	outer := &Error{Code: StartupTimeout, Msg: "outer", Err: inner}
	wrapped := fmt.Errorf("ctx: %w", outer)

	if got := CodeOf(wrapped); got != StartupTimeout {
		t.Fatalf("CodeOf = %q, want %q", got, StartupTimeout)
	}
	if !Is(wrapped, ModelLoadFailed) {
		t.Fatalf("expected nested code to be found")
	}
	if Is(wrapped, NotReady) {
		t.Fatalf("unexpected NotReady match")
	}
	if !errors.Is(wrapped, base) {
		t.Fatalf("expected Unwrap chain to reach base error")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, Internal, "x") != nil {
		t.Fatalf("Wrap(nil) should be nil")
	}
	if CodeOf(errors.New("plain")) != "" {
		t.Fatalf("plain errors carry no code")
	}
}

func TestErrorString(t *testing.T) {
	e := New(NoModelSelected, "select a model in %s", "settings")
	if e.Error() != "NoModelSelected: select a model in settings" {
		t.Fatalf("unexpected message: %q", e.Error())
	}
	if (&Error{Code: NotReady}).Error() != "NotReady" {
		t.Fatalf("bare code should print as code")
	}
}
