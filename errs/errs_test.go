package errs_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bbockelm/lsfspool/errs"
)

func TestErrorMessageWithWrapped(t *testing.T) {
	wrapped := errors.New("boom")
	e := errs.New(errs.KindFilesystem, "create logs dir", wrapped)
	want := "create logs dir: boom"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestErrorMessageWithoutWrapped(t *testing.T) {
	e := errs.New(errs.KindStructural, "unexpected entry", nil)
	if e.Error() != "unexpected entry" {
		t.Errorf("Error() = %q, want %q", e.Error(), "unexpected entry")
	}
}

func TestUnwrap(t *testing.T) {
	wrapped := errors.New("boom")
	e := errs.New(errs.KindQueueClosed, "bsub exit 255", wrapped)
	if !errors.Is(e, wrapped) {
		t.Error("expected errors.Is to see through Unwrap to the wrapped error")
	}
}

func TestIsMatchesKind(t *testing.T) {
	e := errs.New(errs.KindSchedulerTransient, "bsub exit 1", nil)
	if !errs.Is(e, errs.KindSchedulerTransient) {
		t.Error("expected Is to match the same kind")
	}
	if errs.Is(e, errs.KindQueueClosed) {
		t.Error("expected Is to reject a different kind")
	}
}

func TestIsFalseForPlainError(t *testing.T) {
	if errs.Is(errors.New("plain"), errs.KindStructural) {
		t.Error("expected Is to reject a non-*Error")
	}
}

func TestIsSeesThroughWrapping(t *testing.T) {
	inner := errs.New(errs.KindConfiguration, "missing key", nil)
	outer := fmt.Errorf("load config: %w", inner)
	if !errs.Is(outer, errs.KindConfiguration) {
		t.Error("expected Is to unwrap fmt.Errorf %w chains")
	}
}

func TestKindString(t *testing.T) {
	cases := map[errs.Kind]string{
		errs.KindStructural:         "structural",
		errs.KindConfiguration:      "configuration",
		errs.KindSchedulerTransient: "scheduler_transient",
		errs.KindQueueClosed:        "queue_closed",
		errs.KindFilesystem:         "filesystem",
		errs.KindRetryExhausted:     "retry_exhausted",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
