package errs

import (
	"errors"
	"testing"
)

func TestKindOfUnclassifiedIsInternal(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("got %v, want KindInternal", got)
	}
}

func TestRetryableOnlyTransient(t *testing.T) {
	if !Retryable(Transient("op", errors.New("timeout"))) {
		t.Fatal("transient should be retryable")
	}
	if Retryable(Permanent("op", errors.New("bad request"))) {
		t.Fatal("permanent should not be retryable")
	}
	if Retryable(Conflict("op", ErrAlreadyExists)) {
		t.Fatal("conflict should not be retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("cause")
	err := ResourceMissing("lookup", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to unwrap to cause")
	}
}
