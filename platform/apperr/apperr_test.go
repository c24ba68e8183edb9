package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetKindUnwrapsChain(t *testing.T) {
	err := fmt.Errorf("place call: %w", Unavailable("telephony not configured"))
	if GetKind(err) != KindUnavailable {
		t.Fatalf("expected KindUnavailable through wrap, got %v", GetKind(err))
	}
	if !IsPermanent(err) {
		t.Fatalf("expected unavailable capability to be permanent")
	}
}

func TestIsPermanentTransient(t *testing.T) {
	if IsPermanent(errors.New("connection reset")) {
		t.Fatalf("plain errors must be retryable")
	}
	if IsPermanent(RateLimited("slow down")) {
		t.Fatalf("rate limit errors must be retryable")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:    http.StatusNotFound,
		KindValidation:  http.StatusBadRequest,
		KindConflict:    http.StatusConflict,
		KindUnavailable: http.StatusServiceUnavailable,
		KindRateLimited: http.StatusTooManyRequests,
	}
	for kind, want := range cases {
		if got := New(kind, "x").HTTPStatus(); got != want {
			t.Fatalf("kind %v: expected %d, got %d", kind, want, got)
		}
	}
}

func TestErrorMessageIncludesOpAndCause(t *testing.T) {
	err := Wrap(KindInternal, "insert failed", errors.New("boom")).WithOp("contacts.Create")
	if err.Error() != "contacts.Create: insert failed: boom" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
