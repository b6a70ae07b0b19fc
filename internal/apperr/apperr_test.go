package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"testing"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := Wrap(IOFailure, "read failed", os.ErrPermission)
	err := fmt.Errorf("serve: %w", base)

	if got := KindOf(err); got != IOFailure {
		t.Fatalf("kind=%v, want %v", got, IOFailure)
	}
	if !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected wrapped os.ErrPermission to be reachable")
	}
	if Message(err) != "read failed" {
		t.Fatalf("message=%q", Message(err))
	}
}

func TestKindOf_Foreign(t *testing.T) {
	err := errors.New("/srv/media/secret: boom")
	if KindOf(err) != KindUnknown {
		t.Fatalf("expected unknown kind")
	}
	if Message(err) != "internal error" {
		t.Fatalf("foreign error message leaked: %q", Message(err))
	}
	if Is(nil, KindUnknown) {
		t.Fatalf("nil must not match any kind")
	}
}

func TestStatus(t *testing.T) {
	cases := map[Kind]int{
		PathEscape:        http.StatusForbidden,
		PathInvalid:       http.StatusForbidden,
		Unauthorized:      http.StatusForbidden,
		UnsupportedFormat: http.StatusBadRequest,
		BadRequest:        http.StatusBadRequest,
		NotFound:          http.StatusNotFound,
		Conflict:          http.StatusConflict,
		IOFailure:         http.StatusInternalServerError,
		KindUnknown:       http.StatusInternalServerError,
	}
	for k, want := range cases {
		if got := k.Status(); got != want {
			t.Errorf("%v: status=%d want %d", k, got, want)
		}
	}
}
