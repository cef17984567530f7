package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := New("risk", CodeRiskRejected,
		WithMessage("order notional exceeds limit"),
		WithDetail("limit", "100"),
	)

	got := err.Error()
	for _, want := range []string{"component=risk", "code=risk_rejected", `message="order notional exceeds limit"`, `limit="100"`} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
}

func TestErrorNil(t *testing.T) {
	var err *E
	if got := err.Error(); got != "<nil>" {
		t.Errorf("nil Error() = %q", got)
	}
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := New("exchange", CodeNetwork, WithCause(cause))

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestCodeOf(t *testing.T) {
	err := New("orders", CodeHalted)
	wrapped := fmt.Errorf("submit: %w", err)

	if got := CodeOf(wrapped); got != CodeHalted {
		t.Errorf("CodeOf = %q, want %q", got, CodeHalted)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestIsCode(t *testing.T) {
	err := New("store", CodeNotFound, WithMessage("position missing"))

	if !IsCode(err, CodeNotFound) {
		t.Error("expected IsCode to match CodeNotFound")
	}
	if IsCode(err, CodeNetwork) {
		t.Error("did not expect IsCode to match CodeNetwork")
	}
}

func TestWithDetailsMergesAndTrims(t *testing.T) {
	err := New("discovery", CodeInvalid, WithDetails(map[string]string{
		" tag ": " sports ",
		"":      "dropped",
	}))

	if got := err.Details["tag"]; got != "sports" {
		t.Errorf("Details[tag] = %q, want %q", got, "sports")
	}
	if _, ok := err.Details[""]; ok {
		t.Error("empty detail key should be dropped")
	}
}
