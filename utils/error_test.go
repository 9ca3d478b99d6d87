package utils

import (
	"errors"
	"testing"
)

func TestErrorConstructorsCarryCategory(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		category error
	}{
		{"validation", ValidationError("missing %s", "city"), ErrValidation},
		{"not found", NotFoundError("visit", 42), ErrNotFound},
		{"stale state", StaleStateError("ticket", 7, "pending"), ErrStaleState},
		{"authorization", AuthorizationError("review incident"), ErrNotAuthorized},
		{"generic record miss", ErrorRecordNotFound, ErrNotFound},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, tc.category) {
			t.Fatalf("%s: %v does not match its category %v", tc.name, tc.err, tc.category)
		}
	}
}

func TestErrorCategoriesAreDisjoint(t *testing.T) {
	err := NotFoundError("slot", 1)
	for _, other := range []error{ErrValidation, ErrStaleState, ErrNotAuthorized} {
		if errors.Is(err, other) {
			t.Fatalf("not-found error must not match %v", other)
		}
	}
}
