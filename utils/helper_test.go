package utils

import (
	"errors"
	"testing"
)

func TestProcessValidationErrors(t *testing.T) {
	type form struct {
		Title string `validate:"required"`
		City  string `validate:"required"`
	}
	err := Validate.Struct(&form{City: "Pune"})
	if err == nil {
		t.Fatalf("expected a validation failure")
	}
	fields := ProcessValidationErrors(err)
	if fields["Title"] != "required" {
		t.Fatalf("expected Title flagged required, got %v", fields)
	}
	if _, ok := fields["City"]; ok {
		t.Fatalf("City is valid and must not be reported: %v", fields)
	}
	if got := ProcessValidationErrors(errors.New("boom")); len(got) != 0 {
		t.Fatalf("non-validator error should yield no fields, got %v", got)
	}
}

func TestNormalizeText(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"", ""},
		{"   ", ""},
		{"Koramangala  4th   Block", "koramangala 4th block"},
		{"  2BHK\tNear Metro ", "2bhk near metro"},
		{"already normal", "already normal"},
	}
	for _, tc := range cases {
		if got := NormalizeText(tc.in); got != tc.expected {
			t.Fatalf("NormalizeText(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}

func TestUrlBasename(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"https://cdn.example.com/listings/flat-101.jpg", "flat-101.jpg"},
		{"https://cdn.example.com/listings/flat-101.jpg/", "flat-101.jpg"},
		{"flat-101.jpg", "flat-101.jpg"},
	}
	for _, tc := range cases {
		if got := UrlBasename(tc.in); got != tc.expected {
			t.Fatalf("UrlBasename(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"", ""},
		{"not a phone", ""},
		{"98765 43210", "+919876543210"},
		{"+91 98765 43210", "+919876543210"},
		{"09876543210", "+919876543210"},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.expected {
			t.Fatalf("NormalizePhone(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	want := []int{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("UniqueSlice expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("UniqueSlice expected %v, got %v", want, got)
		}
	}
}
