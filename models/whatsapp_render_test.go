package models_test

import (
	"testing"

	"github.com/propdesk/brokerage_backend/models"
)

func TestRenderTemplate(t *testing.T) {
	body := "Hi {name}, your visit to {property} is confirmed for {start_at}."
	got := models.RenderTemplate(body, map[string]any{
		"name":     "Asha",
		"property": "Sunrise Apartments",
		"start_at": "2026-03-10 10:00",
	})
	want := "Hi Asha, your visit to Sunrise Apartments is confirmed for 2026-03-10 10:00."
	if got != want {
		t.Fatalf("RenderTemplate expected %q, got %q", want, got)
	}
}

func TestRenderTemplateLeavesUnknownPlaceholders(t *testing.T) {
	body := "Your OTP is {otp}. Ref {unknown_key}."
	got := models.RenderTemplate(body, map[string]any{"otp": "123456"})
	want := "Your OTP is 123456. Ref {unknown_key}."
	if got != want {
		t.Fatalf("RenderTemplate expected %q, got %q", want, got)
	}
}

func TestRenderTemplateNumericValues(t *testing.T) {
	body := "Visit {visit_id} rescheduled; {count} slots offered."
	got := models.RenderTemplate(body, map[string]any{"visit_id": 42, "count": 3})
	want := "Visit 42 rescheduled; 3 slots offered."
	if got != want {
		t.Fatalf("RenderTemplate expected %q, got %q", want, got)
	}
}
