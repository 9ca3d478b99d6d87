package utils

import (
	"errors"
	"fmt"
	"math/rand"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "IN"

var whitespaceRe = regexp.MustCompile(`\s+`)

// NormalizeText lower-cases and collapses whitespace. All fuzzy comparisons
// and equality checks in the duplicate pipeline run on normalized text.
func NormalizeText(value string) string {
	text := strings.ToLower(strings.TrimSpace(value))
	return whitespaceRe.ReplaceAllString(text, " ")
}

// UrlBasename returns the last path segment of a (normalized) URL string.
func UrlBasename(value string) string {
	return path.Base(strings.TrimRight(value, "/"))
}

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil
}

// NormalizePhone formats any recognizable input to E.164 (+91...).
// Returns "" for inputs libphonenumber cannot parse.
func NormalizePhone(phoneNumber string) string {
	raw := strings.TrimSpace(phoneNumber)
	if raw == "" {
		return ""
	}
	p, err := libphonenumber.Parse(raw, CountryCode)
	if err != nil {
		return ""
	}
	return libphonenumber.Format(p, libphonenumber.E164)
}

func GenerateUniqueFilename() string {

	timestamp := time.Now().UnixNano()

	random := rand.Intn(1000)

	uniqueFilename := fmt.Sprintf("%d_%d", timestamp, random)

	return uniqueFilename
}

// ProcessValidationErrors flattens validator failures to field -> tag so the
// caller can name what was rejected.
func ProcessValidationErrors(err error) map[string]string {
	errorResponse := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errorResponse
	}
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

func NewTrue() *bool {
	b := true
	return &b
}

func UniqueSlice[T comparable](slice []T) []T {
	seen := make(map[T]struct{}, len(slice))
	out := make([]T, 0, len(slice))
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

