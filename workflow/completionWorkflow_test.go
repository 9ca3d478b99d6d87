package workflow

import "testing"

func TestGenerateOTP(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		otp, err := generateOTP()
		if err != nil {
			t.Fatalf("generateOTP: %v", err)
		}
		if len(otp) != 6 {
			t.Fatalf("expected 6 digits, got %q", otp)
		}
		for _, r := range otp {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in otp %q", otp)
			}
		}
		seen[otp] = struct{}{}
	}
	// 200 draws from a million values colliding down to a handful would
	// mean the generator is broken.
	if len(seen) < 100 {
		t.Fatalf("otp generator produced only %d distinct values in 200 draws", len(seen))
	}
}
