package api

import "testing"

func TestValidatePhoneE164(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"already E.164", "+15551234567", "+15551234567", false},
		{"bare 10-digit defaults to +1", "5551234567", "+15551234567", false},
		{"too short", "+1555123", "", true},
		{"missing plus", "15551234567", "", true},
		{"leading zero country code", "+0551234567890", "", true},
		{"letters rejected", "+1555abc4567", "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, msg := validatePhoneE164("phoneNumber", tc.input)
			if tc.wantErr {
				if msg == "" {
					t.Fatalf("expected an error for %q, got none", tc.input)
				}
				return
			}
			if msg != "" {
				t.Fatalf("unexpected error for %q: %s", tc.input, msg)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestValidateRequiredStringLen(t *testing.T) {
	if msg := validateRequiredStringLen("name", "", maxNameLen); msg == "" {
		t.Fatal("expected error for empty required field")
	}
	if msg := validateRequiredStringLen("name", "ok", maxNameLen); msg != "" {
		t.Fatalf("unexpected error: %s", msg)
	}
}
