package cache

import (
	"errors"
	"strings"
	"testing"
)

// TestValidateKey tests string key validation rules.
func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"empty key", "", ErrInvalidKey},
		{"valid key", "/api/posts", nil},
		{"too long", strings.Repeat("x", MaxKeyLength+1), ErrKeyTooLong},
		{"contains newline", "key\nwith\nnewlines", ErrInvalidKey},
		{"contains carriage return", "key\rwith\rreturns", ErrInvalidKey},
		{"whitespace only", "   ", ErrInvalidKey},
		{"max length exactly", strings.Repeat("x", MaxKeyLength), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if err != tt.wantErr {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

// TestSentinelErrors verifies sentinel errors are distinct and have expected messages.
func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrNilStore", ErrNilStore, "cache: store is nil"},
		{"ErrInvalidKey", ErrInvalidKey, "cache: key is invalid"},
		{"ErrKeyTooLong", ErrKeyTooLong, "cache: key exceeds max length"},
		{"ErrUnserializableKey", ErrUnserializableKey, "cache: key is not serializable"},
		{"ErrEntryNotFound", ErrEntryNotFound, "cache: entry not found"},
		{"ErrHasSubscribers", ErrHasSubscribers, "cache: entry has subscribers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("%s.Error() = %q, want %q", tt.name, got, tt.wantMsg)
			}
		})
	}

	for i := range tests {
		for j := i + 1; j < len(tests); j++ {
			if errors.Is(tests[i].err, tests[j].err) {
				t.Errorf("%s and %s should be distinct", tests[i].name, tests[j].name)
			}
		}
	}
}

func TestStaleKeyError_Unwrap(t *testing.T) {
	err := error(&StaleKeyError{Key: "", Err: ErrInvalidKey})

	if !errors.Is(err, ErrInvalidKey) {
		t.Error("StaleKeyError should unwrap to ErrInvalidKey")
	}
	var ske *StaleKeyError
	if !errors.As(err, &ske) {
		t.Fatal("errors.As should find *StaleKeyError")
	}
	if !strings.HasPrefix(err.Error(), "cache: bad key") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestStatus_String(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusIdle, "idle"},
		{StatusLoading, "loading"},
		{StatusSuccess, "success"},
		{StatusError, "error"},
		{Status(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", tt.status, got, tt.want)
		}
	}
}
