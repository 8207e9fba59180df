package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "invalid input maps correctly",
			err:         fmt.Errorf("%w: %q", ErrInvalidInput, "not-an-ip"),
			wantCode:    "LKP001",
			wantMessage: "Not a valid IP address",
		},
		{
			name:        "invalid source maps correctly",
			err:         fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSource, "ftp"),
			wantCode:    "SRC001",
			wantMessage: "The configured data source cannot be used",
		},
		{
			name:        "network failure maps correctly",
			err:         fmt.Errorf("initial load: %w: status 503", ErrNetworkFailure),
			wantCode:    "SRC002",
			wantMessage: "The data source could not be reached",
		},
		{
			name:        "network failure wins over cache io",
			err:         errors.Join(ErrCacheIO, ErrNetworkFailure),
			wantCode:    "SRC002",
			wantMessage: "The data source could not be reached",
		},
		{
			name:        "decompression failure maps correctly",
			err:         fmt.Errorf("%w: gzip: invalid header", ErrDecompressionFailure),
			wantCode:    "SRC003",
			wantMessage: "The downloaded table is corrupt",
		},
		{
			name:        "cache io maps correctly",
			err:         fmt.Errorf("%w: permission denied", ErrCacheIO),
			wantCode:    "SRC004",
			wantMessage: "The cache directory is not writable",
		},
		{
			name:        "parse failure maps correctly",
			err:         fmt.Errorf("%w: line 5: bad asn", ErrParseFailure),
			wantCode:    "PRS001",
			wantMessage: "The table contained no usable rows",
		},
		{
			name:        "invalid interval maps correctly",
			err:         fmt.Errorf("%w: 0s", ErrInvalidInterval),
			wantCode:    "UPD001",
			wantMessage: "The update interval must be positive",
		},
		{
			name:        "cancelled wait maps correctly",
			err:         context.Canceled,
			wantCode:    "UPD002",
			wantMessage: "Request was cancelled",
		},
		{
			name:        "history connection maps correctly",
			err:         errors.New("failed to connect to `host=db`: dial tcp 10.0.0.1:5432: connection refused"),
			wantCode:    "DB001",
			wantMessage: "The history database is unreachable",
		},
		{
			name:        "rate limit maps correctly",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("RATE LIMIT hit"),
			wantCode:    "RATE001",
			wantMessage: "Too many requests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	err := fmt.Errorf("%w: %q", ErrInvalidInput, "x")
	result := FormatUserError(err)

	expected := "Not a valid IP address (Code: LKP001). Use a plain address such as 8.8.8.8 or 2001:db8::1"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error is not user facing",
			err:  nil,
			want: false,
		},
		{
			name: "sentinel is user facing",
			err:  ErrParseFailure,
			want: true,
		},
		{
			name: "unknown error is not user facing",
			err:  errors.New("random internal error xyz"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsUserFacing(tt.err)
			if got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("%w: dial tcp: i/o timeout", ErrNetworkFailure)
		userErr := NewUserError(techErr)

		if userErr.Error() != "The data source could not be reached" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if userErr.User.Code != "SRC002" {
			t.Errorf("Code = %q, want SRC002", userErr.User.Code)
		}
		if !errors.Is(userErr, techErr) {
			t.Error("Unwrap() should return original error")
		}
		if !errors.Is(userErr, ErrNetworkFailure) {
			t.Error("errors.Is should reach the sentinel through UserError")
		}
	})
}
