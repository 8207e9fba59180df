// Package core provides the IP to ASN lookup service.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// API clients receive the code alongside the message and can quote it when
// reporting a problem.
//
// Error codes are grouped by category:
//
// # Lookup Errors (LKP001-LKP099)
//
// Errors related to the lookup input:
//
//	LKP001 - Invalid address: The text is not an IPv4 or IPv6 address
//	         Action: Use a plain address such as 8.8.8.8 or 2001:db8::1
//	         Matches: ErrInvalidInput
//
//	LKP002 - Batch too large: Too many addresses in one request
//	         Action: Split the request; see SERVER_MAX_BATCH_SIZE
//	         Patterns: "batch too large"
//
// # Source Errors (SRC001-SRC099)
//
// Errors related to obtaining the range table:
//
//	SRC001 - Invalid source: The configured source cannot be used
//	         Action: Check IPTOASN_SOURCE_URL (http, https or file)
//	         Matches: ErrInvalidSource
//
//	SRC002 - Network failure: The source could not be reached
//	         Action: Check connectivity; cached data keeps being served
//	         Matches: ErrNetworkFailure, Patterns: "connection refused", "no such host"
//
//	SRC003 - Decompression failure: The downloaded table is corrupt
//	         Action: Retry the update; the source may be mid-publish
//	         Matches: ErrDecompressionFailure
//
//	SRC004 - Cache failure: The cache directory is not writable
//	         Action: Check IPTOASN_CACHE_DIR permissions; data is kept in memory
//	         Matches: ErrCacheIO
//
// # Parse Errors (PRS001-PRS099)
//
//	PRS001 - Parse failure: The table contained no usable rows
//	         Action: Verify the source serves the ip2asn TSV or an ASN mmdb
//	         Matches: ErrParseFailure
//
// # Update Errors (UPD001-UPD099)
//
// Errors related to scheduling and running refresh checks:
//
//	UPD001 - Invalid interval: The update interval must be positive
//	         Action: Use an interval of at least one minute
//	         Matches: ErrInvalidInterval
//
//	UPD002 - Cancelled: The caller stopped waiting for the update
//	         Action: The update keeps running; check /api/stats later
//	         Matches: context.Canceled
//
//	UPD003 - Timed out: The update did not finish in time
//	         Action: The update keeps running; check /api/stats later
//	         Matches: context.DeadlineExceeded
//
// # History Database Errors (DB001-DB099)
//
//	DB001 - Connection refused: The history database is unreachable
//	        Action: Lookups are unaffected; check HISTORY_DATABASE_URL
//	        Patterns: "dial tcp", "failed to connect"
//
//	DB002 - Missing table: The history table does not exist
//	        Action: Restart the server to run the migration
//	        Patterns: "does not exist"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	          Action: Please wait a moment before trying again
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing else matches:
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Matching
//
// Sentinel errors are matched first with errors.Is, in table order, so a
// wrapped ErrNetworkFailure maps to SRC002 however much context was added.
// Errors that carry no sentinel fall through to the text patterns, matched
// case-insensitively with strings.Contains. The first match wins.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorSentinel maps a sentinel error to its user message.
type errorSentinel struct {
	target error
	msg    UserMessage
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgInvalidInput = UserMessage{
		Message: "Not a valid IP address",
		Action:  "Use a plain address such as 8.8.8.8 or 2001:db8::1",
		Code:    "LKP001",
	}
	msgNetworkFailure = UserMessage{
		Message: "The data source could not be reached",
		Action:  "Check connectivity; cached data keeps being served",
		Code:    "SRC002",
	}
	msgHistoryUnavailable = UserMessage{
		Message: "The history database is unreachable",
		Action:  "Lookups are unaffected; check HISTORY_DATABASE_URL",
		Code:    "DB001",
	}
)

// errorSentinels is checked before errorPatterns. Order matters only when an
// error wraps more than one sentinel: a network failure hit while the cache
// was already disabled reports the network failure.
var errorSentinels = []errorSentinel{
	{target: ErrInvalidInput, msg: msgInvalidInput},
	{
		target: ErrInvalidSource,
		msg: UserMessage{
			Message: "The configured data source cannot be used",
			Action:  "Check IPTOASN_SOURCE_URL (http, https or file)",
			Code:    "SRC001",
		},
	},
	{target: ErrNetworkFailure, msg: msgNetworkFailure},
	{
		target: ErrDecompressionFailure,
		msg: UserMessage{
			Message: "The downloaded table is corrupt",
			Action:  "Retry the update; the source may be mid-publish",
			Code:    "SRC003",
		},
	},
	{
		target: ErrParseFailure,
		msg: UserMessage{
			Message: "The table contained no usable rows",
			Action:  "Verify the source serves the ip2asn TSV or an ASN mmdb",
			Code:    "PRS001",
		},
	},
	{
		target: ErrCacheIO,
		msg: UserMessage{
			Message: "The cache directory is not writable",
			Action:  "Check IPTOASN_CACHE_DIR permissions; data is kept in memory",
			Code:    "SRC004",
		},
	},
	{
		target: ErrInvalidInterval,
		msg: UserMessage{
			Message: "The update interval must be positive",
			Action:  "Use an interval of at least one minute",
			Code:    "UPD001",
		},
	},
	{
		target: context.Canceled,
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "The update keeps running; check /api/stats later",
			Code:    "UPD002",
		},
	},
	{
		target: context.DeadlineExceeded,
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "The update keeps running; check /api/stats later",
			Code:    "UPD003",
		},
	},
}

// errorPatterns maps technical error text (case-insensitive) to user messages
// for errors that do not wrap a sentinel, mostly from the history database
// driver and the HTTP layer.
//
// To add a new error pattern:
//  1. Choose the appropriate category and code range
//  2. Add the pattern in the correct position (specific before general)
//  3. Update the package documentation at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Lookup and source errors reported as plain text by the HTTP layer
	// =========================================================================
	{pattern: "invalid input", msg: msgInvalidInput},
	{pattern: "no such host", msg: msgNetworkFailure},
	{
		pattern: "batch too large",
		msg: UserMessage{
			Message: "Too many addresses in one request",
			Action:  "Split the request; see SERVER_MAX_BATCH_SIZE",
			Code:    "LKP002",
		},
	},

	// =========================================================================
	// History Database Errors (DB001-DB002)
	// =========================================================================
	{pattern: "dial tcp", msg: msgHistoryUnavailable},
	{pattern: "failed to connect", msg: msgHistoryUnavailable},
	{pattern: "connection refused", msg: msgHistoryUnavailable},
	{
		pattern: "does not exist",
		msg: UserMessage{
			Message: "The history table does not exist",
			Action:  "Restart the server to run the migration",
			Code:    "DB002",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
// Support staff should check application logs for the original technical
// error when users report ERR000.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Sentinels are matched with errors.Is, then text patterns with
// strings.Contains. If nothing matches, a generic fallback message with code
// ERR000 is returned.
//
// Example:
//
//	_, err := svc.Lookup("not-an-ip")
//	msg := MapError(err)
//	// msg.Code == "LKP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, es := range errorSentinels {
		if errors.Is(err, es.target) {
			return es.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
//
// Example output: "Not a valid IP address (Code: LKP001). Use a plain address such as 8.8.8.8 or 2001:db8::1"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing checks if an error maps to a specific code rather than the
// generic ERR000 fallback. Use this to decide whether to show the mapped
// message or a generic one.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-friendly message.
// The original error is preserved for logging.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError creates a UserError by mapping a technical error to a
// user-friendly message. Returns nil if err is nil.
//
// Example:
//
//	ue := NewUserError(err)
//	log.Error("update failed", "error", ue.Technical)
//	fmt.Println(ue.Error())   // "The data source could not be reached"
//	fmt.Println(ue.User.Code) // "SRC002"
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
