// error_messages.go maps technical errors to operator-facing messages.
//
// Every message carries a code so a failed run can be reported and looked up
// without reading the raw error chain.
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Missing remote settings: SUPABASE_URL or a key is not set
//	         Action: Add SUPABASE_URL and SUPABASE_SERVICE_KEY (or SUPABASE_KEY) to .env
//	         Patterns: "missing supabase_url"
//
//	CFG002 - Invalid configuration: One or more settings failed validation
//	         Action: Fix the listed settings and run again
//	         Patterns: "validation failed"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - Input not found: The CSV extract does not exist
//	          Action: Place flume_expanded.csv in the working directory
//	          Patterns: "no such file", "file does not exist"
//
//	FILE002 - File too large: Extract exceeds the 100MB limit
//	          Action: Split the extract into smaller files
//	          Patterns: "file too large"
//
//	FILE003 - Output not writable: The SQL script could not be written
//	          Action: Check that the scripts directory is writable
//	          Patterns: "write script", "permission denied"
//
// # CSV Errors (CSV001-CSV099)
//
//	CSV001 - Missing header: Header row is absent or lacks a required column
//	         Action: Export the extract again with the header row included
//	         Patterns: "missing required column", "missing header"
//
//	CSV002 - Ragged row: A row has a different number of fields than the header
//	         Action: Check the reported line for stray commas
//	         Patterns: "wrong number of fields"
//
//	CSV003 - Bad quoting: A quoted field is malformed
//	         Action: Check the reported line for unbalanced quotes
//	         Patterns: "quote"
//
// # Store Errors (DB001-DB099)
//
//	DB001 - Duplicate row: Row already exists in the target table
//	        Action: None. Re-runs skip existing rows
//	        Patterns: "duplicate key", "already exists"
//
//	DB002 - Missing reference: Doctor or hospital referenced by a link is absent
//	        Action: Run the import again so entities are written first
//	        Patterns: "foreign key"
//
//	DB003 - Connection failed: Unable to reach the database
//	        Action: Check DATABASE_URL and that the server is running
//	        Patterns: "connection refused", "failed to connect"
//
// # Network Errors (NET001-NET099)
//
//	NET001 - Unauthorized: The remote store rejected the key
//	         Action: Use SUPABASE_SERVICE_KEY for writes
//	         Patterns: "401", "403", "jwt"
//
//	NET002 - Timeout: The remote store did not answer in time
//	         Action: Raise SUPABASE_TIMEOUT or retry later
//	         Patterns: "deadline exceeded", "timeout"
//
//	NET003 - Unknown host: SUPABASE_URL does not resolve
//	         Action: Check SUPABASE_URL for typos
//	         Patterns: "no such host"
//
//	NET004 - Cancelled: The run was interrupted
//	         Action: Run the import again; it is safe to re-run
//	         Patterns: "context canceled"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Check the log output for the underlying error
//
// Patterns are matched case-insensitively with strings.Contains; the first
// match wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"io"
	"strings"
)

// UserMessage provides operator-facing error information with guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Reference code
}

// errorPattern pairs a lowercase substring with its message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgMissingRemote = UserMessage{
		Message: "Missing remote store settings",
		Action:  "Add SUPABASE_URL and SUPABASE_SERVICE_KEY (or SUPABASE_KEY) to .env",
		Code:    "CFG001",
	}
	msgInvalidConfig = UserMessage{
		Message: "Invalid configuration",
		Action:  "Fix the listed settings and run again",
		Code:    "CFG002",
	}
	msgFileNotFound = UserMessage{
		Message: "Input file not found",
		Action:  "Place flume_expanded.csv in the working directory",
		Code:    "FILE001",
	}
	msgFileTooLarge = UserMessage{
		Message: "File exceeds maximum size limit (100MB)",
		Action:  "Split the extract into smaller files",
		Code:    "FILE002",
	}
	msgWriteFailed = UserMessage{
		Message: "Output could not be written",
		Action:  "Check that the scripts directory is writable",
		Code:    "FILE003",
	}
	msgMissingHeader = UserMessage{
		Message: "Header row is missing or incomplete",
		Action:  "Export the extract again with the header row included",
		Code:    "CSV001",
	}
	msgRaggedRow = UserMessage{
		Message: "A row has the wrong number of fields",
		Action:  "Check the reported line for stray commas",
		Code:    "CSV002",
	}
	msgBadQuote = UserMessage{
		Message: "A quoted field is malformed",
		Action:  "Check the reported line for unbalanced quotes",
		Code:    "CSV003",
	}
	msgDuplicateRow = UserMessage{
		Message: "Row already exists",
		Action:  "None. Re-runs skip existing rows",
		Code:    "DB001",
	}
	msgForeignKey = UserMessage{
		Message: "Referenced doctor or hospital does not exist",
		Action:  "Run the import again so entities are written first",
		Code:    "DB002",
	}
	msgConnection = UserMessage{
		Message: "Unable to connect to database",
		Action:  "Check DATABASE_URL and that the server is running",
		Code:    "DB003",
	}
	msgUnauthorized = UserMessage{
		Message: "Remote store rejected the key",
		Action:  "Use SUPABASE_SERVICE_KEY for writes",
		Code:    "NET001",
	}
	msgTimeout = UserMessage{
		Message: "Remote store did not answer in time",
		Action:  "Raise SUPABASE_TIMEOUT or retry later",
		Code:    "NET002",
	}
	msgUnknownHost = UserMessage{
		Message: "Remote host could not be resolved",
		Action:  "Check SUPABASE_URL for typos",
		Code:    "NET003",
	}
	msgCancelled = UserMessage{
		Message: "Run was cancelled",
		Action:  "Run the import again; it is safe to re-run",
		Code:    "NET004",
	}
)

var errorPatterns = []errorPattern{
	// =========================================================================
	// Configuration (CFG)
	// =========================================================================
	{pattern: "missing supabase_url", msg: msgMissingRemote},
	{pattern: "validation failed", msg: msgInvalidConfig},

	// =========================================================================
	// CSV (CSV) - before FILE so "csv parse" errors never fall through
	// =========================================================================
	{pattern: "missing required column", msg: msgMissingHeader},
	{pattern: "missing header", msg: msgMissingHeader},
	{pattern: "wrong number of fields", msg: msgRaggedRow},
	{pattern: "quote", msg: msgBadQuote},

	// =========================================================================
	// File (FILE)
	// =========================================================================
	{pattern: "no such file", msg: msgFileNotFound},
	{pattern: "file does not exist", msg: msgFileNotFound},
	{pattern: "file too large", msg: msgFileTooLarge},
	{pattern: "write script", msg: msgWriteFailed},
	{pattern: "permission denied", msg: msgWriteFailed},

	// =========================================================================
	// Store (DB)
	// =========================================================================
	{pattern: "duplicate key", msg: msgDuplicateRow},
	{pattern: "already exists", msg: msgDuplicateRow},
	{pattern: "foreign key", msg: msgForeignKey},
	{pattern: "connection refused", msg: msgConnection},
	{pattern: "failed to connect", msg: msgConnection},

	// =========================================================================
	// Network (NET)
	// =========================================================================
	{pattern: "status 401", msg: msgUnauthorized},
	{pattern: "status 403", msg: msgUnauthorized},
	{pattern: "jwt", msg: msgUnauthorized},
	{pattern: "deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},
	{pattern: "no such host", msg: msgUnknownHost},
	{pattern: "context canceled", msg: msgCancelled},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the log output for the underlying error",
	Code:    "ERR000",
}

// MapError converts a technical error to an operator-facing message.
// A nil error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError renders err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matched a specific pattern rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError keeps the technical error for logs alongside its mapped message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err. It returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

// Print writes the mapped message when one matched, then the technical error.
func (e *UserError) Print(w io.Writer) {
	if e.User.Code != defaultMessage.Code {
		fmt.Fprintf(w, "❌ %s (Code: %s). %s\n", e.User.Message, e.User.Code, e.User.Action)
	}
	fmt.Fprintln(w, "Error:", e.Technical)
}
