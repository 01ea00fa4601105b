package core

// # Error Codes Reference
//
// User-facing errors carry a code that can be quoted to support staff.
// MapError first classifies typed ingestion failures, then falls back to
// substring patterns over the technical error text.
//
// # Ingestion Errors (ING001-ING099)
//
//	ING001 - Unreadable file: the upload is neither a COCO document nor a usable CSV
//	         Action: Upload COCO captions JSON or a CSV with filename,url,width,height,prompt
//	ING002 - Nothing to import: every record was missing a URL or caption
//	         Action: Check that images have URLs and captions
//	ING003 - Duplicate image key: two rows share one img_key
//	         Action: Make img_key unique or leave it blank to generate keys
//	ING004 - Save failed: the dataset could not be replaced; previous images are kept
//	         Action: Please try again
//
// # Database Errors (DB004-DB007)
//
//	DB004 - Connection refused          Patterns: "connection refused"
//	DB005 - Connection reset            Patterns: "connection reset"
//	DB006 - Timeout                     Patterns: "timeout"
//	DB007 - Deadlock                    Patterns: "deadlock"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large            Sentinel: ErrFileTooLarge
//	FILE002 - Invalid CSV               Patterns: "invalid csv"
//	FILE003 - Invalid JSON              Patterns: "invalid json"
//	FILE004 - No file                   Patterns: "no file provided"
//	FILE005 - Empty file                Patterns: "empty file"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Upload aborted             Patterns: "upload aborted"
//	UPL002 - System busy                Sentinel: ErrTooManyUploads
//	UPL004 - Request cancelled          Patterns: "context canceled"
//	UPL005 - Request timeout            Patterns: "context deadline exceeded"
//	UPL006 - Dataset busy               Sentinel: ErrDatasetBusy
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Invalid dataset id         Patterns: "invalid dataset id"
//	REQ002 - Unsupported content type   Patterns: "unsupported content type"
//	REQ003 - Database unavailable       Patterns: "database unavailable"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests         Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application logs for the
// original technical error when users report ERR000.

import (
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

// sentinelMessages take precedence over kinds: a structural failure caused
// by an oversized upload is reported as FILE001, not ING001.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Shrink the file or raise UPLOAD_MAX_FILE_SIZE; an upload always replaces the whole dataset",
		Code:    "FILE001",
	}},
	{ErrTooManyUploads, UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{ErrDatasetBusy, UserMessage{
		Message: "Another upload to this dataset is in progress",
		Action:  "Wait for it to finish, then try again",
		Code:    "UPL006",
	}},
}

var kindMessages = map[ErrorKind]UserMessage{
	KindStructuralFormat: {
		Message: "The file could not be read as a COCO or CSV dataset",
		Action:  "Upload COCO captions JSON or a CSV with filename,url,width,height,prompt columns",
		Code:    "ING001",
	},
	KindEmptyResult: {
		Message: "No images could be imported",
		Action:  "Check that images have URLs and captions",
		Code:    "ING002",
	},
	KindDuplicateKey: {
		Message: "Two rows share the same image key",
		Action:  "Make img_key unique or leave it blank to generate keys",
		Code:    "ING003",
	},
	KindPersistence: {
		Message: "The dataset could not be saved; previous images are unchanged",
		Action:  "Please try again",
		Code:    "ING004",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched case-insensitively with strings.Contains.
// The first match wins, so specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	{"invalid csv", UserMessage{"File is not a valid CSV", "Ensure file is comma-separated with a header row", "FILE002"}},
	{"invalid json", UserMessage{"File is not valid JSON", "Check the COCO document with a JSON validator", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a COCO JSON or CSV file to upload", "FILE004"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Please upload a file with at least one image", "FILE005"}},

	{"upload aborted", UserMessage{"Upload was aborted", "Start a new upload when ready", "UPL001"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "UPL004"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try uploading a smaller file or check your connection", "UPL005"}},
	{"timeout", UserMessage{"Operation timed out", "Try uploading a smaller file or try again later", "DB006"}},

	{"invalid dataset id", UserMessage{"Dataset id is invalid", "Use up to 128 letters, digits, '.', '_' or '-'", "REQ001"}},
	{"unsupported content type", UserMessage{"Unsupported upload encoding", "Send the file as multipart form field \"file\" or as the raw request body", "REQ002"}},
	{"database unavailable", UserMessage{"The image store is unavailable", "Please try again in a few moments", "REQ003"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	_, err := svc.IngestUpload(ctx, "ds-1", r)
//	msg := MapError(err)
//	// msg.Code == "ING002" when every row was skipped
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	// Structural failures keep the pattern match when one is more precise
	// (empty file, invalid csv, aborted upload).
	kind := KindOf(err)
	if msg, ok := kindMessages[kind]; ok && kind != KindStructuralFormat {
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if kind == KindStructuralFormat {
		return kindMessages[KindStructuralFormat]
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
// Error() returns the user message; Unwrap() the technical error for logging.
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

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
