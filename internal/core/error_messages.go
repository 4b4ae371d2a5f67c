package core

// # Error Codes Reference
//
// Errors shown to users carry a code they can quote to support. Codes are
// grouped by category:
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: the upload exceeds the configured size limit
//	FILE002 - Wrong file type: only .xlsx workbooks are accepted
//	FILE003 - Unreadable workbook: the file is not a valid .xlsx workbook
//	FILE004 - No file: the request carried no file
//	FILE005 - No data rows: the first sheet has only a header row
//	FILE006 - No headers: row 1 of the first sheet is blank
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Invalid upload reference: the name was not issued by this server
//	UPL002 - System busy: another import holds the import slot
//	UPL003 - Upload not found: already imported, discarded or expired
//	UPL004 - Request cancelled
//	UPL005 - Request timeout
//
// # Table Errors (TBL001-TBL099)
//
//	TBL001 - Table not found in the database catalog
//	TBL002 - Invalid table name: only letters, digits and underscores
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Invalid mapping: unknown spreadsheet column or duplicate target
//	MAP002 - Unknown column: a mapped target is not a column of the table
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Duplicate key          Patterns: "duplicate key", "unique constraint failed"
//	DB002 - Unique constraint      Patterns: "unique constraint", "violates unique"
//	DB003 - Foreign key            Patterns: "foreign key constraint", "violates foreign key"
//	DB004 - Connection refused     Patterns: "connection refused"
//	DB005 - Connection reset       Patterns: "connection reset"
//	DB006 - Timeout                Patterns: "timeout"
//	DB007 - Deadlock               Patterns: "deadlock"
//	DB008 - Missing required value Patterns: "not-null constraint", "not null constraint"
//	DB009 - Type mismatch          Patterns: "invalid input syntax", "datatype mismatch"
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Too many requests    Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Check the application log for the original
// error when a user reports ERR000.
//
// # Matching
//
// Sentinel errors are matched first with errors.Is. Driver messages are then
// matched case-insensitively with strings.Contains; the first pattern wins,
// so more specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheetload/internal/schema"
	"github.com/JonMunkholm/sheetload/internal/spreadsheet"
	"github.com/JonMunkholm/sheetload/internal/upload"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

// sentinelMessages is checked in order with errors.Is.
var sentinelMessages = []sentinelMessage{
	{upload.ErrTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the workbook into smaller files",
		Code:    "FILE001",
	}},
	{upload.ErrExtension, UserMessage{
		Message: "Only .xlsx workbooks are accepted",
		Action:  "Save the file as an Excel workbook (.xlsx) and upload it again",
		Code:    "FILE002",
	}},
	{spreadsheet.ErrCorrupt, UserMessage{
		Message: "The file could not be read as a workbook",
		Action:  "Open the file in Excel, save it as .xlsx and upload it again",
		Code:    "FILE003",
	}},
	{upload.ErrNoFile, UserMessage{
		Message: "No file was selected",
		Action:  "Please select an .xlsx file to upload",
		Code:    "FILE004",
	}},
	{spreadsheet.ErrEmptyFile, UserMessage{
		Message: "The workbook has no data rows",
		Action:  "Add data below the header row and upload again",
		Code:    "FILE005",
	}},
	{spreadsheet.ErrNoHeaders, UserMessage{
		Message: "The first row of the sheet has no column headers",
		Action:  "Put column names in row 1 and upload again",
		Code:    "FILE006",
	}},
	{upload.ErrInvalidName, UserMessage{
		Message: "Invalid upload reference",
		Action:  "Upload the file again",
		Code:    "UPL001",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "Another import is in progress",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{upload.ErrNotFound, UserMessage{
		Message: "Upload not found",
		Action:  "The upload may have been imported, discarded or expired. Please upload the file again",
		Code:    "UPL003",
	}},
	{spreadsheet.ErrNotFound, UserMessage{
		Message: "Upload not found",
		Action:  "The upload may have been imported, discarded or expired. Please upload the file again",
		Code:    "UPL003",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "UPL005",
	}},
	{schema.ErrTableNotFound, UserMessage{
		Message: "Table not found",
		Action:  "Verify the table name is correct",
		Code:    "TBL001",
	}},
	{ErrInvalidTableName, UserMessage{
		Message: "Invalid table name",
		Action:  "Use only letters, numbers and underscores",
		Code:    "TBL002",
	}},
	{ErrInvalidMapping, UserMessage{
		Message: "The column mapping is not valid",
		Action:  "Map each spreadsheet column to at most one table column, and each table column at most once",
		Code:    "MAP001",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps driver message fragments (lowercase) to user messages.
var errorPatterns = []errorPattern{
	{
		pattern: "does not exist in table",
		msg: UserMessage{
			Message: "A mapped column does not exist in the table",
			Action:  "Choose target columns from the table's column list",
			Code:    "MAP002",
		},
	},

	// Constraint errors
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Review the failed rows for values that are already in the table",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint failed",
		msg: UserMessage{
			Message: "A record with this key already exists",
			Action:  "Review the failed rows for values that are already in the table",
			Code:    "DB001",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "This value must be unique but already exists",
			Action:  "Check for duplicate entries in your spreadsheet",
			Code:    "DB002",
		},
	},
	{
		pattern: "violates unique",
		msg: UserMessage{
			Message: "A duplicate value was found",
			Action:  "Review your data for duplicate key values",
			Code:    "DB002",
		},
	},
	{
		pattern: "foreign key constraint",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Ensure parent records are imported first",
			Code:    "DB003",
		},
	},
	{
		pattern: "violates foreign key",
		msg: UserMessage{
			Message: "Referenced record does not exist",
			Action:  "Ensure parent records are imported first",
			Code:    "DB003",
		},
	},

	// Connection errors
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},

	// Value errors
	{
		pattern: "not-null constraint",
		msg: UserMessage{
			Message: "A required column has no value",
			Action:  "Map a spreadsheet column to every required table column",
			Code:    "DB008",
		},
	},
	{
		pattern: "not null constraint",
		msg: UserMessage{
			Message: "A required column has no value",
			Action:  "Map a spreadsheet column to every required table column",
			Code:    "DB008",
		},
	},
	{
		pattern: "invalid input syntax",
		msg: UserMessage{
			Message: "A value does not match the column type",
			Action:  "Check that numbers and dates are formatted as the column expects",
			Code:    "DB009",
		},
	},
	{
		pattern: "datatype mismatch",
		msg: UserMessage{
			Message: "A value does not match the column type",
			Action:  "Check that numbers and dates are formatted as the column expects",
			Code:    "DB009",
		},
	},

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
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. Known
// sentinel errors win over message patterns; anything unrecognised maps to
// ERR000.
//
// Example:
//
//	msg := MapError(fmt.Errorf("import: %w", upload.ErrTooLarge))
//	// msg.Code == "FILE001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
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

// MapRowMessage maps a per-row driver message to a user message.
func MapRowMessage(message string) UserMessage {
	if message == "" {
		return UserMessage{}
	}
	return MapError(errors.New(message))
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

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with the message
// shown to users.
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
