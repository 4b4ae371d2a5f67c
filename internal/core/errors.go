package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/sheetload/internal/database"
	"github.com/JonMunkholm/sheetload/internal/schema"
	"github.com/JonMunkholm/sheetload/internal/spreadsheet"
	"github.com/JonMunkholm/sheetload/internal/upload"
)

// Kind classifies errors that stop an import pipeline. Per-row insert
// failures are never errors; they are collected as FailedRow values.
type Kind int

const (
	KindFatal Kind = iota
	KindNotFound
	KindInvalidInput
	KindConnectionFailure
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindConnectionFailure:
		return "connection_failure"
	case KindBusy:
		return "busy"
	default:
		return "fatal"
	}
}

var (
	// ErrInvalidMapping is returned when a submitted mapping refers to an
	// unknown spreadsheet column or maps two columns to the same target.
	ErrInvalidMapping = errors.New("invalid mapping")

	// ErrInvalidTableName is returned for table names outside [A-Za-z0-9_].
	ErrInvalidTableName = errors.New("invalid table name")
)

// Error is a pipeline error annotated with the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// wrap annotates err with op, classifying it unless it already carries a
// kind. A nil err stays nil.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindOf(err), Op: op, Err: err}
}

// invalid builds an InvalidInput error from a message.
func invalid(op string, sentinel error, format string, args ...any) error {
	return &Error{
		Kind: KindInvalidInput,
		Op:   op,
		Err:  fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)),
	}
}

// KindOf reports the kind of err. Errors that are not recognised are fatal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	switch {
	case errors.Is(err, spreadsheet.ErrNotFound),
		errors.Is(err, spreadsheet.ErrNoHeaders),
		errors.Is(err, upload.ErrNotFound),
		errors.Is(err, schema.ErrTableNotFound):
		return KindNotFound

	case errors.Is(err, spreadsheet.ErrCorrupt),
		errors.Is(err, spreadsheet.ErrEmptyFile),
		errors.Is(err, upload.ErrInvalidName),
		errors.Is(err, upload.ErrExtension),
		errors.Is(err, upload.ErrTooLarge),
		errors.Is(err, upload.ErrNoFile),
		errors.Is(err, ErrInvalidMapping),
		errors.Is(err, ErrInvalidTableName):
		return KindInvalidInput

	case errors.Is(err, ErrTooManyImports):
		return KindBusy

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindFatal

	case database.IsConnectionError(err):
		return KindConnectionFailure
	}
	return KindFatal
}
