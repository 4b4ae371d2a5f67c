package core

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/sheetload/internal/upload"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// validate is shared; validator.Validate caches struct metadata and is safe
// for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	// Table names are interpolated into INSERT statements after quoting, so
	// only plain identifiers are accepted.
	v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return tableNamePattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("uploadname", func(fl validator.FieldLevel) bool {
		return upload.ValidName(fl.Field().String())
	})
	return v
}

// ImportRequest is a mapAndImport call as received from a client.
type ImportRequest struct {
	Upload  string        `json:"-" validate:"required,uploadname"`
	Table   string        `json:"table" validate:"required,max=63,sqlident"`
	Mapping ColumnMapping `json:"mapping" validate:"dive,keys,gt=0,endkeys,max=128"`
}

// Validate checks the request's shape. Header and catalog checks happen
// later against the workbook and the database.
func (r ImportRequest) Validate() error {
	return validationError("validate import request", validate.Struct(r))
}

// ValidateTableName rejects table names outside [A-Za-z0-9_].
func ValidateTableName(table string) error {
	if err := validate.Var(table, "required,max=63,sqlident"); err != nil {
		return invalid("validate table", ErrInvalidTableName, "%q must contain only letters, digits and underscores", table)
	}
	return nil
}

// validationError converts validator output into a classified error. The
// first failing field decides which sentinel is wrapped.
func validationError(op string, err error) error {
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &Error{Kind: KindFatal, Op: op, Err: err}
	}

	fe := verrs[0]
	field, _, _ := strings.Cut(fe.StructField(), "[")
	detail := describeFieldError(fe)

	switch field {
	case "Upload":
		return invalid(op, upload.ErrInvalidName, "%s", detail)
	case "Table":
		return invalid(op, ErrInvalidTableName, "%s", detail)
	default:
		return invalid(op, ErrInvalidMapping, "%s", detail)
	}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "sqlident":
		return fmt.Sprintf("%s %q must contain only letters, digits and underscores", fe.Field(), fe.Value())
	case "uploadname":
		return fmt.Sprintf("%s %q was not issued by this server", fe.Field(), fe.Value())
	case "gt":
		return fmt.Sprintf("%s: column index %v must be positive", fe.Field(), fe.Value())
	case "max":
		return fmt.Sprintf("%s exceeds %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag())
	}
}
