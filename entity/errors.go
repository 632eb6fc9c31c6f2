package entity

import (
	"fmt"

	goerrors "github.com/goliatone/go-errors"
)

// CategoryConfiguration marks errors raised while loading entity configuration.
const CategoryConfiguration goerrors.Category = "configuration"

const (
	TextCodeConfiguration        = "CONFIGURATION_ERROR"
	TextCodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	TextCodeInvalidArgument      = "INVALID_ARGUMENT"
	TextCodeNotFound             = "NOT_FOUND"
	TextCodeIntegrity            = "INTEGRITY_VIOLATION"
)

// NewConfigurationError reports a bad or incomplete entity specification.
// These are fatal and surface at load time.
func NewConfigurationError(message string, metadata ...map[string]any) *goerrors.Error {
	return goerrors.New(message, CategoryConfiguration).
		WithTextCode(TextCodeConfiguration).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(metadata...)
}

// NewMissingRequiredFieldError lists every required-for-creation field absent from the input.
func NewMissingRequiredFieldError(name Name, fields []string) *goerrors.Error {
	fieldErrors := make([]goerrors.FieldError, 0, len(fields))
	for _, field := range fields {
		fieldErrors = append(fieldErrors, goerrors.FieldError{
			Field:   field,
			Message: "is required for creation",
		})
	}

	return goerrors.NewValidation(fmt.Sprintf("missing required fields for %s", name), fieldErrors...).
		WithTextCode(TextCodeMissingRequiredField).
		WithMetadata(map[string]any{"entity": name.String()})
}

func NewInvalidArgumentError(message string, metadata ...map[string]any) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidArgument).
		WithMetadata(metadata...)
}

func NewNotFoundError(name Name, id any) *goerrors.Error {
	return goerrors.New(fmt.Sprintf("%s %s not found", name, FormatID(id)), goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound).
		WithMetadata(map[string]any{"entity": name.String(), "id": FormatID(id)})
}

// NewIntegrityError signals a state that only a misconfigured table can produce,
// such as a duplicate primary key or a delete touching more than one row.
func NewIntegrityError(message string, metadata ...map[string]any) *goerrors.Error {
	return goerrors.New(message, goerrors.CategoryConflict).
		WithTextCode(TextCodeIntegrity).
		WithSeverity(goerrors.SeverityCritical).
		WithMetadata(metadata...)
}

func IsConfigurationError(err error) bool { return hasTextCode(err, TextCodeConfiguration) }

func IsMissingRequiredField(err error) bool { return hasTextCode(err, TextCodeMissingRequiredField) }

func IsInvalidArgument(err error) bool { return hasTextCode(err, TextCodeInvalidArgument) }

func IsNotFound(err error) bool { return hasTextCode(err, TextCodeNotFound) }

func IsIntegrityError(err error) bool { return hasTextCode(err, TextCodeIntegrity) }

func hasTextCode(err error, code string) bool {
	for err != nil {
		var e *goerrors.Error
		if !goerrors.As(err, &e) {
			return false
		}
		if e.TextCode == code {
			return true
		}
		err = e.Source
	}
	return false
}
