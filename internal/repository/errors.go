package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kittclouds/moshaver/internal/model"
)

var (
	ErrNotFound        = errors.New("repository: record not found")
	ErrLastSessionType = errors.New("repository: at least one session type must remain")
	ErrNotLoaded       = errors.New("repository: Load has not been called")
	ErrWrongPassword   = errors.New("repository: wrong password")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError rejects a mutation before anything is written.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

func (err ValidationError) Unwrap() error { return err.Err }

// validate runs the struct tags on v and converts failures into a *ValidationError.
func validate(v any) error {
	err := model.Validate(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewValidationError(err)
	}
	flds := make([]FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		flds = append(flds, FieldError{Field: fe.Field(), Error: model.Translate(fe)})
		names = append(names, fe.Field())
	}
	return NewValidationError(fmt.Errorf("invalid %s", strings.Join(names, ", ")), flds...)
}
