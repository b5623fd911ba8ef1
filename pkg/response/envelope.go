package response

import (
	"encoding/json"
	"errors"

	"github.com/kittclouds/moshaver/internal/backup"
	"github.com/kittclouds/moshaver/internal/cloud"
	"github.com/kittclouds/moshaver/internal/cloudsync"
	"github.com/kittclouds/moshaver/internal/repository"
)

// Error codes the client switches on.
const (
	CodeValidation           = "validation"
	CodeNotFound             = "not_found"
	CodeLastSessionType      = "last_session_type"
	CodeNotLoaded            = "not_loaded"
	CodeWrongPassword        = "wrong_password"
	CodeInvalidArchive       = "invalid_archive"
	CodeUnsupportedVersion   = "unsupported_version"
	CodeBusy                 = "busy"
	CodeNotAuthenticated     = "not_authenticated"
	CodeConfirmationRequired = "confirmation_required"
	CodeInvalidCredentials   = "invalid_credentials"
	CodeInvalidConfig        = "invalid_config"
	CodeInternal             = "internal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is the envelope every bridge call returns.
type Result struct {
	OK     bool         `json:"ok"`
	Data   any          `json:"data,omitempty"`
	Error  string       `json:"error,omitempty"`
	Code   string       `json:"code,omitempty"`
	Fields []FieldError `json:"fields,omitempty"`
}

func Success(data any) Result {
	return Result{OK: true, Data: data}
}

var codes = []struct {
	err  error
	code string
}{
	{repository.ErrNotFound, CodeNotFound},
	{repository.ErrLastSessionType, CodeLastSessionType},
	{repository.ErrNotLoaded, CodeNotLoaded},
	{repository.ErrWrongPassword, CodeWrongPassword},
	{backup.ErrInvalidArchive, CodeInvalidArchive},
	{backup.ErrInvalidDocument, CodeInvalidArchive},
	{backup.ErrUnsupportedVersion, CodeUnsupportedVersion},
	{cloudsync.ErrBusy, CodeBusy},
	{cloud.ErrNotAuthenticated, CodeNotAuthenticated},
	{cloud.ErrConfirmationRequired, CodeConfirmationRequired},
	{cloud.ErrInvalidConfig, CodeInvalidConfig},
}

// Failure classifies err. Validation failures carry their field messages.
func Failure(err error) Result {
	r := Result{Error: cloud.ErrorMessage(err), Code: CodeInternal}
	var verr *repository.ValidationError
	if errors.As(err, &verr) {
		r.Code = CodeValidation
		for _, f := range verr.Fields {
			r.Fields = append(r.Fields, FieldError{Field: f.Field, Message: f.Error})
		}
		return r
	}
	if cloud.IsInvalidCredentials(err) {
		r.Code = CodeInvalidCredentials
		return r
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			r.Code = c.code
			break
		}
	}
	return r
}

// JSON encodes r. Data that cannot be encoded turns into an internal error.
func (r Result) JSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		b, _ = json.Marshal(Result{Error: err.Error(), Code: CodeInternal})
	}
	return string(b)
}

// From returns Success(data) or Failure(err).
func From(data any, err error) string {
	if err != nil {
		return Failure(err).JSON()
	}
	return Success(data).JSON()
}
