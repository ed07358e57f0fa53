package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/pitlane-hq/pitlane-backend/pkg/errors"
)

// ReasonInvalidBody marks malformed or invalid request payloads.
const ReasonInvalidBody = "invalid_body"

const maxBodyBytes = 1 << 20

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields the way clients spell them
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	return v
}()

// DecodeJSONBody reads exactly one JSON object into dest and runs its
// `validate` tags. Unknown fields, trailing data and bodies over 1 MiB are
// rejected.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := io.LimitReader(r.Body, maxBodyBytes+1)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return invalidBody(describeDecodeError(err), err)
	}
	if dec.More() {
		return invalidBody("body must contain a single JSON object", nil)
	}
	if dec.InputOffset() > maxBodyBytes {
		return invalidBody(fmt.Sprintf("body exceeds %d bytes", maxBodyBytes), nil)
	}

	err := validate.Struct(dest)
	var fieldErrs validator.ValidationErrors
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fieldErrs):
		details := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			details[fe.Field()] = describeFieldError(fe)
		}
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithReason(ReasonInvalidBody).WithDetails(details)
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed").WithReason(ReasonInvalidBody)
	}
}

func invalidBody(detail string, cause error) error {
	var e *pkgerrors.Error
	if cause != nil {
		e = pkgerrors.Wrap(pkgerrors.CodeValidation, cause, "invalid request body")
	} else {
		e = pkgerrors.New(pkgerrors.CodeValidation, "invalid request body")
	}
	return e.WithReason(ReasonInvalidBody).WithDetails(map[string]any{"error": detail})
}

func describeDecodeError(err error) string {
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return "body is empty"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "body is truncated"
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type)
	}
	return err.Error()
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "uuid", "uuid4":
		return "must be a valid uuid"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "email":
		return "must be a valid email"
	}
	return "is invalid"
}
