package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeForbidden      Code = "FORBIDDEN"
	CodeNotFound       Code = "NOT_FOUND"
	CodeInvalidState   Code = "INVALID_STATE"
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeConflict       Code = "CONFLICT"
	CodeRateLimit      Code = "RATE_LIMITED"
	CodeGatewayFailure Code = "GATEWAY_FAILURE"
	CodeInternal       Code = "INTERNAL_ERROR"
)

type Metadata struct {
	HTTPStatus int
	// PublicMessage replaces the error message when details must not leak.
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeUnauthorized:   {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required", DetailsAllowed: false},
	CodeForbidden:      {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied", DetailsAllowed: true},
	CodeNotFound:       {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found", DetailsAllowed: true},
	CodeInvalidState:   {HTTPStatus: http.StatusBadRequest, PublicMessage: "state transition not allowed", DetailsAllowed: true},
	CodeValidation:     {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeConflict:       {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected", DetailsAllowed: true},
	CodeRateLimit:      {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded", DetailsAllowed: false},
	CodeGatewayFailure: {HTTPStatus: http.StatusBadGateway, PublicMessage: "upstream provider failed", DetailsAllowed: false},
	CodeInternal:       {HTTPStatus: http.StatusInternalServerError, PublicMessage: "internal server error", DetailsAllowed: false},
}

// Error is a typed failure of a core operation.
type Error struct {
	code Code
	msg  string
	err  error
}

func New(code Code, msg string) *Error {
	return &Error{code: code, msg: msg}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{code: code, msg: msg, err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Code() Code { return e.code }

// Message is the text safe to show to the caller.
func (e *Error) Message() string {
	meta := MetadataFor(e.code)
	if !meta.DetailsAllowed || e.msg == "" {
		return meta.PublicMessage
	}
	return e.msg
}

func Unauthorized(msg string) *Error { return New(CodeUnauthorized, msg) }
func Forbidden(msg string) *Error    { return New(CodeForbidden, msg) }
func NotFound(msg string) *Error     { return New(CodeNotFound, msg) }
func InvalidState(msg string) *Error { return New(CodeInvalidState, msg) }
func Validation(msg string) *Error   { return New(CodeValidation, msg) }
func Conflict(msg string) *Error     { return New(CodeConflict, msg) }
func RateLimited(msg string) *Error  { return New(CodeRateLimit, msg) }

func Gateway(msg string, err error) *Error { return Wrap(CodeGatewayFailure, msg, err) }

func Internal(err error) *Error { return Wrap(CodeInternal, "internal error", err) }

func Validationf(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func InvalidStatef(format string, args ...any) *Error {
	return New(CodeInvalidState, fmt.Sprintf(format, args...))
}

// As returns the typed error in err's chain, if any.
func As(err error) *Error {
	var e *Error
	if stdErrors.As(err, &e) {
		return e
	}
	return nil
}

// CodeOf returns the code of err, CodeInternal for untyped errors.
func CodeOf(err error) Code {
	if e := As(err); e != nil {
		return e.code
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}
