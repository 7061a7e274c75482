package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(CodeValidation, msg)
}

func Unauthorized(msg string) error {
	return New(CodeUnauthorized, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Offline(msg string) error {
	return New(CodeOffline, msg)
}

func Busy(msg string) error {
	return New(CodeBusy, msg)
}

func Persistence(msg string, cause error) error {
	return Wrap(CodePersistence, msg, cause)
}

// CodeOf extracts the taxonomy code from err, or CodeUnknown for
// anything that is not an AppError.
func CodeOf(err error) Code {
	var app *AppError
	if stderrors.As(err, &app) {
		return app.Code
	}
	return CodeUnknown
}

func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
