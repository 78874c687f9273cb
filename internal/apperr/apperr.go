// Package apperr carries the failure taxonomy shared by the core components
// and translated to transport status codes at the boundary.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindAuthenticationRequired
	KindAuthorizationDenied
	KindNotFound
	KindStateConflict
	KindInsufficientPool
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthenticationRequired:
		return "authentication_required"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindInsufficientPool:
		return "insufficient_pool"
	case KindPersistence:
		return "persistence_failure"
	default:
		return "unknown"
	}
}

const (
	CodeInvalidRequest        = "invalid_request"
	CodeInvalidOption         = "invalid_option"
	CodeNoTargets             = "no_targets"
	CodeCannotSuspendSelf     = "cannot_suspend_self"
	CodeMissingToken          = "missing_token"
	CodeInvalidToken          = "invalid_token"
	CodeForbidden             = "forbidden"
	CodeNoAccess              = "no_access"
	CodeNotSessionOwner       = "not_session_owner"
	CodeUserNotFound          = "user_not_found"
	CodeCategoryNotFound      = "category_not_found"
	CodePackageNotFound       = "package_not_found"
	CodeRequestNotFound       = "request_not_found_or_processed"
	CodeSessionNotFound       = "session_not_found"
	CodeQuestionNotInSession  = "question_not_in_session"
	CodeSessionCompleted      = "session_completed"
	CodeSessionExpired        = "session_expired"
	CodeInsufficientQuestions = "insufficient_questions"
	CodeServerError           = "server_error"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = e.Code + ": " + e.Message
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Kind and Code so callers can compare against a template error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

func New(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, format, args...)
}

func Unauthenticated(code string) *Error {
	return &Error{Kind: KindAuthenticationRequired, Code: code, Message: "authentication required"}
}

func Forbidden(code, format string, args ...any) *Error {
	return New(KindAuthorizationDenied, code, format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return New(KindStateConflict, code, format, args...)
}

func InsufficientPool(have, want int) *Error {
	return New(KindInsufficientPool, CodeInsufficientQuestions, "category has %d questions, %d required", have, want)
}

// Persistence wraps a storage failure. Already classified errors pass through.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return &Error{Kind: KindPersistence, Code: CodeServerError, Message: op, Err: err}
}

// KindOf reports the kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}
