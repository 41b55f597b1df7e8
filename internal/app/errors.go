package app

import "fmt"

const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeForbidden         = "FORBIDDEN"
	CodeConflictExhausted = "CONFLICT_EXHAUSTED"
	CodeStoreError        = "STORE_ERROR"
)

// DomainError carries the HTTP status and client-facing message for a
// workflow failure. Err is the underlying cause, if any.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, cause error) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Err:     cause,
	}
}
