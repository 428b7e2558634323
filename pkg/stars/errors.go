package stars

import "errors"

const (
	ErrMsgDataValidation     = "Failed data validation. This request has been flagged."
	ErrMsgAuthorization      = "Authorization failed."
	ErrMsgAuthorizationScout = "Only authorized users may send in data."
)

// DataValidationError is returned when a report body is malformed or out of policy.
// Reason is for logs only; callers see Message.
type DataValidationError struct {
	Reason string
}

func (e *DataValidationError) Error() string {
	return ErrMsgDataValidation
}

// Message returns the text shown to the caller.
func (e *DataValidationError) Message() string {
	return ErrMsgDataValidation
}

func invalid(reason string) error {
	return &DataValidationError{Reason: reason}
}

// AuthorizationError is returned when a credential is missing, malformed or
// not allowed to perform the operation.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string {
	return e.Msg
}

// Message returns the text shown to the caller.
func (e *AuthorizationError) Message() string {
	return e.Msg
}

func IsDataValidation(err error) bool {
	var target *DataValidationError
	return errors.As(err, &target)
}

func IsAuthorization(err error) bool {
	var target *AuthorizationError
	return errors.As(err, &target)
}
