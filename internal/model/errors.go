package model

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInvalidConfig      Code = "INVALID_CONFIG"
	CodeUnknownParticipant Code = "UNKNOWN_PARTICIPANT"
	CodeAlreadyStaked      Code = "ALREADY_STAKED"
	CodeCollateralRequired Code = "COLLATERAL_REQUIRED"
	CodeAlreadyContributed Code = "ALREADY_CONTRIBUTED"
	CodeWrongAmount        Code = "WRONG_AMOUNT"
	CodeNotStarted         Code = "NOT_STARTED"
	CodeFinished           Code = "FINISHED"
	CodeNotRecipient       Code = "NOT_RECIPIENT"
	CodeCycleNotSettled    Code = "CYCLE_NOT_SETTLED"
	CodeAlreadyClaimed     Code = "ALREADY_CLAIMED"

	CodeInvalidState      Code = "INVALID_STATE"
	CodeNothingToWithdraw Code = "NOTHING_TO_WITHDRAW"
	CodeFundNotFound      Code = "FUND_NOT_FOUND"
	CodeConflict          Code = "CONFLICT"

	// CodeUnknown is reported by CodeOf for errors that carry no code.
	CodeUnknown Code = "UNKNOWN"
)

// Sentinels for errors.Is. Two errors match when their codes match.
var (
	ErrInvalidConfig      = &Error{Code: CodeInvalidConfig, Message: "invalid fund configuration"}
	ErrUnknownParticipant = &Error{Code: CodeUnknownParticipant, Message: "unknown participant"}
	ErrAlreadyStaked      = &Error{Code: CodeAlreadyStaked, Message: "collateral already staked"}
	ErrCollateralRequired = &Error{Code: CodeCollateralRequired, Message: "collateral must be staked first"}
	ErrAlreadyContributed = &Error{Code: CodeAlreadyContributed, Message: "already contributed this cycle"}
	ErrWrongAmount        = &Error{Code: CodeWrongAmount, Message: "wrong amount"}
	ErrNotStarted         = &Error{Code: CodeNotStarted, Message: "fund has not started"}
	ErrFinished           = &Error{Code: CodeFinished, Message: "fund schedule has finished"}
	ErrNotRecipient       = &Error{Code: CodeNotRecipient, Message: "not the recipient of this cycle"}
	ErrCycleNotSettled    = &Error{Code: CodeCycleNotSettled, Message: "cycle is not settled"}
	ErrAlreadyClaimed     = &Error{Code: CodeAlreadyClaimed, Message: "pool already claimed"}
	ErrInvalidState       = &Error{Code: CodeInvalidState, Message: "operation not allowed in current fund status"}
	ErrNothingToWithdraw  = &Error{Code: CodeNothingToWithdraw, Message: "no collateral to withdraw"}
	ErrFundNotFound       = &Error{Code: CodeFundNotFound, Message: "fund not found"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "fund was changed by another writer"}
)

// Error is a settlement validation failure. A rejected operation never
// changes fund state.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an error with a code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error with a code and a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates an error that wraps an underlying cause.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithMetadata returns a copy of e carrying the given key/value context.
func (e *Error) WithMetadata(kv ...string) *Error {
	out := *e
	out.Metadata = make(map[string]string, len(e.Metadata)+len(kv)/2)
	for k, v := range e.Metadata {
		out.Metadata[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out.Metadata[kv[i]] = kv[i+1]
	}
	return &out
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
