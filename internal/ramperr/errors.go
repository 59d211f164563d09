// Package ramperr defines the error taxonomy for the ramp saga.
//
// Every error produced by a saga component carries a Class that tells the
// coordinator how to react:
//   - ClassTransient: retried by bounded polling inside the owning component;
//     only escalated when the bound is exceeded.
//   - ClassConflict: an idempotent-conflict ("already done") signal that the
//     component resolves by state inspection instead of failing.
//   - ClassFatal: a validation or trust violation; abort immediately, no retry.
//   - ClassTimeout: a bounded wait expired; surfaced distinctly from fatal
//     errors so callers can offer "keep waiting" vs "abandon".
package ramperr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error identifier.
type Code string

const (
	TOMLFetchFailed       Code = "TOML_FETCH_FAILED"
	TOMLFieldMissing      Code = "TOML_FIELD_MISSING"
	ChallengeFetchFailed  Code = "CHALLENGE_FETCH_FAILED"
	ChallengeInvalid      Code = "CHALLENGE_INVALID"
	ChallengeSignFailed   Code = "CHALLENGE_SIGN_FAILED"
	AuthRejected          Code = "AUTH_REJECTED"
	InteractiveInitFailed Code = "INTERACTIVE_INIT_FAILED"
	SettlementMismatch    Code = "SETTLEMENT_MISMATCH"
	RouteUnavailable      Code = "ROUTE_UNAVAILABLE"
	TxSubmitFailed        Code = "TX_SUBMIT_FAILED"
	TxNotFound            Code = "TX_NOT_FOUND"
	BalanceTimeout        Code = "BALANCE_TIMEOUT"
	RedeemTimeout         Code = "REDEEM_TIMEOUT"
	RedeemAlreadyExecuted Code = "REDEEM_ALREADY_EXECUTED"
	NoEligibleVault       Code = "NO_ELIGIBLE_VAULT"
	FundingFailed         Code = "FUNDING_FAILED"
	SubsidyFailed         Code = "SUBSIDY_FAILED"
	CheckpointCorrupt     Code = "CHECKPOINT_CORRUPT"
	PhaseLocked           Code = "PHASE_LOCKED"
	NetworkError          Code = "NETWORK_ERROR"
)

// Class tells the coordinator how an error must be handled.
type Class string

const (
	ClassTransient Class = "transient"
	ClassConflict  Class = "conflict"
	ClassFatal     Class = "fatal"
	ClassTimeout   Class = "timeout"
)

// Error is the typed error produced by all saga components.
type Error struct {
	Code    Code
	Class   Class
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Class, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause, enabling errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so callers can compare against sentinel errors.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// Transient creates a transient/recoverable error.
func Transient(code Code, message string, cause error) *Error {
	return &Error{Code: code, Class: ClassTransient, Message: message, Cause: cause}
}

// Conflict creates an idempotent-conflict error.
func Conflict(code Code, message string, cause error) *Error {
	return &Error{Code: code, Class: ClassConflict, Message: message, Cause: cause}
}

// Fatal creates a validation/fatal error.
func Fatal(code Code, message string, cause error) *Error {
	return &Error{Code: code, Class: ClassFatal, Message: message, Cause: cause}
}

// Timeout creates an exhausted-timeout error.
func Timeout(code Code, message string, cause error) *Error {
	return &Error{Code: code, Class: ClassTimeout, Message: message, Cause: cause}
}

// ClassOf extracts the Class from an error chain. Untyped errors are
// treated as fatal: the coordinator must never silently retry something
// it does not understand.
func ClassOf(err error) Class {
	var re *Error
	if As(err, &re) {
		return re.Class
	}
	return ClassFatal
}

// As walks the error chain looking for a *Error.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
