package service

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrConflict            = errors.New("network address already belongs to another user")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrBelowMinimum        = errors.New("amount below method minimum")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrValidation          = errors.New("validation failed")
	ErrRejected            = errors.New("submission rejected")
	ErrAddressUnavailable  = errors.New("network address could not be captured")
	ErrForbidden           = errors.New("operator rights required")
	ErrTokenUsed           = errors.New("verification link already used")
)

// ErrInsufficientFunds is what ledger debits report; it is the same condition
// as a withdrawal exceeding the balance.
var ErrInsufficientFunds = ErrInsufficientBalance

// UnauthorizedError explains why the gate refused a user.
type UnauthorizedError struct {
	Reason          string
	MissingChannels []string
}

func (e *UnauthorizedError) Error() string {
	if len(e.MissingChannels) > 0 {
		return fmt.Sprintf("unauthorized: %s (%s)", e.Reason, strings.Join(e.MissingChannels, ", "))
	}
	return "unauthorized: " + e.Reason
}

func (e *UnauthorizedError) Is(target error) bool { return target == ErrUnauthorized }

const (
	ReasonPendingExists    = "pending exists"
	ReasonAlreadyCompleted = "already completed"
	ReasonTaskInactive     = "task inactive"
)

// RejectionError is returned by Submit when a precondition on the
// (user, task) pair does not hold.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string { return "submission rejected: " + e.Reason }

func (e *RejectionError) Is(target error) bool { return target == ErrRejected }

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
