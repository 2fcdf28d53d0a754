package model

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a missing or invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InsufficientStockError reports a transfer larger than the source holds.
type InsufficientStockError struct {
	Item      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %q: have %d, need %d", e.Item, e.Available, e.Requested)
}

// NotFoundError reports a referenced record that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// StateError reports an operation on a transfer that is no longer pending.
type StateError struct {
	TransferID string
	From       TransferStatus
	Action     string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s transfer %s: status is %s", e.Action, e.TransferID, e.From)
}

// ForbiddenError reports a caller acting for a farm it does not represent.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "forbidden: " + e.Reason
}

// WorkerConflictError reports a worker already active on another farm.
// Recipients lists the users who should be told about the conflict.
type WorkerConflictError struct {
	Existing   Worker
	FarmName   string
	Recipients []string
}

func (e *WorkerConflictError) Error() string {
	return fmt.Sprintf("worker with CIN %s is already active on farm %s", e.Existing.CIN, e.FarmName)
}

// ConnectivityError wraps a failure to reach the store.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string {
	return "store unreachable: " + e.Err.Error()
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

var connectivityMarkers = []string{
	"failed to fetch",
	"unavailable",
	"network",
	"offline",
	"connection refused",
	"database is locked",
}

// ClassifyError wraps err as a ConnectivityError when its text names a
// network or availability failure. Domain errors are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, m := range connectivityMarkers {
		if strings.Contains(msg, m) {
			return &ConnectivityError{Err: err}
		}
	}
	return err
}

func isDomainError(err error) bool {
	var (
		ve *ValidationError
		ie *InsufficientStockError
		ne *NotFoundError
		se *StateError
		fe *ForbiddenError
		ce *ConnectivityError
		we *WorkerConflictError
	)
	return errors.As(err, &ve) || errors.As(err, &ie) || errors.As(err, &ne) ||
		errors.As(err, &se) || errors.As(err, &fe) || errors.As(err, &ce) ||
		errors.As(err, &we)
}
