package types

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection is returned for every pending and future operation on a
	// channel whose transport has closed.
	ErrConnection = errors.New("connection closed")

	// ErrTimeout is returned when no response arrived within the request or
	// transfer budget.
	ErrTimeout = errors.New("request timed out")

	// ErrBlockNotFound is returned by ledgers for heights they do not hold.
	ErrBlockNotFound = errors.New("block not found")
)

// ErrProtocolViolation reports a frame that breaks the sync protocol: out of
// order sequence numbers, mismatched correlation ids, a non-contiguous block
// chain or a wrong element count. The transfer it belongs to is aborted.
type ErrProtocolViolation struct {
	Reason error
}

func (e ErrProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %v", e.Reason)
}

func (e ErrProtocolViolation) Unwrap() error { return e.Reason }

// NewProtocolViolation formats a protocol violation.
func NewProtocolViolation(format string, args ...interface{}) error {
	return ErrProtocolViolation{Reason: fmt.Errorf(format, args...)}
}

// IsProtocolViolation reports whether err is or wraps an ErrProtocolViolation.
func IsProtocolViolation(err error) bool {
	var pv ErrProtocolViolation
	return errors.As(err, &pv)
}

// ErrApply is returned when the ledger refused a commit. Height is the last
// height that was committed successfully; the rest of the batch is discarded.
type ErrApply struct {
	Height uint64
	Err    error
}

func (e ErrApply) Error() string {
	return fmt.Sprintf("failed to apply block at height %d: %v", e.Height+1, e.Err)
}

func (e ErrApply) Unwrap() error { return e.Err }

// ErrUnknownResponse is returned for a response whose correlation id is not
// outstanding, either because it never was or because it already resolved or
// timed out. It is never fatal.
type ErrUnknownResponse struct {
	CorrelationID uint64
}

func (e ErrUnknownResponse) Error() string {
	return fmt.Sprintf("unexpected response for correlation id %d", e.CorrelationID)
}
