package seckill

import (
	"errors"
	"fmt"
)

// Reason names why a submission was rejected.
type Reason string

const (
	ReasonNotStarted Reason = "not_started"
	ReasonEnded      Reason = "ended"
	ReasonSoldOut    Reason = "sold_out"
	ReasonDuplicate  Reason = "duplicate"
)

// Sentinel errors matched with errors.Is against a *RejectionError.
var (
	ErrNotStarted = errors.New("seckill has not started")
	ErrEnded      = errors.New("seckill has ended")
	ErrSoldOut    = errors.New("sold out")
	ErrDuplicate  = errors.New("buyer already holds an order for this voucher")
)

var (
	// ErrVoucherNotFound indicates the voucher does not exist.
	ErrVoucherNotFound = errors.New("voucher not found")

	// ErrInvalidBuyer is returned for non-positive buyer ids.
	ErrInvalidBuyer = errors.New("buyer id must be positive")

	// ErrClosed is returned by Submit after Close or once the consumer has stopped.
	ErrClosed = errors.New("seckill service closed")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("order consumer already started")
)

// RejectionError is a terminal refusal of a submission.
type RejectionError struct {
	Reason    Reason
	VoucherID int64
	BuyerID   int64
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("seckill rejected (voucher %d, buyer %d): %s", e.VoucherID, e.BuyerID, e.Reason)
}

// Unwrap maps the reason to its sentinel.
func (e *RejectionError) Unwrap() error {
	switch e.Reason {
	case ReasonNotStarted:
		return ErrNotStarted
	case ReasonEnded:
		return ErrEnded
	case ReasonSoldOut:
		return ErrSoldOut
	case ReasonDuplicate:
		return ErrDuplicate
	}
	return nil
}

// IsRejection reports whether err is a *RejectionError.
func IsRejection(err error) bool {
	var rejection *RejectionError
	return errors.As(err, &rejection)
}
