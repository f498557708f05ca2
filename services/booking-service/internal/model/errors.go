package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrForbidden              = errors.New("forbidden")
	ErrSlotConflict           = errors.New("slot conflict")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrPaymentVerification    = errors.New("payment verification failed")
	ErrCancellationNotAllowed = errors.New("cancellation not allowed after final settlement")
	ErrDuplicateFeedback      = errors.New("feedback already submitted")
	ErrNotEligible            = errors.New("appointment not eligible for feedback")
	ErrRefundProcessing       = errors.New("refund cannot be processed in its current state")
)

// SlotConflictError lists the appointments that overlap the requested range.
// IDs may be empty when the conflict was detected by the storage constraint.
type SlotConflictError struct {
	IDs []string
}

func (e *SlotConflictError) Error() string {
	if len(e.IDs) == 0 {
		return ErrSlotConflict.Error()
	}
	return fmt.Sprintf("%s with %s", ErrSlotConflict, strings.Join(e.IDs, ", "))
}

func (e *SlotConflictError) Is(target error) bool { return target == ErrSlotConflict }

type TransitionError struct {
	From   Status
	To     Status
	Reason string
	Err    error
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func (e *TransitionError) Unwrap() error { return e.Err }

// PaymentVerificationError is returned when a gateway callback cannot be applied as-is.
type PaymentVerificationError struct {
	OrderCode int64
	Expected  int64
	Received  int64
	Reason    string
}

func (e *PaymentVerificationError) Error() string {
	return fmt.Sprintf("%s: order %d: %s (expected %d, received %d)", ErrPaymentVerification, e.OrderCode, e.Reason, e.Expected, e.Received)
}

func (e *PaymentVerificationError) Is(target error) bool { return target == ErrPaymentVerification }
