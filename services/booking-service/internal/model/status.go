package model

import "fmt"

// Status is the authoritative lifecycle state of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDeposited Status = "deposited"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusDeposited,
	StatusApproved,
	StatusPaid,
	StatusCompleted,
	StatusRejected,
	StatusCancelled,
}

func ParseStatus(raw string) (Status, error) {
	for _, s := range Statuses {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// BlocksSlot reports whether an appointment in this status occupies its practitioner's time.
func (s Status) BlocksSlot() bool {
	return s != StatusRejected && s != StatusCancelled
}

// rank orders the happy path; terminal side exits rank below zero.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusConfirmed:
		return 1
	case StatusDeposited:
		return 2
	case StatusApproved:
		return 3
	case StatusPaid:
		return 4
	case StatusCompleted:
		return 5
	}
	return -1
}

// AtLeast reports whether s is on the happy path at or beyond other.
func (s Status) AtLeast(other Status) bool {
	return s.rank() >= 0 && other.rank() >= 0 && s.rank() >= other.rank()
}
