package model

import "time"

type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundCompleted RefundStatus = "completed"
	RefundFailed    RefundStatus = "failed"
)

type RefundMethod string

const (
	RefundCash RefundMethod = "cash"
	RefundQR   RefundMethod = "qr"
	RefundCard RefundMethod = "card"
)

func ParseRefundMethod(raw string) (RefundMethod, bool) {
	switch m := RefundMethod(raw); m {
	case RefundCash, RefundQR, RefundCard:
		return m, true
	}
	return "", false
}

type Refund struct {
	ID            string
	AppointmentID string
	Amount        int64
	Method        RefundMethod
	Status        RefundStatus
	Reason        string
	Note          string
	ProcessedBy   string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}

type CancelRequestStatus string

const (
	CancelRequestPending  CancelRequestStatus = "pending"
	CancelRequestApproved CancelRequestStatus = "approved"
	CancelRequestRejected CancelRequestStatus = "rejected"
)

// DoctorCancelRequest is a doctor's request that staff cancel an assigned appointment.
type DoctorCancelRequest struct {
	ID            string
	AppointmentID string
	DoctorID      string
	Reason        string
	Status        CancelRequestStatus
	DecidedBy     string
	DecidedAt     *time.Time
	CreatedAt     time.Time
}
