package model

import "time"

type ModerationStatus string

const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

type Feedback struct {
	ID            string
	AppointmentID string
	DetailID      string
	ServiceID     string
	CustomerID    string
	Rating        int
	Comment       string
	Status        ModerationStatus
	ModeratedBy   string
	CreatedAt     time.Time
}
