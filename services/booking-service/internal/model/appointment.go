package model

import "time"

type Appointment struct {
	ID              string
	CustomerID      string
	PractitionerID  string
	AssignedStaffID string
	StartTime       time.Time
	EndTime         time.Time
	Status          Status
	TotalAmount     int64
	DepositAmount   int64
	VoucherID       string
	Note            string
	CancelReason    string
	RejectionReason string
	CancelledAt     *time.Time
	IsFeedbackGiven bool
	Details         []Detail
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Detail is a booked service line. UnitPrice is the catalog price at booking time.
type Detail struct {
	ID            string
	AppointmentID string
	ServiceID     string
	Quantity      int
	UnitPrice     int64
}

func (d Detail) LineTotal() int64 {
	return int64(d.Quantity) * d.UnitPrice
}

// DetailsTotal sums line totals.
func DetailsTotal(details []Detail) int64 {
	var total int64
	for _, d := range details {
		total += d.LineTotal()
	}
	return total
}

func (a *Appointment) Detail(id string) (Detail, bool) {
	for _, d := range a.Details {
		if d.ID == id {
			return d, true
		}
	}
	return Detail{}, false
}

type AppointmentFilter struct {
	CustomerID     string
	PractitionerID string
	Status         Status
	Limit          int
}

// HistoryEntry is an append-only audit row written for every status change.
type HistoryEntry struct {
	ID            int64
	AppointmentID string
	OldStatus     Status
	NewStatus     Status
	ActorKind     ActorKind
	ActorID       string
	Reason        string
	Note          string
	ChangedAt     time.Time
}

// StatusChange is applied only if the row is still in From.
type StatusChange struct {
	AppointmentID   string
	From            Status
	To              Status
	PractitionerID  string
	AssignedStaffID string
	CancelReason    string
	RejectionReason string
	At              time.Time
}
