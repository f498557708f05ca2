package outbox

import "encoding/json"

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const (
	AppointmentBooked        = "booking.appointment.booked.v1"
	AppointmentStatusChanged = "booking.appointment.status_changed.v1"
	DepositConfirmed         = "booking.payment.deposit_confirmed.v1"
	PaymentDiscrepancy       = "booking.payment.discrepancy.v1"
	RefundOpened             = "booking.refund.opened.v1"
	RefundProcessed          = "booking.refund.processed.v1"
	FeedbackSubmitted        = "booking.feedback.submitted.v1"
)

// NewAppointmentEvent encodes payload as JSON for an appointment aggregate.
func NewAppointmentEvent(appointmentID, eventType string, payload map[string]any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "appointment",
		AggregateID:   appointmentID,
		EventType:     eventType,
		Payload:       body,
	}, nil
}
