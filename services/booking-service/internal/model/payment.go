package model

import "time"

type IntentStatus string

const (
	IntentCreated IntentStatus = "created"
	IntentOpen    IntentStatus = "open"
	IntentPaid    IntentStatus = "paid"
	IntentFailed  IntentStatus = "failed"
	IntentVoid    IntentStatus = "void"
)

// IsOpen reports whether the intent can still be paid.
func (s IntentStatus) IsOpen() bool {
	return s == IntentCreated || s == IntentOpen
}

// PaymentIntent is the metadata kept for a gateway checkout until it is confirmed.
type PaymentIntent struct {
	OrderCode     int64
	AppointmentID string
	Amount        int64
	Currency      string
	Provider      string
	CheckoutRef   string
	CheckoutURL   string
	Status        IntentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentDiscrepancy records a callback that could not be applied, for manual reconciliation.
type PaymentDiscrepancy struct {
	ID            int64
	OrderCode     int64
	AppointmentID string
	Expected      int64
	Received      int64
	Reason        string
	Provider      string
	ProviderRef   string
	CreatedAt     time.Time
}

type InvoiceKind string

const (
	InvoiceDeposit InvoiceKind = "deposit"
	InvoiceFinal   InvoiceKind = "final"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodQR           PaymentMethod = "qr"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodGateway      PaymentMethod = "gateway"
)

func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	switch m := PaymentMethod(raw); m {
	case MethodCash, MethodCard, MethodQR, MethodBankTransfer, MethodGateway:
		return m, true
	}
	return "", false
}

// Invoice is append-only. A correction is a new invoice that supersedes the old one.
type Invoice struct {
	ID            string
	AppointmentID string
	Kind          InvoiceKind
	Total         int64
	Discount      int64
	FinalAmount   int64
	PaymentMethod PaymentMethod
	ProcessedBy   string
	OrderCode     int64
	SupersededBy  string
	Lines         []InvoiceLine
	CreatedAt     time.Time
}

type InvoiceLine struct {
	ServiceID string
	Quantity  int
	UnitPrice int64
}

// ClampedFinal returns total minus discount, never below zero.
func ClampedFinal(total, discount int64) int64 {
	if discount >= total {
		return 0
	}
	return total - discount
}

// LinesFromDetails snapshots appointment lines onto an invoice.
func LinesFromDetails(details []Detail) []InvoiceLine {
	lines := make([]InvoiceLine, 0, len(details))
	for _, d := range details {
		lines = append(lines, InvoiceLine{ServiceID: d.ServiceID, Quantity: d.Quantity, UnitPrice: d.UnitPrice})
	}
	return lines
}

// ActiveInvoice returns the non-superseded invoice of the given kind.
func ActiveInvoice(invoices []Invoice, kind InvoiceKind) (Invoice, bool) {
	for _, inv := range invoices {
		if inv.Kind == kind && inv.SupersededBy == "" {
			return inv, true
		}
	}
	return Invoice{}, false
}
