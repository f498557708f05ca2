package handlers

import (
	"time"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/invoices"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
)

type detailView struct {
	ID        string `json:"id"`
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type appointmentView struct {
	ID              string       `json:"id"`
	CustomerID      string       `json:"customer_id"`
	PractitionerID  string       `json:"practitioner_id,omitempty"`
	AssignedStaffID string       `json:"assigned_staff_id,omitempty"`
	StartTime       time.Time    `json:"start_time"`
	EndTime         time.Time    `json:"end_time"`
	Status          model.Status `json:"status"`
	TotalAmount     int64        `json:"total_amount"`
	DepositAmount   int64        `json:"deposit_amount"`
	VoucherID       string       `json:"voucher_id,omitempty"`
	Note            string       `json:"note,omitempty"`
	CancelReason    string       `json:"cancel_reason,omitempty"`
	RejectionReason string       `json:"rejection_reason,omitempty"`
	CancelledAt     *time.Time   `json:"cancelled_at,omitempty"`
	IsFeedbackGiven bool         `json:"is_feedback_given"`
	Details         []detailView `json:"details"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

func toAppointmentView(a model.Appointment) appointmentView {
	details := make([]detailView, 0, len(a.Details))
	for _, d := range a.Details {
		details = append(details, detailView{ID: d.ID, ServiceID: d.ServiceID, Quantity: d.Quantity, UnitPrice: d.UnitPrice})
	}
	return appointmentView{
		ID:              a.ID,
		CustomerID:      a.CustomerID,
		PractitionerID:  a.PractitionerID,
		AssignedStaffID: a.AssignedStaffID,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Status:          a.Status,
		TotalAmount:     a.TotalAmount,
		DepositAmount:   a.DepositAmount,
		VoucherID:       a.VoucherID,
		Note:            a.Note,
		CancelReason:    a.CancelReason,
		RejectionReason: a.RejectionReason,
		CancelledAt:     a.CancelledAt,
		IsFeedbackGiven: a.IsFeedbackGiven,
		Details:         details,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type historyView struct {
	OldStatus model.Status `json:"old_status,omitempty"`
	NewStatus model.Status `json:"new_status"`
	ActorKind string       `json:"actor_kind"`
	ActorID   string       `json:"actor_id"`
	Reason    string       `json:"reason,omitempty"`
	Note      string       `json:"note,omitempty"`
	ChangedAt time.Time    `json:"changed_at"`
}

type invoiceLineView struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type invoiceView struct {
	ID            string              `json:"id"`
	AppointmentID string              `json:"appointment_id"`
	Kind          model.InvoiceKind   `json:"kind"`
	Total         int64               `json:"total"`
	Discount      int64               `json:"discount"`
	FinalAmount   int64               `json:"final_amount"`
	PaymentMethod model.PaymentMethod `json:"payment_method"`
	ProcessedBy   string              `json:"processed_by"`
	OrderCode     int64               `json:"order_code,omitempty"`
	SupersededBy  string              `json:"superseded_by,omitempty"`
	Lines         []invoiceLineView   `json:"lines"`
	CreatedAt     time.Time           `json:"created_at"`
}

func toInvoiceView(inv model.Invoice) invoiceView {
	lines := make([]invoiceLineView, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, invoiceLineView{ServiceID: l.ServiceID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return invoiceView{
		ID:            inv.ID,
		AppointmentID: inv.AppointmentID,
		Kind:          inv.Kind,
		Total:         inv.Total,
		Discount:      inv.Discount,
		FinalAmount:   inv.FinalAmount,
		PaymentMethod: inv.PaymentMethod,
		ProcessedBy:   inv.ProcessedBy,
		OrderCode:     inv.OrderCode,
		SupersededBy:  inv.SupersededBy,
		Lines:         lines,
		CreatedAt:     inv.CreatedAt,
	}
}

func optionalInvoice(inv *model.Invoice) *invoiceView {
	if inv == nil {
		return nil
	}
	v := toInvoiceView(*inv)
	return &v
}

type summaryLineView struct {
	ServiceID string `json:"service_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

type summaryView struct {
	AppointmentID      string                `json:"appointment_id"`
	ServiceLines       []summaryLineView     `json:"service_lines"`
	TotalPaid          int64                 `json:"total_paid"`
	TotalDiscount      int64                 `json:"total_discount"`
	PaymentMethodsUsed []model.PaymentMethod `json:"payment_methods_used"`
	DepositInvoice     *invoiceView          `json:"deposit_invoice,omitempty"`
	FinalInvoice       *invoiceView          `json:"final_invoice,omitempty"`
}

func toSummaryView(s invoices.Summary) summaryView {
	lines := make([]summaryLineView, 0, len(s.Lines))
	for _, l := range s.Lines {
		lines = append(lines, summaryLineView(l))
	}
	methods := s.PaymentMethodsUsed
	if methods == nil {
		methods = []model.PaymentMethod{}
	}
	return summaryView{
		AppointmentID:      s.AppointmentID,
		ServiceLines:       lines,
		TotalPaid:          s.TotalPaid,
		TotalDiscount:      s.TotalDiscount,
		PaymentMethodsUsed: methods,
		DepositInvoice:     optionalInvoice(s.DepositInvoice),
		FinalInvoice:       optionalInvoice(s.FinalInvoice),
	}
}

type refundView struct {
	ID            string             `json:"id"`
	AppointmentID string             `json:"appointment_id"`
	Amount        int64              `json:"amount"`
	Method        model.RefundMethod `json:"method,omitempty"`
	Status        model.RefundStatus `json:"status"`
	Reason        string             `json:"reason,omitempty"`
	Note          string             `json:"note,omitempty"`
	ProcessedBy   string             `json:"processed_by,omitempty"`
	ProcessedAt   *time.Time         `json:"processed_at,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

func toRefundView(rf model.Refund) refundView {
	return refundView{
		ID:            rf.ID,
		AppointmentID: rf.AppointmentID,
		Amount:        rf.Amount,
		Method:        rf.Method,
		Status:        rf.Status,
		Reason:        rf.Reason,
		Note:          rf.Note,
		ProcessedBy:   rf.ProcessedBy,
		ProcessedAt:   rf.ProcessedAt,
		CreatedAt:     rf.CreatedAt,
	}
}

func optionalRefund(rf *model.Refund) *refundView {
	if rf == nil {
		return nil
	}
	v := toRefundView(*rf)
	return &v
}

type feedbackView struct {
	ID            string                 `json:"id"`
	AppointmentID string                 `json:"appointment_id"`
	DetailID      string                 `json:"detail_id"`
	ServiceID     string                 `json:"service_id"`
	Rating        int                    `json:"rating"`
	Comment       string                 `json:"comment,omitempty"`
	Status        model.ModerationStatus `json:"status"`
	ModeratedBy   string                 `json:"moderated_by,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

func toFeedbackView(f model.Feedback) feedbackView {
	return feedbackView{
		ID:            f.ID,
		AppointmentID: f.AppointmentID,
		DetailID:      f.DetailID,
		ServiceID:     f.ServiceID,
		Rating:        f.Rating,
		Comment:       f.Comment,
		Status:        f.Status,
		ModeratedBy:   f.ModeratedBy,
		CreatedAt:     f.CreatedAt,
	}
}

type cancelRequestView struct {
	ID            string                    `json:"id"`
	AppointmentID string                    `json:"appointment_id"`
	DoctorID      string                    `json:"doctor_id"`
	Reason        string                    `json:"reason"`
	Status        model.CancelRequestStatus `json:"status"`
	DecidedBy     string                    `json:"decided_by,omitempty"`
	DecidedAt     *time.Time                `json:"decided_at,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

func toCancelRequestView(cr model.DoctorCancelRequest) cancelRequestView {
	return cancelRequestView(cr)
}

type intentView struct {
	OrderCode     int64              `json:"order_code"`
	AppointmentID string             `json:"appointment_id"`
	Amount        int64              `json:"amount"`
	Currency      string             `json:"currency"`
	Provider      string             `json:"provider"`
	CheckoutRef   string             `json:"checkout_ref"`
	CheckoutURL   string             `json:"checkout_url"`
	Status        model.IntentStatus `json:"status"`
}

type discrepancyView struct {
	ID            int64     `json:"id"`
	OrderCode     int64     `json:"order_code"`
	AppointmentID string    `json:"appointment_id,omitempty"`
	Expected      int64     `json:"expected"`
	Received      int64     `json:"received"`
	Reason        string    `json:"reason"`
	Provider      string    `json:"provider"`
	ProviderRef   string    `json:"provider_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
