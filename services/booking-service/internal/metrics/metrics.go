package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BookingMetrics counts lifecycle and payment outcomes. A nil *BookingMetrics is a no-op.
type BookingMetrics struct {
	transitions    *prometheus.CounterVec
	slotConflicts  *prometheus.CounterVec
	callbacks      *prometheus.CounterVec
	refunds        *prometheus.CounterVec
	feedback       *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptremind",
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Appointment status transitions by outcome",
		}, []string{"from", "to", "result"}),
		slotConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptremind",
			Subsystem: "booking",
			Name:      "slot_conflicts_total",
			Help:      "Bookings or confirmations rejected for overlapping a practitioner's slot",
		}, []string{"stage"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptremind",
			Subsystem: "payments",
			Name:      "callbacks_total",
			Help:      "Payment gateway callbacks by provider and result",
		}, []string{"provider", "result"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptremind",
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Refunds opened and processed",
		}, []string{"status"}),
		feedback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apptremind",
			Subsystem: "booking",
			Name:      "feedback_submissions_total",
			Help:      "Feedback submissions by result",
		}, []string{"result"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "apptremind",
			Subsystem: "payments",
			Name:      "gateway_request_seconds",
			Help:      "Latency of outbound payment gateway calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitions, m.slotConflicts, m.callbacks, m.refunds, m.feedback, m.gatewayLatency)
	return m
}

func (m *BookingMetrics) ObserveTransition(from, to, result string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, result).Inc()
}

func (m *BookingMetrics) ObserveSlotConflict(stage string) {
	if m == nil {
		return
	}
	m.slotConflicts.WithLabelValues(stage).Inc()
}

func (m *BookingMetrics) ObserveCallback(provider, result string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(provider, result).Inc()
}

func (m *BookingMetrics) ObserveRefund(status string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveFeedback(result string) {
	if m == nil {
		return
	}
	m.feedback.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveGateway(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayLatency.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}
