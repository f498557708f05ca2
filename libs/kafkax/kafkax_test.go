package kafkax

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestSplitBrokers(t *testing.T) {
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, SplitBrokers(" kafka-1:9092, ,kafka-2:9092 "))
	assert.Nil(t, SplitBrokers(""))
}

func TestInjectTraceHeadersKeepsEventHeaders(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), propagation.MapCarrier{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	})

	headers := InjectTraceHeaders(ctx, EventHeaders("evt-1", "booking.appointment.booked.v1"))
	assert.Equal(t, "evt-1", HeaderValue(headers, HeaderEventID))
	assert.Equal(t, "booking.appointment.booked.v1", HeaderValue(headers, HeaderEventType))
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", HeaderValue(headers, "traceparent"))
}
