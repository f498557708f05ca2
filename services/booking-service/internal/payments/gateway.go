// Package payments reconciles gateway money movements with appointment status.
// Gateway calls never run inside a database transaction; only intent metadata
// is persisted before and after them.
package payments

import (
	"context"
	"errors"
)

type CheckoutRequest struct {
	OrderCode     int64
	AppointmentID string
	Amount        int64
	Currency      string
	Description   string
}

// Checkout is the gateway's view of a hosted payment page.
type Checkout struct {
	Ref        string
	URL        string
	OrderCode  int64
	Paid       bool
	AmountPaid int64
}

type Gateway interface {
	Name() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	GetCheckout(ctx context.Context, ref string) (Checkout, error)
}

var ErrUnknownCheckout = errors.New("unknown checkout reference")
