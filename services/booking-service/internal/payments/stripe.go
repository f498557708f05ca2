package payments

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

type StripeConfig struct {
	SecretKey  string
	SuccessURL string
	CancelURL  string
}

// StripeGateway creates one-off payment-mode Checkout Sessions.
type StripeGateway struct {
	api        *client.API
	successURL string
	cancelURL  string
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	return &StripeGateway{
		api:        client.New(strings.TrimSpace(cfg.SecretKey), nil),
		successURL: strings.TrimSpace(cfg.SuccessURL),
		cancelURL:  strings.TrimSpace(cfg.CancelURL),
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	code := strconv.FormatInt(req.OrderCode, 10)
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(code),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"order_code":     code,
			"appointment_id": req.AppointmentID,
		},
	}
	params.Context = ctx
	// One session per order code, even if the request is retried.
	params.IdempotencyKey = stripe.String("deposit-" + code)

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("stripe checkout session create: %w", err)
	}
	return checkoutFromSession(sess), nil
}

func (g *StripeGateway) GetCheckout(ctx context.Context, ref string) (Checkout, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := g.api.CheckoutSessions.Get(ref, params)
	if err != nil {
		return Checkout{}, fmt.Errorf("stripe checkout session get: %w", err)
	}
	return checkoutFromSession(sess), nil
}

func checkoutFromSession(sess *stripe.CheckoutSession) Checkout {
	co := Checkout{
		Ref:        sess.ID,
		URL:        sess.URL,
		Paid:       sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		AmountPaid: sess.AmountTotal,
	}
	raw := sess.Metadata["order_code"]
	if raw == "" {
		raw = sess.ClientReferenceID
	}
	co.OrderCode, _ = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	return co
}
