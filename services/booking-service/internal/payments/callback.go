package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/model"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Callback is a gateway's report that an order was paid (or failed).
type Callback struct {
	Provider    string
	EventID     string
	OrderCode   int64
	Amount      int64
	Paid        bool
	ProviderRef string
	Payload     []byte
}

// Sign returns the hex HMAC-SHA256 of body, as sent in X-Signature.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the X-Signature header with the expected HMAC in constant time.
func VerifySignature(body []byte, header, secret string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(header))
	if err != nil || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

type callbackBody struct {
	EventID     string `json:"event_id"`
	OrderCode   int64  `json:"order_code"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
	ProviderRef string `json:"provider_ref"`
	Provider    string `json:"provider"`
}

// ParseCallback decodes the generic gateway callback body.
func ParseCallback(body []byte) (Callback, error) {
	var cb callbackBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return Callback{}, fmt.Errorf("%w: invalid callback json", model.ErrInvalidInput)
	}
	cb.EventID = strings.TrimSpace(cb.EventID)
	status := strings.ToLower(strings.TrimSpace(cb.Status))
	switch {
	case cb.EventID == "":
		return Callback{}, fmt.Errorf("%w: event_id is required", model.ErrInvalidInput)
	case cb.OrderCode <= 0:
		return Callback{}, fmt.Errorf("%w: order_code is required", model.ErrInvalidInput)
	case status != "paid" && status != "failed":
		return Callback{}, fmt.Errorf("%w: status must be paid or failed", model.ErrInvalidInput)
	case cb.Amount < 0:
		return Callback{}, fmt.Errorf("%w: amount must not be negative", model.ErrInvalidInput)
	}
	provider := strings.TrimSpace(cb.Provider)
	if provider == "" {
		provider = "callback"
	}
	return Callback{
		Provider:    provider,
		EventID:     cb.EventID,
		OrderCode:   cb.OrderCode,
		Amount:      cb.Amount,
		Paid:        status == "paid",
		ProviderRef: strings.TrimSpace(cb.ProviderRef),
		Payload:     body,
	}, nil
}

// ParseStripeEvent verifies a Stripe webhook and extracts a completed checkout.
// ok is false for verified events this service does not act on.
func ParseStripeEvent(body []byte, sigHeader, secret string, tolerance time.Duration) (cb Callback, ok bool, err error) {
	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, secret, tolerance)
	if err != nil {
		return Callback{}, false, fmt.Errorf("%w: invalid stripe signature", model.ErrInvalidInput)
	}
	switch string(evt.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
	default:
		return Callback{Provider: "stripe", EventID: evt.ID}, false, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &sess); err != nil {
		return Callback{}, false, fmt.Errorf("%w: invalid checkout session payload", model.ErrInvalidInput)
	}
	co := checkoutFromSession(&sess)
	if co.OrderCode <= 0 {
		return Callback{}, false, fmt.Errorf("%w: checkout session %s has no order_code", model.ErrInvalidInput, sess.ID)
	}
	paid := co.Paid
	if string(evt.Type) == "checkout.session.async_payment_failed" {
		paid = false
	} else if !paid && string(evt.Type) == "checkout.session.completed" {
		// Delayed payment methods complete the session before the money arrives.
		return Callback{Provider: "stripe", EventID: evt.ID}, false, nil
	}
	return Callback{
		Provider:    "stripe",
		EventID:     evt.ID,
		OrderCode:   co.OrderCode,
		Amount:      co.AmountPaid,
		Paid:        paid,
		ProviderRef: sess.ID,
		Payload:     body,
	}, true, nil
}
