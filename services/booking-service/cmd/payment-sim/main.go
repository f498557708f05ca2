// Command payment-sim posts a signed deposit confirmation to a running
// booking-service, either as the generic HMAC callback or as a Stripe
// checkout.session.completed webhook.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptremind/libs/config"
	"github.com/md-rashed-zaman/apptremind/services/booking-service/internal/payments"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

func main() {
	var (
		baseURL   = flag.String("base-url", config.String("BASE_URL", "http://localhost:8083"), "booking-service base url")
		mode      = flag.String("mode", config.String("SIM_MODE", "callback"), "callback or stripe")
		orderCode = flag.Int64("order-code", 0, "payment intent order code")
		amount    = flag.Int64("amount", 0, "amount paid in minor units")
		status    = flag.String("status", "paid", "paid or failed (callback mode)")
		eventID   = flag.String("event-id", "", "provider event id; random when empty")
		secret    = flag.String("secret", "", "signing secret; defaults to PAYMENT_CALLBACK_SECRET or STRIPE_WEBHOOK_SECRET")
	)
	flag.Parse()

	if *orderCode <= 0 {
		fatal("-order-code is required")
	}
	now := time.Now().UTC()
	if *eventID == "" {
		*eventID = fmt.Sprintf("evt_sim_%d", now.UnixNano())
	}

	var (
		path    string
		payload []byte
		headers = map[string]string{}
		err     error
	)
	switch *mode {
	case "callback":
		key := firstNonEmpty(*secret, config.String("PAYMENT_CALLBACK_SECRET", ""))
		if key == "" {
			fatal("PAYMENT_CALLBACK_SECRET is required")
		}
		path = "/api/v1/payments/callback"
		payload, err = json.Marshal(map[string]any{
			"event_id":     *eventID,
			"order_code":   *orderCode,
			"amount":       *amount,
			"status":       *status,
			"provider":     "sim",
			"provider_ref": "sim_" + strconv.FormatInt(*orderCode, 10),
		})
		if err != nil {
			fatal(err.Error())
		}
		headers["X-Signature"] = payments.Sign(payload, key)
	case "stripe":
		key := firstNonEmpty(*secret, config.String("STRIPE_WEBHOOK_SECRET", ""))
		if key == "" {
			fatal("STRIPE_WEBHOOK_SECRET is required")
		}
		path = "/api/v1/payments/webhooks/stripe"
		payload, err = checkoutCompletedEvent(*eventID, now, *orderCode, *amount)
		if err != nil {
			fatal(err.Error())
		}
		signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    key,
			Timestamp: now,
			Scheme:    "v1",
		})
		headers["Stripe-Signature"] = signed.Header
	default:
		fatal("unsupported mode: " + *mode)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(*baseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		fatal(err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatal(err.Error())
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("status=%d body=%s\n", resp.StatusCode, strings.TrimSpace(string(body)))
}

func checkoutCompletedEvent(eventID string, t time.Time, orderCode, amount int64) ([]byte, error) {
	code := strconv.FormatInt(orderCode, 10)
	return json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"created":     t.Unix(),
		"type":        "checkout.session.completed",
		"api_version": stripe.APIVersion,
		"data": map[string]any{
			"object": map[string]any{
				"id":                  "cs_sim_" + code,
				"object":              "checkout.session",
				"payment_status":      "paid",
				"amount_total":        amount,
				"client_reference_id": code,
				"metadata":            map[string]any{"order_code": code},
			},
		},
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
