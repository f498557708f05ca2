package payments

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// LocalGateway is an in-process gateway for development and tests. Checkouts
// are paid by calling Pay, or by posting a signed callback to the service.
type LocalGateway struct {
	mu        sync.Mutex
	baseURL   string
	checkouts map[string]Checkout
	amounts   map[string]int64
}

func NewLocalGateway(baseURL string) *LocalGateway {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "http://localhost:8083/pay"
	}
	return &LocalGateway{
		baseURL:   baseURL,
		checkouts: map[string]Checkout{},
		amounts:   map[string]int64{},
	}
}

func (g *LocalGateway) Name() string { return "local" }

func (g *LocalGateway) CreateCheckout(_ context.Context, req CheckoutRequest) (Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref := "local_" + strconv.FormatInt(req.OrderCode, 10)
	if co, ok := g.checkouts[ref]; ok {
		return co, nil
	}
	co := Checkout{
		Ref:       ref,
		URL:       g.baseURL + "?order_code=" + url.QueryEscape(strconv.FormatInt(req.OrderCode, 10)),
		OrderCode: req.OrderCode,
	}
	g.checkouts[ref] = co
	g.amounts[ref] = req.Amount
	return co, nil
}

func (g *LocalGateway) GetCheckout(_ context.Context, ref string) (Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	co, ok := g.checkouts[ref]
	if !ok {
		return Checkout{}, fmt.Errorf("%w: %s", ErrUnknownCheckout, ref)
	}
	return co, nil
}

// Pay marks the checkout paid with amount. A zero amount pays the requested amount.
func (g *LocalGateway) Pay(ref string, amount int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	co, ok := g.checkouts[ref]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCheckout, ref)
	}
	if amount == 0 {
		amount = g.amounts[ref]
	}
	co.Paid, co.AmountPaid = true, amount
	g.checkouts[ref] = co
	return nil
}
