// Package gatewaytest provides an in-memory payments.Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v84"
)

// Gateway records every call and serves checkout sessions from memory. It is
// safe for concurrent use.
type Gateway struct {
	mu sync.Mutex

	sessions map[string]*stripe.CheckoutSession
	seq      int

	Created  []*stripe.CheckoutSessionCreateParams
	Expired  []string
	Refunds  []*stripe.RefundCreateParams
	Accounts []string

	CreateErr   error
	RetrieveErr error
	ExpireErr   error
	RefundErr   error
	// RefundErrFor fails refunds for specific payment intents.
	RefundErrFor map[string]error
}

func New() *Gateway {
	return &Gateway{
		sessions:     map[string]*stripe.CheckoutSession{},
		RefundErrFor: map[string]error{},
	}
}

func (g *Gateway) CreateCheckoutSession(_ context.Context, account string, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Accounts = append(g.Accounts, account)
	g.Created = append(g.Created, params)
	if g.CreateErr != nil {
		return nil, g.CreateErr
	}

	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	session := &stripe.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.stripe.test/" + id,
		Status:        stripe.CheckoutSessionStatusOpen,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Metadata:      map[string]string{},
	}
	for k, v := range params.Metadata {
		session.Metadata[k] = v
	}
	for _, item := range params.LineItems {
		if item.PriceData != nil && item.PriceData.UnitAmount != nil {
			session.AmountTotal += *item.PriceData.UnitAmount
		}
		if item.PriceData != nil && item.PriceData.Currency != nil {
			session.Currency = stripe.Currency(*item.PriceData.Currency)
		}
	}
	g.sessions[id] = session
	return copySession(session), nil
}

func (g *Gateway) RetrieveCheckoutSession(_ context.Context, account, sessionID string) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Accounts = append(g.Accounts, account)
	if g.RetrieveErr != nil {
		return nil, g.RetrieveErr
	}
	session, ok := g.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}
	return copySession(session), nil
}

func (g *Gateway) ExpireCheckoutSession(_ context.Context, account, sessionID string) (*stripe.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Accounts = append(g.Accounts, account)
	g.Expired = append(g.Expired, sessionID)
	if g.ExpireErr != nil {
		return nil, g.ExpireErr
	}
	session, ok := g.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}
	session.Status = stripe.CheckoutSessionStatusExpired
	return copySession(session), nil
}

func (g *Gateway) CreateRefund(_ context.Context, account string, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Accounts = append(g.Accounts, account)
	g.Refunds = append(g.Refunds, params)
	if g.RefundErr != nil {
		return nil, g.RefundErr
	}
	if params.PaymentIntent != nil {
		if err := g.RefundErrFor[*params.PaymentIntent]; err != nil {
			return nil, err
		}
	}
	g.seq++
	refund := &stripe.Refund{
		ID:     fmt.Sprintf("re_test_%d", g.seq),
		Status: stripe.RefundStatusPending,
	}
	if params.Amount != nil {
		refund.Amount = *params.Amount
	}
	return refund, nil
}

// AddSession registers a session as if it had been created earlier.
func (g *Gateway) AddSession(session *stripe.CheckoutSession) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[session.ID] = copySession(session)
}

// Pay marks a session paid with the given payment intent.
func (g *Gateway) Pay(sessionID, paymentIntentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	session, ok := g.sessions[sessionID]
	if !ok {
		return
	}
	session.Status = stripe.CheckoutSessionStatusComplete
	session.PaymentStatus = stripe.CheckoutSessionPaymentStatusPaid
	session.PaymentIntent = &stripe.PaymentIntent{ID: paymentIntentID}
}

// Session returns a copy of a stored session.
func (g *Gateway) Session(sessionID string) *stripe.CheckoutSession {
	g.mu.Lock()
	defer g.mu.Unlock()
	if session, ok := g.sessions[sessionID]; ok {
		return copySession(session)
	}
	return nil
}

// RefundCount is the number of refund attempts seen.
func (g *Gateway) RefundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Refunds)
}

func copySession(s *stripe.CheckoutSession) *stripe.CheckoutSession {
	out := *s
	out.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		out.Metadata[k] = v
	}
	if s.PaymentIntent != nil {
		pi := *s.PaymentIntent
		out.PaymentIntent = &pi
	}
	return &out
}
