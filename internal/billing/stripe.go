package billing

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
)

// SessionParams describes a subscription checkout session.
type SessionParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	TrialDays  int64
	Metadata   map[string]string
}

// Gateway is the subset of the Stripe API used by the service.
type Gateway interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateCheckoutSession(ctx context.Context, p SessionParams) (*CheckoutSession, error)
}

// StripeGateway calls Stripe with a per-instance client.
type StripeGateway struct {
	client *client.API
}

// NewStripeGateway creates a gateway for apiKey.
func NewStripeGateway(apiKey string) (*StripeGateway, error) {
	if apiKey == "" {
		return nil, errors.New("stripe API key is required")
	}
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeGateway{client: sc}, nil
}

// CreateCustomer creates a customer tagged with the user id.
func (g *StripeGateway) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata(MetaUserID, userID)

	c, err := g.client.Customers.New(params)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

// CreateCheckoutSession creates a subscription mode session.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p SessionParams) (*CheckoutSession, error) {
	sub := &stripe.CheckoutSessionSubscriptionDataParams{Metadata: p.Metadata}
	if p.TrialDays > 0 {
		sub.TrialPeriodDays = stripe.Int64(p.TrialDays)
	}

	params := &stripe.CheckoutSessionParams{
		Customer:           stripe.String(p.CustomerID),
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:          stripe.String(p.SuccessURL),
		CancelURL:           stripe.String(p.CancelURL),
		AllowPromotionCodes: stripe.Bool(true),
		SubscriptionData:    sub,
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	return &CheckoutSession{SessionID: sess.ID, URL: sess.URL}, nil
}
