package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
)

// StripeGateway is the secondary processor. Unlike the Paystack hosted-page
// flow there is no redirect URL for a bare PaymentIntent; the client secret
// is returned as the access code and the frontend confirms the payment.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

func (g *StripeGateway) Initialize(ctx context.Context, email string, amountMinor int64, currency, reference, callbackURL string, metadata map[string]interface{}) (InitializeResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(amountMinor),
		Currency:     stripe.String(strings.ToLower(currency)),
		ReceiptEmail: stripe.String(email),
	}
	params.Context = ctx
	params.SetIdempotencyKey(reference)
	params.AddMetadata("reference", reference)
	for k, v := range metadata {
		params.AddMetadata(k, fmt.Sprintf("%v", v))
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return InitializeResult{}, wrapStripeErr(err)
	}
	return InitializeResult{
		Reference:  reference,
		AccessCode: pi.ClientSecret,
	}, nil
}

func (g *StripeGateway) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	params := &stripe.PaymentIntentSearchParams{
		SearchParams: stripe.SearchParams{
			Query:   fmt.Sprintf("metadata['reference']:'%s'", reference),
			Context: ctx,
		},
	}
	iter := g.api.PaymentIntents.Search(params)
	for iter.Next() {
		pi := iter.PaymentIntent()
		return VerifyResult{
			Success:       pi.Status == stripe.PaymentIntentStatusSucceeded,
			AmountMinor:   pi.Amount,
			Currency:      strings.ToUpper(string(pi.Currency)),
			ExternalID:    pi.ID,
			CustomerEmail: pi.ReceiptEmail,
			RawPayload:    pi.LastResponse.RawJSON,
		}, nil
	}
	if err := iter.Err(); err != nil {
		return VerifyResult{}, wrapStripeErr(err)
	}
	return VerifyResult{}, ErrReferenceNotFound
}

func (g *StripeGateway) ValidateSignature(rawBody []byte, signatureHeader string) bool {
	_, err := webhook.ConstructEvent(rawBody, signatureHeader, g.webhookSecret)
	return err == nil
}

// ParseWebhook verifies and decodes a Stripe webhook in one step.
func (g *StripeGateway) ParseWebhook(rawBody []byte, signatureHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(rawBody, signatureHeader, g.webhookSecret)
}

func wrapStripeErr(err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		if stripeErr.HTTPStatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrGatewayDeclined, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}
