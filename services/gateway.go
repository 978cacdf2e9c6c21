package services

import "context"

// InitializeResult is the redirect handle returned by a processor when a
// charge is opened.
type InitializeResult struct {
	AuthorizationURL string
	Reference        string
	AccessCode       string
}

// VerifyResult is the processor's view of one reference. Verify is
// processor-side idempotent: calling it repeatedly is always safe.
type VerifyResult struct {
	Success       bool
	AmountMinor   int64
	Currency      string
	ExternalID    string
	CustomerEmail string
	RawPayload    []byte
}

// PaymentGateway abstracts the external processor. Implementations must use a
// bounded HTTP timeout and report transport/5xx failures as
// ErrGatewayUnavailable so a pending order is never silently failed.
type PaymentGateway interface {
	Initialize(ctx context.Context, email string, amountMinor int64, currency, reference, callbackURL string, metadata map[string]interface{}) (InitializeResult, error)
	Verify(ctx context.Context, reference string) (VerifyResult, error)
	// ValidateSignature must compare in constant time.
	ValidateSignature(rawBody []byte, signatureHeader string) bool
}
