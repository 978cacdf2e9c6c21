package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultPaystackBaseURL = "https://api.paystack.co"

// PaystackGateway talks to the Paystack REST API. Construct one per process
// with NewPaystackGateway and inject it; there is no package-level state.
type PaystackGateway struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	client        *http.Client
}

func NewPaystackGateway(secretKey, webhookSecret, baseURL string, timeout time.Duration) *PaystackGateway {
	if baseURL == "" {
		baseURL = defaultPaystackBaseURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PaystackGateway{
		baseURL:       strings.TrimRight(baseURL, "/"),
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: timeout},
	}
}

type paystackInitializeRequest struct {
	Email       string                 `json:"email"`
	Amount      int64                  `json:"amount"`
	Currency    string                 `json:"currency,omitempty"`
	Reference   string                 `json:"reference"`
	CallbackURL string                 `json:"callback_url,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackInitializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type paystackVerifyData struct {
	ID       int64  `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
}

func (g *PaystackGateway) Initialize(ctx context.Context, email string, amountMinor int64, currency, reference, callbackURL string, metadata map[string]interface{}) (InitializeResult, error) {
	body := paystackInitializeRequest{
		Email:       email,
		Amount:      amountMinor,
		Currency:    strings.ToUpper(currency),
		Reference:   reference,
		CallbackURL: callbackURL,
		Metadata:    metadata,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return InitializeResult{}, err
	}

	raw, err := g.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(payload))
	if err != nil {
		return InitializeResult{}, err
	}

	var data paystackInitializeData
	if err := json.Unmarshal(raw, &data); err != nil {
		return InitializeResult{}, fmt.Errorf("decode initialize response: %w", err)
	}
	return InitializeResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

func (g *PaystackGateway) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	raw, err := g.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return VerifyResult{}, err
	}

	var data paystackVerifyData
	if err := json.Unmarshal(raw, &data); err != nil {
		return VerifyResult{}, fmt.Errorf("decode verify response: %w", err)
	}
	return VerifyResult{
		Success:       data.Status == "success",
		AmountMinor:   data.Amount,
		Currency:      strings.ToUpper(data.Currency),
		ExternalID:    fmt.Sprintf("%d", data.ID),
		CustomerEmail: data.Customer.Email,
		RawPayload:    raw,
	}, nil
}

// ValidateSignature checks the X-Paystack-Signature header: HMAC-SHA512 of
// the raw body keyed with the webhook secret, hex encoded. hmac.Equal keeps
// the comparison constant time.
func (g *PaystackGateway) ValidateSignature(rawBody []byte, signatureHeader string) bool {
	if signatureHeader == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(g.webhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signatureHeader)))
}

func (g *PaystackGateway) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: paystack returned %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrReferenceNotFound, raw)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("%w: paystack returned %d: %s", ErrGatewayDeclined, resp.StatusCode, raw)
	}

	var envelope paystackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decode paystack response: %w", err)
	}
	if !envelope.Status {
		return nil, fmt.Errorf("%w: %s", ErrGatewayDeclined, envelope.Message)
	}
	return envelope.Data, nil
}
