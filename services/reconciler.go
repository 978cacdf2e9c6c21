package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/Simoh8/eventpng-payments/models"
	"github.com/Simoh8/eventpng-payments/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Principal is the authenticated caller as this service sees it: an id and
// an email, nothing more.
type Principal struct {
	UserID uuid.UUID
	Email  string
}

// EventPublisher is the bus-side collaborator; kafka.PaymentEventProducer
// satisfies it.
type EventPublisher interface {
	SendPaymentEvent(event models.PaymentEvent) error
}

// ReferenceCache remembers terminally settled references so a verify poll can
// skip a redundant gateway round trip. Settlement is terminal, which makes
// the cache safe: a hit never changes what the database would say.
type ReferenceCache interface {
	IsSettled(ctx context.Context, reference string) bool
	MarkSettled(ctx context.Context, reference string)
}

type WebhookOutcome struct {
	Event         string
	Reference     string
	NewlySettled  bool
	TicketsIssued int
}

type VerifyStatus string

const (
	VerifyStatusSuccess VerifyStatus = "success"
	VerifyStatusPending VerifyStatus = "pending"
)

type VerifyOutcome struct {
	Status       VerifyStatus
	Order        *models.Order
	Transaction  *models.Transaction
	Purchases    []models.TicketPurchase
	NewlySettled bool
}

type CreatePaymentOutcome struct {
	PaymentURL string
	AccessCode string
	Reference  string
	OrderID    uuid.UUID
}

// paystackWebhookEnvelope is the processor's push payload.
type paystackWebhookEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type paystackWebhookData struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// Reconciler is the single entry point shared by the asynchronous webhook
// and the synchronous verify poll. Both funnel into OrderLedger, which
// guarantees at most one of them observes a fresh settlement; ticket
// issuance only ever follows that one observation.
type Reconciler struct {
	gateway       PaymentGateway
	ledger        *OrderLedger
	issuer        *TicketIssuer
	orders        repository.OrderRepository
	tickets       repository.TicketRepository
	cache         ReferenceCache
	publisher     EventPublisher
	logger        *zap.Logger
	callbackURL   string
	taxPercentage float64
}

type ReconcilerConfig struct {
	Gateway       PaymentGateway
	Ledger        *OrderLedger
	Issuer        *TicketIssuer
	Orders        repository.OrderRepository
	Tickets       repository.TicketRepository
	Cache         ReferenceCache
	Publisher     EventPublisher
	Logger        *zap.Logger
	CallbackURL   string
	TaxPercentage float64
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		gateway:       cfg.Gateway,
		ledger:        cfg.Ledger,
		issuer:        cfg.Issuer,
		orders:        cfg.Orders,
		tickets:       cfg.Tickets,
		cache:         cfg.Cache,
		publisher:     cfg.Publisher,
		logger:        cfg.Logger,
		callbackURL:   cfg.CallbackURL,
		taxPercentage: cfg.TaxPercentage,
	}
}

// HandleWebhook settles a processor push. An invalid signature returns
// ErrInvalidSignature with zero side effects; everything past the signature
// check is recovered internally so the HTTP layer can always acknowledge
// with 200 and the processor never retry-storms.
func (r *Reconciler) HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (WebhookOutcome, error) {
	if !r.gateway.ValidateSignature(rawBody, signatureHeader) {
		return WebhookOutcome{}, ErrInvalidSignature
	}

	var envelope paystackWebhookEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return WebhookOutcome{}, fmt.Errorf("decode webhook body: %w", err)
	}
	var data paystackWebhookData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return WebhookOutcome{}, fmt.Errorf("decode webhook data: %w", err)
	}

	outcome := WebhookOutcome{Event: envelope.Event, Reference: data.Reference}

	switch envelope.Event {
	case "charge.success":
		settled, issued, err := r.SettleConfirmed(ctx, data.Reference, data.Amount, strings.ToUpper(data.Currency), data.Customer.Email, envelope.Data)
		if err != nil {
			return outcome, err
		}
		outcome.NewlySettled = settled
		outcome.TicketsIssued = issued
	case "charge.failed":
		if err := r.FailCharge(ctx, data.Reference, data.Amount, strings.ToUpper(data.Currency), envelope.Data); err != nil {
			return outcome, err
		}
	default:
		r.logger.Info("Ignoring webhook event", zap.String("event", envelope.Event))
	}

	return outcome, nil
}

// SettleConfirmed records a processor-confirmed charge and, when this call
// is the one that flipped the transaction, issues its tickets. Both webhook
// flavors funnel through here.
func (r *Reconciler) SettleConfirmed(ctx context.Context, reference string, amountMinor int64, currency, customerEmail string, rawPayload []byte) (newlySettled bool, ticketsIssued int, err error) {
	settled, err := r.ledger.SettleByReference(ctx, reference, amountMinor, currency, customerEmail, rawPayload)
	if err != nil {
		return false, 0, err
	}
	if !settled.NewlySettled {
		return false, 0, nil
	}
	return true, r.issueAndPublish(ctx, settled), nil
}

// FailCharge records a processor-reported failure for a pending charge.
func (r *Reconciler) FailCharge(ctx context.Context, reference string, amountMinor int64, currency string, rawPayload []byte) error {
	if err := r.ledger.MarkFailed(ctx, reference, rawPayload); err != nil {
		return err
	}
	r.publish(models.PaymentEvent{
		Type:        "payment_failed",
		Reference:   reference,
		AmountMinor: amountMinor,
		Currency:    currency,
		Timestamp:   time.Now().UTC(),
	})
	return nil
}

// HandleVerifyPoll is the client-driven side of reconciliation. It covers
// the window where the webhook has not arrived yet: the gateway is asked
// directly and a confirmed charge settles through the exact same ledger path
// the webhook uses. A still-pending charge is reported as pending, never as
// a failure.
func (r *Reconciler) HandleVerifyPoll(ctx context.Context, reference string, principal Principal) (VerifyOutcome, error) {
	txn, err := r.orders.GetTransactionByReference(ctx, reference)
	if err != nil && err != repository.ErrNotFound {
		return VerifyOutcome{}, err
	}

	var order *models.Order
	if txn != nil {
		order, err = r.orders.GetOrderByID(ctx, txn.OrderID)
		if err != nil {
			return VerifyOutcome{}, err
		}
		if err := authorize(order, principal); err != nil {
			return VerifyOutcome{}, err
		}
		if txn.Status == models.TransactionStatusSucceeded {
			purchases, err := r.tickets.GetPurchasesByTransactionID(ctx, txn.ID)
			if err != nil {
				return VerifyOutcome{}, err
			}
			return VerifyOutcome{
				Status:      VerifyStatusSuccess,
				Order:       order,
				Transaction: txn,
				Purchases:   purchases,
			}, nil
		}
	}

	// Not settled locally. A cache hit means another trigger committed the
	// settlement a moment ago; skip the gateway and settle from local state.
	var verified VerifyResult
	if r.cache != nil && r.cache.IsSettled(ctx, reference) && txn != nil {
		verified = VerifyResult{
			Success:     true,
			AmountMinor: txn.AmountMinor,
			Currency:    txn.Currency,
		}
	} else {
		verified, err = r.gateway.Verify(ctx, reference)
		if err != nil {
			if errors.Is(err, ErrReferenceNotFound) && txn == nil {
				return VerifyOutcome{}, ErrReferenceNotFound
			}
			// Gateway trouble is not a verdict. Report pending and let the
			// client retry; the webhook may still settle meanwhile.
			r.logger.Warn("Gateway verify failed, reporting pending",
				zap.String("reference", reference),
				zap.Error(err),
			)
			return VerifyOutcome{Status: VerifyStatusPending, Order: order, Transaction: txn}, nil
		}
	}

	if !verified.Success {
		return VerifyOutcome{Status: VerifyStatusPending, Order: order, Transaction: txn}, nil
	}

	email := verified.CustomerEmail
	if email == "" {
		email = principal.Email
	}
	settled, err := r.ledger.SettleByReference(ctx, reference, verified.AmountMinor, verified.Currency, email, verified.RawPayload)
	if err != nil {
		return VerifyOutcome{}, err
	}
	if settled.NewlySettled {
		// Issuance and bus events follow the settlement no matter who asked.
		// NewlySettled fires once; if the poller turns out not to own the
		// order, authorization below gates only their response, never the
		// tickets.
		r.issueAndPublish(ctx, settled)
	}
	if settled.Transaction.Status != models.TransactionStatusSucceeded {
		// Locally terminal as failed; the processor's view does not reopen it.
		return VerifyOutcome{Status: VerifyStatusPending, Order: settled.Order, Transaction: settled.Transaction}, nil
	}

	// An order that only came into being through this settle call belongs to
	// the poller or has to match their email; anyone else gets nothing.
	if order == nil {
		if err := authorize(settled.Order, principal); err != nil {
			return VerifyOutcome{}, err
		}
	}

	outcome := VerifyOutcome{
		Status:       VerifyStatusSuccess,
		Order:        settled.Order,
		Transaction:  settled.Transaction,
		NewlySettled: settled.NewlySettled,
	}
	purchases, err := r.tickets.GetPurchasesByTransactionID(ctx, settled.Transaction.ID)
	if err != nil {
		return VerifyOutcome{}, err
	}
	outcome.Purchases = purchases
	return outcome, nil
}

// CreateTicketPayment opens a checkout: a pending order + transaction whose
// metadata carries the ticket line items, then a gateway initialize. A
// gateway failure propagates to the caller and leaves the order pending so a
// late webhook can still settle it.
func (r *Reconciler) CreateTicketPayment(ctx context.Context, principal Principal, eventID, ticketTypeID uuid.UUID, quantity int) (CreatePaymentOutcome, error) {
	if quantity < 1 {
		return CreatePaymentOutcome{}, fmt.Errorf("quantity must be at least 1")
	}

	et, err := r.tickets.GetEventTicket(ctx, ticketTypeID)
	if err != nil {
		return CreatePaymentOutcome{}, err
	}
	now := time.Now()
	if !et.Active ||
		et.EventID != eventID ||
		(et.SaleStartsAt != nil && now.Before(*et.SaleStartsAt)) ||
		(et.SaleEndsAt != nil && now.After(*et.SaleEndsAt)) {
		return CreatePaymentOutcome{}, ErrTicketUnavailable
	}
	if et.RemainingQuantity != nil && *et.RemainingQuantity < quantity {
		return CreatePaymentOutcome{}, ErrInsufficientInventory
	}

	subtotal := et.PriceMinor * int64(quantity)
	tax := int64(math.Round(float64(subtotal) * r.taxPercentage / 100))
	total := subtotal + tax

	reference, err := newReference()
	if err != nil {
		return CreatePaymentOutcome{}, err
	}

	meta := models.TransactionMetadata{
		Items: []models.TicketLineItem{{
			EventID:        eventID.String(),
			EventTicketID:  et.ID.String(),
			Quantity:       quantity,
			UnitPriceMinor: et.PriceMinor,
			Currency:       et.Currency,
		}},
		CustomerEmail: principal.Email,
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return CreatePaymentOutcome{}, err
	}
	metaStr := string(metaJSON)

	userID := principal.UserID
	order := &models.Order{
		ID:            uuid.New(),
		UserID:        &userID,
		Reference:     reference,
		SubtotalMinor: subtotal,
		TaxMinor:      tax,
		TotalMinor:    total,
		Currency:      et.Currency,
		Status:        models.OrderStatusPending,
		BillingEmail:  principal.Email,
	}
	txn := &models.Transaction{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Type:        models.TransactionTypeCharge,
		AmountMinor: total,
		Currency:    et.Currency,
		Status:      models.TransactionStatusPending,
		Reference:   reference,
		Metadata:    &metaStr,
	}

	err = r.orders.WithTx(ctx, func(tx repository.OrderRepository) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		return tx.CreateTransaction(ctx, txn)
	})
	if err != nil {
		return CreatePaymentOutcome{}, err
	}

	gatewayMeta := map[string]interface{}{
		"order_id":       order.ID.String(),
		"items":          meta.Items,
		"customer_email": principal.Email,
	}
	init, err := r.gateway.Initialize(ctx, principal.Email, total, et.Currency, reference, r.callbackURL, gatewayMeta)
	if err != nil {
		// The order stays pending on purpose: if the charge actually went
		// through on the processor side, the webhook can still settle it.
		r.logger.Error("Gateway initialize failed",
			zap.String("reference", reference),
			zap.Error(err),
		)
		return CreatePaymentOutcome{}, err
	}

	return CreatePaymentOutcome{
		PaymentURL: init.AuthorizationURL,
		AccessCode: init.AccessCode,
		Reference:  reference,
		OrderID:    order.ID,
	}, nil
}

// CancelTicket is the explicit post-hoc cancellation path. Only the owner of
// the purchase's order may cancel.
func (r *Reconciler) CancelTicket(ctx context.Context, principal Principal, purchaseID uuid.UUID, refundMinor *int64) (bool, error) {
	purchase, err := r.tickets.GetPurchaseByID(ctx, purchaseID)
	if err != nil {
		return false, err
	}
	order, err := r.orders.GetOrderByID(ctx, purchase.OrderID)
	if err != nil {
		return false, err
	}
	if err := authorize(order, principal); err != nil {
		return false, err
	}

	cancelled, err := r.issuer.Cancel(ctx, purchaseID, refundMinor)
	if err != nil {
		return false, err
	}
	if cancelled {
		r.publish(models.PaymentEvent{
			Type:          "ticket_cancelled",
			OrderID:       order.ID.String(),
			Reference:     order.Reference,
			AmountMinor:   purchase.PriceMinor,
			Currency:      purchase.Currency,
			TicketCount:   1,
			Timestamp:     time.Now().UTC(),
			TransactionID: purchase.TransactionID.String(),
		})
	}
	return cancelled, nil
}

// issueAndPublish runs ticket issuance for a fresh settlement and fans out
// bus events. Issuance problems are logged and swallowed: the payment is
// already committed and must stay settled.
func (r *Reconciler) issueAndPublish(ctx context.Context, settled SettleResult) int {
	if r.cache != nil {
		r.cache.MarkSettled(ctx, settled.Transaction.Reference)
	}

	userID := ""
	if settled.Order.UserID != nil {
		userID = settled.Order.UserID.String()
	}
	r.publish(models.PaymentEvent{
		Type:          "payment_succeeded",
		OrderID:       settled.Order.ID.String(),
		UserID:        userID,
		TransactionID: settled.Transaction.ID.String(),
		Reference:     settled.Transaction.Reference,
		AmountMinor:   settled.Transaction.AmountMinor,
		Currency:      settled.Transaction.Currency,
		Timestamp:     time.Now().UTC(),
	})

	issued, err := r.issuer.IssueFor(ctx, settled.Order, settled.Transaction)
	if err != nil {
		r.logger.Error("Ticket issuance failed after settlement",
			zap.String("reference", settled.Transaction.Reference),
			zap.Error(err),
		)
		return 0
	}
	for _, skipped := range issued.Skipped {
		r.logger.Warn("Line item skipped during issuance",
			zap.String("event_ticket_id", skipped.Item.EventTicketID),
			zap.Error(skipped.Reason),
		)
	}
	if len(issued.Purchases) > 0 {
		r.publish(models.PaymentEvent{
			Type:          "ticket_issued",
			OrderID:       settled.Order.ID.String(),
			UserID:        userID,
			TransactionID: settled.Transaction.ID.String(),
			Reference:     settled.Transaction.Reference,
			AmountMinor:   settled.Transaction.AmountMinor,
			Currency:      settled.Transaction.Currency,
			TicketCount:   len(issued.Purchases),
			Timestamp:     time.Now().UTC(),
		})
	}
	return len(issued.Purchases)
}

func (r *Reconciler) publish(event models.PaymentEvent) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.SendPaymentEvent(event); err != nil {
		r.logger.Warn("Failed to publish payment event",
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
	}
}

func authorize(order *models.Order, principal Principal) error {
	if order.UserID != nil && *order.UserID == principal.UserID {
		return nil
	}
	if order.BillingEmail != "" && strings.EqualFold(order.BillingEmail, principal.Email) {
		return nil
	}
	return ErrUnauthorized
}

// newReference mints an opaque checkout reference like "TKT-9F2C41D0A7B3".
func newReference() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "TKT-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}
