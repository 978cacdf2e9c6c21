package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Simoh8/eventpng-payments/models"
	"github.com/Simoh8/eventpng-payments/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// placeholderEmail is recorded on a lazily created order when the processor
// payload carries no customer email.
const placeholderEmail = "unknown@eventpng.local"

// SettleResult is the uniform shape returned by every settlement path.
// Downstream ticket issuance fires only when NewlySettled is true.
type SettleResult struct {
	Order        *models.Order
	Transaction  *models.Transaction
	NewlySettled bool
}

// OrderLedger owns the pending -> terminal transition for Order/Transaction
// pairs keyed by the external payment reference. A webhook and a verify poll
// can call SettleByReference concurrently for the same reference; the row
// lock plus the conditional update guarantee exactly one of them observes
// NewlySettled.
type OrderLedger struct {
	orders repository.OrderRepository
	logger *zap.Logger
}

func NewOrderLedger(orders repository.OrderRepository, logger *zap.Logger) *OrderLedger {
	return &OrderLedger{orders: orders, logger: logger}
}

// SettleByReference transitions the transaction identified by reference to
// succeeded. Three paths, one result shape:
//  1. already succeeded: idempotent no-op
//  2. pending: lock, conditionally flip to succeeded, mark the order paid
//  3. unknown reference: lazily create a paid order + succeeded transaction
//     from whatever the payload carries
func (l *OrderLedger) SettleByReference(ctx context.Context, reference string, amountMinor int64, currency, customerEmail string, rawPayload []byte) (SettleResult, error) {
	var result SettleResult

	err := l.orders.WithTx(ctx, func(tx repository.OrderRepository) error {
		txn, err := tx.GetTransactionByReferenceForUpdate(ctx, reference)
		if err == repository.ErrNotFound {
			return l.settleUnknownReference(ctx, tx, reference, amountMinor, currency, customerEmail, rawPayload, &result)
		}
		if err != nil {
			return err
		}

		order, err := tx.GetOrderByID(ctx, txn.OrderID)
		if err != nil {
			return err
		}

		if txn.Status != models.TransactionStatusPending {
			// Terminal already; the other trigger won the race or this is a
			// redundant retry.
			result = SettleResult{Order: order, Transaction: txn, NewlySettled: false}
			return nil
		}

		var externalID *string
		if id := extractExternalID(rawPayload); id != "" {
			externalID = &id
		}
		flipped, err := tx.MarkTransactionSucceeded(ctx, txn.ID, externalID, string(rawPayload))
		if err != nil {
			return err
		}
		if !flipped {
			current, err := tx.GetTransactionByReference(ctx, reference)
			if err != nil {
				return err
			}
			result = SettleResult{Order: order, Transaction: current, NewlySettled: false}
			return nil
		}

		now := time.Now()
		if err := tx.MarkOrderPaid(ctx, order.ID, now); err != nil {
			return err
		}
		order.Status = models.OrderStatusPaid
		order.PaidAt = &now
		txn.Status = models.TransactionStatusSucceeded
		txn.ExternalID = externalID
		raw := string(rawPayload)
		txn.RawPayload = &raw

		result = SettleResult{Order: order, Transaction: txn, NewlySettled: true}
		return nil
	})
	if err != nil {
		if !repository.IsDuplicateKey(err) {
			return SettleResult{}, err
		}
		// Lost the lazy-creation race: the other trigger committed its rows
		// between our locked read (which saw nothing) and our insert. The
		// reference is settled; re-read and report the no-op.
		txn, rerr := l.orders.GetTransactionByReference(ctx, reference)
		if rerr != nil {
			return SettleResult{}, rerr
		}
		order, rerr := l.orders.GetOrderByID(ctx, txn.OrderID)
		if rerr != nil {
			return SettleResult{}, rerr
		}
		return SettleResult{Order: order, Transaction: txn, NewlySettled: false}, nil
	}

	if result.NewlySettled {
		l.logger.Info("Payment reference settled",
			zap.String("reference", reference),
			zap.String("order_id", result.Order.ID.String()),
		)
	}
	return result, nil
}

// settleUnknownReference handles the "webhook arrived before our local order
// existed" case: one atomic unit creates a paid order and its succeeded
// transaction from the processor payload.
func (l *OrderLedger) settleUnknownReference(ctx context.Context, tx repository.OrderRepository, reference string, amountMinor int64, currency, customerEmail string, rawPayload []byte, result *SettleResult) error {
	email := customerEmail
	if email == "" {
		email = placeholderEmail
	}

	now := time.Now()
	order := &models.Order{
		ID:            uuid.New(),
		Reference:     reference,
		SubtotalMinor: amountMinor,
		TaxMinor:      0,
		TotalMinor:    amountMinor,
		Currency:      currency,
		Status:        models.OrderStatusPaid,
		BillingEmail:  email,
		PaidAt:        &now,
	}
	if err := tx.CreateOrder(ctx, order); err != nil {
		return err
	}

	var externalID *string
	if id := extractExternalID(rawPayload); id != "" {
		externalID = &id
	}
	raw := string(rawPayload)
	meta := metadataFromPayload(rawPayload)
	txn := &models.Transaction{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Type:        models.TransactionTypeCharge,
		AmountMinor: amountMinor,
		Currency:    currency,
		Status:      models.TransactionStatusSucceeded,
		Reference:   reference,
		ExternalID:  externalID,
		Metadata:    meta,
		RawPayload:  &raw,
	}
	if err := tx.CreateTransaction(ctx, txn); err != nil {
		return err
	}

	l.logger.Warn("Created order lazily from processor payload",
		zap.String("reference", reference),
		zap.String("billing_email", email),
	)
	*result = SettleResult{Order: order, Transaction: txn, NewlySettled: true}
	return nil
}

// MarkFailed records a failed charge. Only a pending transaction moves to
// failed; anything terminal is left untouched.
func (l *OrderLedger) MarkFailed(ctx context.Context, reference string, rawPayload []byte) error {
	return l.orders.WithTx(ctx, func(tx repository.OrderRepository) error {
		txn, err := tx.GetTransactionByReferenceForUpdate(ctx, reference)
		if err == repository.ErrNotFound {
			// Nothing local to fail; the reference was never initiated here.
			return nil
		}
		if err != nil {
			return err
		}
		if txn.Status != models.TransactionStatusPending {
			return nil
		}
		flipped, err := tx.MarkTransactionFailed(ctx, txn.ID, string(rawPayload))
		if err != nil {
			return err
		}
		if flipped {
			// The order fails with its only charge, in the same atomic unit.
			return tx.MarkOrderFailed(ctx, txn.OrderID)
		}
		return nil
	})
}

// extractExternalID pulls the processor transaction id out of a webhook or
// verify payload, tolerating both numeric and string ids.
func extractExternalID(rawPayload []byte) string {
	if len(rawPayload) == 0 {
		return ""
	}
	var probe struct {
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(rawPayload, &probe); err != nil {
		return ""
	}
	return probe.ID.String()
}

// metadataFromPayload lifts ticket line items out of a processor payload's
// metadata block, if present, so issuance can run for lazily created orders.
func metadataFromPayload(rawPayload []byte) *string {
	if len(rawPayload) == 0 {
		return nil
	}
	var probe struct {
		Metadata *models.TransactionMetadata `json:"metadata"`
	}
	if err := json.Unmarshal(rawPayload, &probe); err != nil || probe.Metadata == nil {
		return nil
	}
	if len(probe.Metadata.Items) == 0 {
		return nil
	}
	buf, err := json.Marshal(probe.Metadata)
	if err != nil {
		return nil
	}
	s := string(buf)
	return &s
}
